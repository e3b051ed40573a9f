package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "sevcal/internal/log"
	"sevcal/internal/metrics"
)

// GroupPrefix marks blackout groups owned by a feed.
const GroupPrefix = "feed-"

// Sink receives the dates of a feed. *calendar.Calendar implements it.
type Sink interface {
	SyncBlackoutFeed(ctx context.Context, groupID, title string, dates []string) error
}

// Refresher keeps one blackout group per feed in sync with the feed.
type Refresher struct {
	fetcher *Fetcher
	sink    Sink
	sources []Source
	horizon int
	loc     *time.Location
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// RefresherConfig configures NewRefresher.
type RefresherConfig struct {
	Sources     []Source
	HorizonDays int
	Location    *time.Location
	Metrics     *metrics.Metrics
}

func NewRefresher(f *Fetcher, sink Sink, cfg RefresherConfig) *Refresher {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 366
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Refresher{
		fetcher: f,
		sink:    sink,
		sources: cfg.Sources,
		horizon: cfg.HorizonDays,
		loc:     cfg.Location,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// GroupID is the blackout group id used for a feed.
func GroupID(feedID string) string {
	return GroupPrefix + feedID
}

// RefreshAll refreshes every feed and joins the errors of those that
// failed. A failing feed keeps its previous dates.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, src := range r.sources {
		if err := r.Refresh(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh fetches one feed, expands it from today to the horizon and
// stores the dates in the feed's blackout group.
func (r *Refresher) Refresh(ctx context.Context, src Source) (err error) {
	defer func() { r.metrics.FeedRefresh(err) }()

	res, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		appLog.Error("ics refresh: fetch failed", err, "feed", src.ID)
		return err
	}
	events, err := ParseFeed(src, res.Body)
	if err != nil {
		return err
	}

	now := r.now().In(r.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	dates, err := ExpandDates(events, ExpandConfig{
		Location: r.loc,
		From:     from,
		To:       from.AddDate(0, 0, r.horizon),
	})
	if err != nil {
		return err
	}

	title := strings.TrimSpace(src.Name)
	if title == "" {
		title = src.ID
	}
	if err := r.sink.SyncBlackoutFeed(ctx, GroupID(src.ID), title, dates); err != nil {
		return err
	}
	appLog.Info("ics refresh done", "feed", src.ID, "dates", len(dates), "from_cache", res.FromCache)
	return nil
}

// Start runs RefreshAll once and then on schedule.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("refresher already started")
	}
	if len(r.sources) == 0 {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := r.RefreshAll(ctx); err != nil {
			appLog.Error("ics refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid feed schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c

	go func() {
		if err := r.RefreshAll(ctx); err != nil {
			appLog.Error("ics initial refresh failed", err)
		}
	}()
	appLog.Info("ics refresher started", "feeds", len(r.sources), "schedule", schedule)
	return nil
}

// Stop waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

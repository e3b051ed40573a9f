// Package cloudsync periodically asks a shared store whether another writer
// changed the calendar and hands such changes to the calendar.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	appLog "sevcal/internal/log"
	"sevcal/internal/metrics"
	"sevcal/internal/store"
)

// DefaultSchedule polls every two minutes.
const DefaultSchedule = "*/2 * * * *"

// Poll results, also used as metric labels.
const (
	ResultChecked = "checked"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

// Applier receives external payloads. *calendar.Calendar implements it.
type Applier interface {
	ApplyExternal(p store.Payload)
}

// Poller runs Watcher.Poll on a cron schedule. A poll that is still running
// when the next one is due causes the next one to be skipped.
type Poller struct {
	watcher  store.Watcher
	schedule string
	timeout  time.Duration
	metrics  *metrics.Metrics

	cron     *cron.Cron
	inFlight atomic.Bool
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// New wires w's external changes to target and returns a stopped poller.
func New(w store.Watcher, target Applier, schedule string, m *metrics.Metrics) *Poller {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	w.OnExternalChange(func(p store.Payload) {
		m.SyncPoll("changed")
		target.ApplyExternal(p)
	})
	return &Poller{
		watcher:  w,
		schedule: schedule,
		timeout:  30 * time.Second,
		metrics:  m,
	}
}

// Start schedules the polls. It returns an error for an invalid schedule.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("poller already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.PollOnce(p.ctx) }); err != nil {
		p.cancel()
		return fmt.Errorf("invalid sync schedule %q: %w", p.schedule, err)
	}
	c.Start()
	p.cron = c
	appLog.Info("cloud sync poller started", "schedule", p.schedule)
	return nil
}

// Stop cancels a running poll and waits for it to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	appLog.Info("cloud sync poller stopped")
}

// PollOnce runs one poll unless another one is in flight and reports what
// happened.
func (p *Poller) PollOnce(ctx context.Context) string {
	if !p.inFlight.CompareAndSwap(false, true) {
		appLog.Debug("cloud sync: poll already in flight, skipping")
		p.metrics.SyncPoll(ResultSkipped)
		return ResultSkipped
	}
	defer p.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.watcher.Poll(ctx); err != nil {
		appLog.Error("cloud sync: poll failed", err)
		p.metrics.SyncPoll(ResultError)
		return ResultError
	}
	p.metrics.SyncPoll(ResultChecked)
	return ResultChecked
}

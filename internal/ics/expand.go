package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "sevcal/internal/log"
)

const defaultMaxOccurrencesPerEvent = 2000

// ExpandConfig controls how feed events are turned into dates.
type ExpandConfig struct {
	// Location decides which calendar day an instant falls on. Nil means
	// time.Local.
	Location *time.Location

	// From / To bound the expansion. Occurrences overlapping the window
	// contribute only the days inside it.
	From time.Time
	To   time.Time

	// MaxOccurrencesPerEvent caps recurring expansions. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

type span struct {
	start, end time.Time
	allDay     bool
}

// ExpandDates returns the sorted, unique YYYY-MM-DD days covered by events
// inside the window. Recurrences honor EXDATE and RECURRENCE-ID overrides;
// cancelled instances are left out.
func ExpandDates(events []FeedEvent, cfg ExpandConfig) ([]string, error) {
	if cfg.To.Before(cfg.From) {
		return nil, errors.New("expand: window end is before start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	base := make(map[string][]FeedEvent)
	overrides := make(map[string][]FeedEvent)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			base[ev.UID] = append(base[ev.UID], ev)
		}
	}

	days := make(map[string]struct{})
	for uid, evs := range base {
		for _, ev := range evs {
			for _, sp := range occurrences(ev, overrides[uid], cfg) {
				addDays(days, sp, cfg)
			}
		}
	}
	// An override whose base event is missing still marks its own day.
	for uid, ovs := range overrides {
		if _, ok := base[uid]; ok {
			continue
		}
		for _, ov := range ovs {
			if !ov.Cancelled {
				addDays(days, span{ov.Start, ov.End, ov.AllDay}, cfg)
			}
		}
	}

	out := make([]string, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func occurrences(ev FeedEvent, overrides []FeedEvent, cfg ExpandConfig) []span {
	if ev.Cancelled {
		return nil
	}
	if ev.RawRRule == "" {
		return []span{applyOverride(span{ev.Start, ev.End, ev.AllDay}, overrides)}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the lower bound by one duration so instances that started
	// before the window but still overlap it are found.
	starts := set.Between(cfg.From.Add(-dur).In(ev.Start.Location()), cfg.To.In(ev.Start.Location()), true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: occurrences truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}

	out := make([]span, 0, len(starts))
	for _, s := range starts {
		sp := applyOverride(span{s, s.Add(dur), ev.AllDay}, overrides)
		if !sp.start.IsZero() {
			out = append(out, sp)
		}
	}
	return out
}

// applyOverride swaps in the override whose RECURRENCE-ID equals the
// instance start. A cancelled override yields a zero span.
func applyOverride(sp span, overrides []FeedEvent) span {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		rid := *ov.Recurrence
		same := rid.Equal(sp.start)
		if sp.allDay {
			same = sameDay(rid, sp.start)
		}
		if !same {
			continue
		}
		if ov.Cancelled {
			return span{}
		}
		return span{ov.Start, ov.End, ov.AllDay}
	}
	return sp
}

// addDays marks every calendar day the span touches inside the window.
// All-day spans are date based and end exclusively; timed spans are
// converted to cfg.Location first.
func addDays(days map[string]struct{}, sp span, cfg ExpandConfig) {
	if sp.start.IsZero() {
		return
	}
	var first, last time.Time
	if sp.allDay {
		first = dateOf(sp.start, cfg.Location)
		last = dateOf(sp.end, cfg.Location).AddDate(0, 0, -1)
	} else {
		first = dateOf(sp.start.In(cfg.Location), cfg.Location)
		end := sp.end.In(cfg.Location)
		if end.After(sp.start) {
			end = end.Add(-time.Nanosecond)
		}
		last = dateOf(end, cfg.Location)
	}
	if last.Before(first) {
		last = first
	}
	lo := dateOf(cfg.From.In(cfg.Location), cfg.Location)
	hi := dateOf(cfg.To.In(cfg.Location), cfg.Location)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if d.Before(lo) || d.After(hi) {
			continue
		}
		days[d.Format(time.DateOnly)] = struct{}{}
	}
}

// dateOf keeps the wall-clock date of t and drops the time of day.
func dateOf(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Package recur expands recurrence rules into lists of ISO dates for the
// multi-date event form.
package recur

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultLimit caps every expansion; a larger or missing limit is
// clamped to it.
const DefaultLimit = 366

// Dates expands rule (an RRULE body such as "FREQ=WEEKLY;BYDAY=FR;COUNT=4",
// with or without the "RRULE:" prefix) starting on start (YYYY-MM-DD). At
// most limit dates, and never more than DefaultLimit, are returned.
func Dates(rule, start string, limit int) ([]string, error) {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if rule == "" {
		return nil, errors.New("recurrence rule is empty")
	}
	dtstart, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return nil, fmt.Errorf("recurrence start %q: %w", start, err)
	}
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}

	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence rule: %w", err)
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	out := make([]string, 0)
	next := r.Iterator()
	for len(out) < limit {
		t, ok := next()
		if !ok {
			break
		}
		out = append(out, t.Format(time.DateOnly))
	}
	return out, nil
}

// Package index derives per-day lookups from a CalendarState. An Index is
// rebuilt from scratch after every mutation and never updated in place.
package index

import (
	"sort"

	"sevcal/internal/model"
)

// Entry is a DateEntry together with the event that owns it.
type Entry struct {
	EventID string          `json:"eventId"`
	Title   string          `json:"title"`
	Entry   model.DateEntry `json:"entry"`
}

// Index answers day queries in constant time.
type Index struct {
	EventsByDate    map[string][]Entry
	BlackoutDates   map[string]struct{}
	blackoutsByDate map[string][]string
}

// Build derives an Index from state. Entries for a date keep the order of
// state.Events and then the order of each event's dates.
func Build(state model.CalendarState) *Index {
	idx := &Index{
		EventsByDate:    make(map[string][]Entry),
		BlackoutDates:   make(map[string]struct{}),
		blackoutsByDate: make(map[string][]string),
	}
	for _, ev := range state.Events {
		for _, entry := range ev.Dates {
			idx.EventsByDate[entry.Date] = append(idx.EventsByDate[entry.Date], Entry{
				EventID: ev.ID,
				Title:   ev.Title,
				Entry:   entry,
			})
		}
	}
	for _, g := range state.Blackouts {
		for _, d := range g.Dates {
			idx.BlackoutDates[d] = struct{}{}
			ids := idx.blackoutsByDate[d]
			if len(ids) > 0 && ids[len(ids)-1] == g.ID {
				continue
			}
			idx.blackoutsByDate[d] = append(ids, g.ID)
		}
	}
	return idx
}

// On returns the entries placed on date.
func (idx *Index) On(date string) []Entry {
	return idx.EventsByDate[date]
}

// IsBlackout reports whether any blackout group contains date.
func (idx *Index) IsBlackout(date string) bool {
	_, ok := idx.BlackoutDates[date]
	return ok
}

// BlackoutGroups returns the ids of the groups containing date, in state
// order. Displays use the first one.
func (idx *Index) BlackoutGroups(date string) []string {
	return idx.blackoutsByDate[date]
}

// Dates returns every date that has at least one entry, sorted.
func (idx *Index) Dates() []string {
	out := make([]string, 0, len(idx.EventsByDate))
	for d := range idx.EventsByDate {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Range returns the dates in [from, to] that carry entries or blackouts,
// sorted. Empty bounds are open.
func (idx *Index) Range(from, to string) []string {
	seen := make(map[string]struct{})
	in := func(d string) bool {
		return (from == "" || d >= from) && (to == "" || d <= to)
	}
	for d := range idx.EventsByDate {
		if in(d) {
			seen[d] = struct{}{}
		}
	}
	for d := range idx.BlackoutDates {
		if in(d) {
			seen[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

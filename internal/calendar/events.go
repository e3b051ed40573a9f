package calendar

import (
	"context"

	"sevcal/internal/model"
	"sevcal/internal/normalize"
)

// EventForm is the input of the event editor: one title and one role/status
// template applied to every selected date.
type EventForm struct {
	Title           string       `json:"title"`
	Vendor          bool         `json:"vendor"`
	Performer       bool         `json:"performer"`
	StatusVendor    model.Status `json:"statusVendor"`
	StatusPerformer model.Status `json:"statusPerformer"`
}

// SaveResult is returned by AddOrUpdateEvent.
type SaveResult struct {
	Event model.Event `json:"event"`
	// BlockedDates lists target dates that fall on a blackout. They are
	// saved anyway; callers use the list to warn.
	BlockedDates []string `json:"blockedDates"`
}

// AddOrUpdateEvent builds one entry per target date from the form template
// and appends a new event, or replaces title and dates of existingID.
func (c *Calendar) AddOrUpdateEvent(ctx context.Context, form EventForm, targetDates []string, existingID string) (SaveResult, error) {
	dates := make([]string, 0, len(targetDates))
	for _, d := range targetDates {
		if normalize.IsISODate(d) {
			dates = append(dates, d)
		}
	}
	dates = normalize.SortedDates(dates)
	if len(dates) == 0 {
		c.metrics.Mutation("save_event", ErrNoSelection)
		return SaveResult{}, ErrNoSelection
	}

	typ := model.DeriveType(form.Vendor, form.Performer)
	template, _ := normalize.Entry(dates[0], string(typ), string(form.StatusVendor), string(form.StatusPerformer), nil)
	entries := make([]model.DateEntry, len(dates))
	for i, d := range dates {
		e := template
		e.Date = d
		entries[i] = e
	}

	var res SaveResult
	err := c.mutate(ctx, "save_event", func(st *model.CalendarState) error {
		title := normalize.Title(form.Title)
		var ev model.Event
		if existingID != "" {
			i := st.FindEvent(existingID)
			if i < 0 {
				return ErrEventNotFound
			}
			st.Events[i].Title = title
			st.Events[i].Dates = entries
			ev = st.Events[i]
		} else {
			ev = model.Event{ID: c.newID(), Title: title, Dates: entries}
			st.Events = append(st.Events, ev)
		}

		if template.HasConfirmed() {
			for _, d := range dates {
				enforceSingleConfirmed(st, d, ev.ID)
			}
		}

		blocked := []string{}
		for _, d := range dates {
			for _, g := range st.Blackouts {
				if g.HasDate(d) {
					blocked = append(blocked, d)
					break
				}
			}
		}
		res = SaveResult{Event: ev.Clone(), BlockedDates: blocked}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

// RemoveEvent deletes the event with id. Unknown ids are ignored.
func (c *Calendar) RemoveEvent(ctx context.Context, id string) error {
	return c.mutate(ctx, "remove_event", func(st *model.CalendarState) error {
		i := st.FindEvent(id)
		if i < 0 {
			return errUnchanged
		}
		st.Events = append(st.Events[:i], st.Events[i+1:]...)
		return nil
	})
}

// UpdateEntry replaces the entry of eventID on date with fn's result. The
// date cannot be changed by fn and invalid type or status values keep their
// previous value. A confirmed status demotes confirmed entries of other
// events on the same date.
func (c *Calendar) UpdateEntry(ctx context.Context, eventID, date string, fn func(model.DateEntry) model.DateEntry) error {
	return c.mutate(ctx, "update_entry", func(st *model.CalendarState) error {
		i := st.FindEvent(eventID)
		if i < 0 {
			return ErrEntryNotFound
		}
		found := false
		var updated model.DateEntry
		for j, entry := range st.Events[i].Dates {
			if entry.Date != date {
				continue
			}
			next := fn(entry)
			next.Date = entry.Date
			if !next.Type.Valid() {
				next.Type = entry.Type
			}
			next.StatusVendor = normalize.Status(string(next.StatusVendor), entry.StatusVendor)
			next.StatusPerformer = normalize.Status(string(next.StatusPerformer), entry.StatusPerformer)
			st.Events[i].Dates[j] = next
			updated = next
			found = true
		}
		if !found {
			return ErrEntryNotFound
		}
		if updated.HasConfirmed() {
			enforceSingleConfirmed(st, date, eventID)
		}
		return nil
	})
}

// RemoveDateEntry removes one date from an event and drops the event when
// it has no dates left.
func (c *Calendar) RemoveDateEntry(ctx context.Context, eventID, date string) error {
	return c.mutate(ctx, "remove_date_entry", func(st *model.CalendarState) error {
		i := st.FindEvent(eventID)
		if i < 0 || !st.Events[i].HasDate(date) {
			return ErrEntryNotFound
		}
		kept := st.Events[i].Dates[:0]
		for _, entry := range st.Events[i].Dates {
			if entry.Date != date {
				kept = append(kept, entry)
			}
		}
		st.Events[i].Dates = kept
		st.Events = pruneEmptyEvents(st.Events)
		return nil
	})
}

// SetEvents replaces every event with the normalized contents of raw, a
// decoded JSON list. Blackouts and settings are kept.
func (c *Calendar) SetEvents(ctx context.Context, raw any) error {
	return c.mutate(ctx, "set_events", func(st *model.CalendarState) error {
		next := *st
		next.Events = normalize.Events(raw, c.newID)
		*st = canonicalize(next, c.newID)
		return nil
	})
}

// ResetCalendar clears events and blackouts. Settings survive.
func (c *Calendar) ResetCalendar(ctx context.Context) error {
	return c.mutate(ctx, "reset", func(st *model.CalendarState) error {
		st.Events = []model.Event{}
		st.Blackouts = []model.BlackoutGroup{}
		return nil
	})
}

// UpdateSettings replaces the settings with the normalized raw object.
func (c *Calendar) UpdateSettings(ctx context.Context, raw any) (model.Settings, error) {
	s := normalize.Settings(raw)
	err := c.mutate(ctx, "update_settings", func(st *model.CalendarState) error {
		st.Settings = s
		return nil
	})
	return s, err
}

// enforceSingleConfirmed demotes every confirmed status on date to pending
// except on the protected event. It scans the whole state each time.
func enforceSingleConfirmed(st *model.CalendarState, date, protectedID string) {
	for i := range st.Events {
		if st.Events[i].ID == protectedID {
			continue
		}
		for j := range st.Events[i].Dates {
			e := &st.Events[i].Dates[j]
			if e.Date != date {
				continue
			}
			if e.StatusVendor == model.StatusConfirmed {
				e.StatusVendor = model.StatusPending
			}
			if e.StatusPerformer == model.StatusConfirmed {
				e.StatusPerformer = model.StatusPending
			}
		}
	}
}

func pruneEmptyEvents(events []model.Event) []model.Event {
	out := events[:0]
	for _, ev := range events {
		if len(ev.Dates) > 0 {
			out = append(out, ev)
		}
	}
	return out
}

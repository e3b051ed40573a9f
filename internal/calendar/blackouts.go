package calendar

import (
	"context"
	"slices"
	"strings"

	"sevcal/internal/model"
	"sevcal/internal/normalize"
)

// BlackoutForm is the input of the blackout group editor.
type BlackoutForm struct {
	Title string   `json:"title"`
	Notes string   `json:"notes"`
	Dates []string `json:"dates"`
}

// AddDateToBlackoutGroup inserts date into the group, keeping it sorted.
func (c *Calendar) AddDateToBlackoutGroup(ctx context.Context, groupID, date string) error {
	if !normalize.IsISODate(date) {
		return ErrInvalidDate
	}
	return c.mutate(ctx, "add_blackout_date", func(st *model.CalendarState) error {
		i := st.FindBlackout(groupID)
		if i < 0 {
			return ErrGroupNotFound
		}
		if st.Blackouts[i].HasDate(date) {
			return errUnchanged
		}
		st.Blackouts[i].Dates = normalize.SortedDates(append(st.Blackouts[i].Dates, date))
		return nil
	})
}

// AddBlackoutDate adds date to the first group, creating an untitled group
// when there is none yet. A date already blacked out anywhere is left alone.
func (c *Calendar) AddBlackoutDate(ctx context.Context, date string) error {
	if !normalize.IsISODate(date) {
		return ErrInvalidDate
	}
	return c.mutate(ctx, "add_blackout_date", func(st *model.CalendarState) error {
		for _, g := range st.Blackouts {
			if g.HasDate(date) {
				return errUnchanged
			}
		}
		if len(st.Blackouts) == 0 {
			st.Blackouts = append(st.Blackouts, model.BlackoutGroup{ID: c.newID(), Dates: []string{}})
		}
		st.Blackouts[0].Dates = normalize.SortedDates(append(st.Blackouts[0].Dates, date))
		return nil
	})
}

// RemoveBlackoutDateFromGroup removes date from one group and drops the
// group if it ends up empty.
func (c *Calendar) RemoveBlackoutDateFromGroup(ctx context.Context, groupID, date string) error {
	return c.mutate(ctx, "remove_blackout_date", func(st *model.CalendarState) error {
		i := st.FindBlackout(groupID)
		if i < 0 {
			return ErrGroupNotFound
		}
		if !st.Blackouts[i].HasDate(date) {
			return errUnchanged
		}
		st.Blackouts[i].Dates = slices.DeleteFunc(st.Blackouts[i].Dates, func(d string) bool { return d == date })
		st.Blackouts = pruneEmptyGroups(st.Blackouts)
		return nil
	})
}

// RemoveBlackoutDate removes date from every group.
func (c *Calendar) RemoveBlackoutDate(ctx context.Context, date string) error {
	return c.mutate(ctx, "remove_blackout_date", func(st *model.CalendarState) error {
		changed := false
		for i := range st.Blackouts {
			if st.Blackouts[i].HasDate(date) {
				st.Blackouts[i].Dates = slices.DeleteFunc(st.Blackouts[i].Dates, func(d string) bool { return d == date })
				changed = true
			}
		}
		if !changed {
			return errUnchanged
		}
		st.Blackouts = pruneEmptyGroups(st.Blackouts)
		return nil
	})
}

// SaveBlackoutGroup creates a group or replaces the group existingID.
func (c *Calendar) SaveBlackoutGroup(ctx context.Context, form BlackoutForm, existingID string) (model.BlackoutGroup, error) {
	dates := make([]any, len(form.Dates))
	for i, d := range form.Dates {
		dates[i] = d
	}
	raw := map[string]any{
		"id":    existingID,
		"title": form.Title,
		"notes": form.Notes,
		"dates": dates,
	}
	group, ok := normalize.BlackoutGroup(raw, c.newID)
	if !ok {
		c.metrics.Mutation("save_blackout_group", ErrNoSelection)
		return model.BlackoutGroup{}, ErrNoSelection
	}

	err := c.mutate(ctx, "save_blackout_group", func(st *model.CalendarState) error {
		if existingID == "" {
			st.Blackouts = append(st.Blackouts, group)
			return nil
		}
		i := st.FindBlackout(existingID)
		if i < 0 {
			return ErrGroupNotFound
		}
		st.Blackouts[i] = group
		return nil
	})
	if err != nil {
		return model.BlackoutGroup{}, err
	}
	return group.Clone(), nil
}

// RemoveBlackoutGroup deletes a whole group. Unknown ids are ignored.
func (c *Calendar) RemoveBlackoutGroup(ctx context.Context, id string) error {
	return c.mutate(ctx, "remove_blackout_group", func(st *model.CalendarState) error {
		i := st.FindBlackout(id)
		if i < 0 {
			return errUnchanged
		}
		st.Blackouts = append(st.Blackouts[:i], st.Blackouts[i+1:]...)
		return nil
	})
}

// SyncBlackoutFeed makes the group groupID hold exactly dates. It is used
// for subscribed ICS feeds; the group disappears when the feed is empty.
func (c *Calendar) SyncBlackoutFeed(ctx context.Context, groupID, title string, dates []string) error {
	valid := make([]string, 0, len(dates))
	for _, d := range dates {
		if normalize.IsISODate(d) {
			valid = append(valid, d)
		}
	}
	valid = normalize.SortedDates(valid)
	title = strings.TrimSpace(title)

	return c.mutate(ctx, "sync_feed", func(st *model.CalendarState) error {
		i := st.FindBlackout(groupID)
		switch {
		case i < 0 && len(valid) == 0:
			return errUnchanged
		case i < 0:
			st.Blackouts = append(st.Blackouts, model.BlackoutGroup{ID: groupID, Title: title, Dates: valid})
		case len(valid) == 0:
			st.Blackouts = append(st.Blackouts[:i], st.Blackouts[i+1:]...)
		default:
			g := &st.Blackouts[i]
			if g.Title == title && slices.Equal(g.Dates, valid) {
				return errUnchanged
			}
			g.Title = title
			g.Dates = valid
		}
		return nil
	})
}

func pruneEmptyGroups(groups []model.BlackoutGroup) []model.BlackoutGroup {
	out := groups[:0]
	for _, g := range groups {
		if len(g.Dates) > 0 {
			out = append(out, g)
		}
	}
	return out
}

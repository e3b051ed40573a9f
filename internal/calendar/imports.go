package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"sevcal/internal/codec"
	appLog "sevcal/internal/log"
	"sevcal/internal/model"
	"sevcal/internal/normalize"
	"sevcal/internal/store"
)

// ImportMode selects how an imported document is combined with the
// current state.
type ImportMode string

const (
	ModeMerge   ImportMode = "merge"
	ModeReplace ImportMode = "replace"
)

// ParseImportMode maps "" to def and rejects unknown modes.
func ParseImportMode(s string, def ImportMode) (ImportMode, error) {
	switch ImportMode(s) {
	case "":
		return def, nil
	case ModeMerge, ModeReplace:
		return ImportMode(s), nil
	}
	return "", fmt.Errorf("unknown import mode %q", s)
}

// ImportResult summarizes an applied import.
type ImportResult struct {
	Shape     string     `json:"shape"`
	Mode      ImportMode `json:"mode"`
	Events    int        `json:"events"`
	Blackouts int        `json:"blackouts"`
}

// ImportPayload decodes raw and merges it into, or replaces, the state. A
// payload that fails to decode leaves the state untouched.
func (c *Calendar) ImportPayload(ctx context.Context, raw []byte, mode ImportMode) (ImportResult, error) {
	doc, err := codec.Decode(raw, c.newID)
	if err != nil {
		c.metrics.Import(string(mode), err)
		appLog.Error("calendar: import rejected", err, "mode", string(mode))
		return ImportResult{}, err
	}

	err = c.mutate(ctx, "import", func(st *model.CalendarState) error {
		switch mode {
		case ModeReplace:
			*st = replaceWith(*st, doc)
		default:
			*st = mergeWith(*st, doc)
		}
		*st = canonicalize(*st, c.newID)
		return nil
	})
	c.metrics.Import(string(mode), err)
	if err != nil {
		return ImportResult{}, err
	}

	res := ImportResult{
		Shape:     doc.Shape.String(),
		Mode:      mode,
		Events:    len(doc.Events),
		Blackouts: len(doc.Blackouts),
	}
	appLog.Info("calendar: import applied", "shape", res.Shape, "mode", string(mode), "events", res.Events, "blackouts", res.Blackouts)
	return res, nil
}

// ImportFromBase64 is ImportPayload for base64 text handed over by a host.
func (c *Calendar) ImportFromBase64(ctx context.Context, b64 string, mode ImportMode) (ImportResult, error) {
	raw, err := codec.DecodeBase64(b64)
	if err != nil {
		c.metrics.Import(string(mode), err)
		return ImportResult{}, err
	}
	return c.ImportPayload(ctx, raw, mode)
}

// ExportState renders the current state as the portable document.
func (c *Calendar) ExportState() ([]byte, error) {
	return codec.Export(c.State())
}

// replaceWith discards events and blackouts; settings are replaced only when
// the document carried them.
func replaceWith(st model.CalendarState, doc codec.Document) model.CalendarState {
	next := model.CalendarState{
		Events:    doc.Events,
		Blackouts: doc.Blackouts,
		Settings:  st.Settings,
	}
	if doc.Settings != nil {
		next.Settings = *doc.Settings
	}
	return next
}

// mergeWith appends incoming events, unions blackout groups by id and
// overlays the settings fields the document carried. An incoming event
// whose id already exists takes the place of the old one at the end of the
// list. The date-exclusivity pass runs last.
func mergeWith(st model.CalendarState, doc codec.Document) model.CalendarState {
	incoming := make(map[string]struct{}, len(doc.Events))
	for _, ev := range doc.Events {
		incoming[ev.ID] = struct{}{}
	}
	events := make([]model.Event, 0, len(st.Events)+len(doc.Events))
	for _, ev := range st.Events {
		if _, replaced := incoming[ev.ID]; !replaced {
			events = append(events, ev)
		}
	}
	events = append(events, doc.Events...)

	blackouts := st.Blackouts
	for _, g := range doc.Blackouts {
		i := slices.IndexFunc(blackouts, func(b model.BlackoutGroup) bool { return b.ID == g.ID })
		if i >= 0 {
			blackouts[i] = g
			continue
		}
		blackouts = append(blackouts, g)
	}

	return model.CalendarState{
		Events:    exclusiveDates(events),
		Blackouts: blackouts,
		Settings:  doc.SettingsPatch.Apply(st.Settings),
	}
}

// exclusiveDates keeps each date only on the last event (in list order)
// that claims it. Events left without dates are dropped.
func exclusiveDates(events []model.Event) []model.Event {
	owner := make(map[string]int)
	for i, ev := range events {
		for _, e := range ev.Dates {
			owner[e.Date] = i
		}
	}
	out := make([]model.Event, 0, len(events))
	for i, ev := range events {
		kept := make([]model.DateEntry, 0, len(ev.Dates))
		for _, e := range ev.Dates {
			if owner[e.Date] == i {
				kept = append(kept, e)
			}
		}
		ev.Dates = kept
		if len(ev.Dates) > 0 {
			out = append(out, ev)
		}
	}
	return out
}

// canonicalize restores the state invariants on data that did not come
// through the mutation operations: event and blackout group ids are
// unique, each event holds
// at most one entry per date (the last one wins) and each date has at most
// one confirmed vendor and one confirmed performer (the last confirmed
// entry in list order wins, the others become pending).
func canonicalize(st model.CalendarState, newID normalize.IDFunc) model.CalendarState {
	seen := make(map[string]struct{}, len(st.Events))
	events := make([]model.Event, 0, len(st.Events))
	for _, ev := range st.Events {
		if _, dup := seen[ev.ID]; dup {
			ev.ID = newID()
		}
		seen[ev.ID] = struct{}{}
		ev.Dates = lastEntryPerDate(ev.Dates)
		if len(ev.Dates) > 0 {
			events = append(events, ev)
		}
	}

	type pos struct{ ev, entry int }
	lastVendor := make(map[string]pos)
	lastPerformer := make(map[string]pos)
	for i, ev := range events {
		for j, e := range ev.Dates {
			if e.StatusVendor == model.StatusConfirmed {
				lastVendor[e.Date] = pos{i, j}
			}
			if e.StatusPerformer == model.StatusConfirmed {
				lastPerformer[e.Date] = pos{i, j}
			}
		}
	}
	for i := range events {
		for j := range events[i].Dates {
			e := &events[i].Dates[j]
			if e.StatusVendor == model.StatusConfirmed && lastVendor[e.Date] != (pos{i, j}) {
				e.StatusVendor = model.StatusPending
			}
			if e.StatusPerformer == model.StatusConfirmed && lastPerformer[e.Date] != (pos{i, j}) {
				e.StatusPerformer = model.StatusPending
			}
		}
	}

	st.Events = events
	st.Blackouts = lastGroupPerID(st.Blackouts)
	if st.Blackouts == nil {
		st.Blackouts = []model.BlackoutGroup{}
	}
	return st
}

// lastGroupPerID keeps one blackout group per id. The last occurrence wins
// and keeps its position.
func lastGroupPerID(groups []model.BlackoutGroup) []model.BlackoutGroup {
	last := make(map[string]int, len(groups))
	for i, g := range groups {
		last[g.ID] = i
	}
	if len(last) == len(groups) {
		return groups
	}
	out := make([]model.BlackoutGroup, 0, len(last))
	for i, g := range groups {
		if last[g.ID] == i {
			out = append(out, g)
		}
	}
	return out
}

// lastEntryPerDate drops earlier duplicates of a date, keeping the
// position of the last one.
func lastEntryPerDate(entries []model.DateEntry) []model.DateEntry {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.Date] = i
	}
	if len(last) == len(entries) {
		return entries
	}
	out := make([]model.DateEntry, 0, len(last))
	for i, e := range entries {
		if last[e.Date] == i {
			out = append(out, e)
		}
	}
	return out
}

// EncodePayload splits a state into the per-key blobs of the Storage Port.
func EncodePayload(st model.CalendarState) (store.Payload, error) {
	st = st.Clone()
	events, err := json.Marshal(st.Events)
	if err != nil {
		return store.Payload{}, fmt.Errorf("encode events: %w", err)
	}
	blackouts, err := json.Marshal(st.Blackouts)
	if err != nil {
		return store.Payload{}, fmt.Errorf("encode blackouts: %w", err)
	}
	settings, err := json.Marshal(st.Settings)
	if err != nil {
		return store.Payload{}, fmt.Errorf("encode settings: %w", err)
	}
	return store.Payload{Events: events, Blackouts: blackouts, Settings: settings}, nil
}

// DecodePayload turns stored blobs back into a canonical state. Unreadable
// blobs count as empty; a missing settings blob means default settings.
func DecodePayload(p store.Payload, newID normalize.IDFunc) model.CalendarState {
	st := model.EmptyState()
	if v, ok := decodeBlob("events", p.Events); ok {
		st.Events = normalize.Events(v, newID)
	}
	if v, ok := decodeBlob("blackouts", p.Blackouts); ok {
		st.Blackouts = normalize.Blackouts(v, newID)
	}
	if v, ok := decodeBlob("settings", p.Settings); ok {
		st.Settings = normalize.Settings(v)
	}
	return canonicalize(st, newID)
}

func decodeBlob(key string, raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	v, err := codec.ParseJSON(raw)
	if err != nil {
		appLog.Warn("calendar: ignoring unreadable stored value", "key", key, "error", err.Error())
		return nil, false
	}
	return v, true
}

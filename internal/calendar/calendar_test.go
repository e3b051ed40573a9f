package calendar

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevcal/internal/codec"
	"sevcal/internal/model"
	"sevcal/internal/store"
)

// memStore is an in-memory Storage Port that can be told to fail.
type memStore struct {
	mu      sync.Mutex
	payload *store.Payload
	saves   int
	fail    error
}

func (m *memStore) Load(context.Context) (*store.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, nil
	}
	p := *m.payload
	return &p, nil
}

func (m *memStore) Save(_ context.Context, p store.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.payload = &p
	return nil
}

func (m *memStore) Close() error { return nil }

func seqID() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestCalendar(t *testing.T) (*Calendar, *memStore) {
	t.Helper()
	s := &memStore{}
	return New(s, WithIDFunc(seqID())), s
}

var ctx = context.Background()

func confirmedVendorForm(title string) EventForm {
	return EventForm{Title: title, Vendor: true, StatusVendor: model.StatusConfirmed, StatusPerformer: model.StatusPending}
}

func assertInvariants(t *testing.T, st model.CalendarState) {
	t.Helper()
	vendor := map[string]int{}
	performer := map[string]int{}
	ids := map[string]bool{}
	for _, ev := range st.Events {
		assert.NotEmpty(t, ev.Dates, "event %s has no dates", ev.ID)
		assert.False(t, ids[ev.ID], "duplicate event id %s", ev.ID)
		ids[ev.ID] = true
		for _, e := range ev.Dates {
			if e.StatusVendor == model.StatusConfirmed {
				vendor[e.Date]++
			}
			if e.StatusPerformer == model.StatusConfirmed {
				performer[e.Date]++
			}
		}
	}
	for d, n := range vendor {
		assert.LessOrEqual(t, n, 1, "confirmed vendors on %s", d)
	}
	for d, n := range performer {
		assert.LessOrEqual(t, n, 1, "confirmed performers on %s", d)
	}
	groups := map[string]bool{}
	for _, g := range st.Blackouts {
		assert.NotEmpty(t, g.Dates, "blackout group %s has no dates", g.ID)
		assert.False(t, groups[g.ID], "duplicate blackout group id %s", g.ID)
		groups[g.ID] = true
	}
}

func TestAddOrUpdateEvent(t *testing.T) {
	c, s := newTestCalendar(t)

	res, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "  Fair ", Vendor: true, Performer: true, StatusVendor: "bogus", StatusPerformer: model.StatusSubmitted},
		[]string{"2024-06-02", "2024-06-01", "2024-06-02", "not-a-date"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Fair", res.Event.Title)
	require.Len(t, res.Event.Dates, 2)
	assert.Equal(t, "2024-06-01", res.Event.Dates[0].Date)
	assert.Equal(t, "2024-06-02", res.Event.Dates[1].Date)
	assert.Equal(t, model.TypeBoth, res.Event.Dates[0].Type)
	assert.Equal(t, model.StatusPending, res.Event.Dates[0].StatusVendor)
	assert.Equal(t, model.StatusSubmitted, res.Event.Dates[0].StatusPerformer)
	assert.Empty(t, res.BlockedDates)
	assert.Equal(t, 1, s.saves)
	assert.Equal(t, uint64(1), c.Revision())

	res, err = c.AddOrUpdateEvent(ctx, EventForm{Title: "Fair (moved)", Performer: true}, []string{"2024-07-01"}, res.Event.ID)
	require.NoError(t, err)
	st := c.State()
	require.Len(t, st.Events, 1)
	assert.Equal(t, "Fair (moved)", st.Events[0].Title)
	assert.Equal(t, []model.DateEntry{{Date: "2024-07-01", Type: model.TypePerformer, StatusVendor: model.StatusPending, StatusPerformer: model.StatusPending}}, st.Events[0].Dates)
}

func TestAddOrUpdateEventErrors(t *testing.T) {
	c, s := newTestCalendar(t)

	_, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "x"}, nil, "")
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = c.AddOrUpdateEvent(ctx, EventForm{Title: "x"}, []string{"2024-1-1"}, "")
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = c.AddOrUpdateEvent(ctx, EventForm{Title: "x"}, []string{"2024-01-01"}, "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	assert.Empty(t, c.State().Events)
	assert.Zero(t, s.saves)
	assert.Zero(t, c.Revision())
}

func TestAddOrUpdateEventReportsBlackouts(t *testing.T) {
	c, _ := newTestCalendar(t)
	require.NoError(t, c.AddBlackoutDate(ctx, "2024-08-02"))

	res, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "Gig"}, []string{"2024-08-01", "2024-08-02"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-08-02"}, res.BlockedDates)
	assert.Len(t, res.Event.Dates, 2, "blackout dates are warned about, not skipped")
}

func TestConfirmedTemplateDemotesOtherEvents(t *testing.T) {
	c, _ := newTestCalendar(t)

	a, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A", Vendor: true, Performer: true, StatusVendor: model.StatusConfirmed, StatusPerformer: model.StatusConfirmed}, []string{"2024-05-01", "2024-05-02"}, "")
	require.NoError(t, err)
	_, err = c.AddOrUpdateEvent(ctx, confirmedVendorForm("B"), []string{"2024-05-01"}, "")
	require.NoError(t, err)

	st := c.State()
	ai := st.FindEvent(a.Event.ID)
	assert.Equal(t, model.StatusPending, st.Events[ai].Dates[0].StatusVendor)
	assert.Equal(t, model.StatusPending, st.Events[ai].Dates[0].StatusPerformer)
	assert.Equal(t, model.StatusConfirmed, st.Events[ai].Dates[1].StatusVendor, "other dates untouched")
	assertInvariants(t, st)
}

// Two events confirmed on the same date: confirming A again demotes B.
func TestUpdateEntryEnforcesSingleConfirmed(t *testing.T) {
	c, _ := newTestCalendar(t)
	a, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A", Vendor: true}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	b, err := c.AddOrUpdateEvent(ctx, confirmedVendorForm("B"), []string{"2024-05-01"}, "")
	require.NoError(t, err)

	setVendorConfirmed := func(e model.DateEntry) model.DateEntry {
		e.StatusVendor = model.StatusConfirmed
		return e
	}
	require.NoError(t, c.UpdateEntry(ctx, a.Event.ID, "2024-05-01", setVendorConfirmed))

	st := c.State()
	assert.Equal(t, model.StatusConfirmed, st.Events[st.FindEvent(a.Event.ID)].Dates[0].StatusVendor)
	assert.Equal(t, model.StatusPending, st.Events[st.FindEvent(b.Event.ID)].Dates[0].StatusVendor)
	assertInvariants(t, st)
}

func TestUpdateEntryCoercesResult(t *testing.T) {
	c, _ := newTestCalendar(t)
	a, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A", Performer: true, StatusPerformer: model.StatusSubmitted}, []string{"2024-05-01"}, "")
	require.NoError(t, err)

	require.NoError(t, c.UpdateEntry(ctx, a.Event.ID, "2024-05-01", func(e model.DateEntry) model.DateEntry {
		e.Date = "1999-01-01"
		e.Type = "nonsense"
		e.StatusPerformer = "maybe"
		e.StatusVendor = model.StatusRejected
		return e
	}))
	got := c.State().Events[0].Dates[0]
	assert.Equal(t, "2024-05-01", got.Date)
	assert.Equal(t, model.TypePerformer, got.Type)
	assert.Equal(t, model.StatusSubmitted, got.StatusPerformer)
	assert.Equal(t, model.StatusRejected, got.StatusVendor)

	err = c.UpdateEntry(ctx, a.Event.ID, "2024-05-02", func(e model.DateEntry) model.DateEntry { return e })
	assert.ErrorIs(t, err, ErrEntryNotFound)
	err = c.UpdateEntry(ctx, "nope", "2024-05-01", func(e model.DateEntry) model.DateEntry { return e })
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRemoveDateEntryPrunesEvent(t *testing.T) {
	c, _ := newTestCalendar(t)
	a, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A"}, []string{"2024-05-01", "2024-05-02"}, "")
	require.NoError(t, err)

	require.NoError(t, c.RemoveDateEntry(ctx, a.Event.ID, "2024-05-01"))
	require.Len(t, c.State().Events, 1)
	require.NoError(t, c.RemoveDateEntry(ctx, a.Event.ID, "2024-05-02"))
	assert.Empty(t, c.State().Events)

	assert.ErrorIs(t, c.RemoveDateEntry(ctx, a.Event.ID, "2024-05-02"), ErrEntryNotFound)
}

func TestRemoveEventUnknownIsNoop(t *testing.T) {
	c, s := newTestCalendar(t)
	require.NoError(t, c.RemoveEvent(ctx, "ghost"))
	assert.Zero(t, s.saves)
	assert.Zero(t, c.Revision())

	a, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A"}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	require.NoError(t, c.RemoveEvent(ctx, a.Event.ID))
	assert.Empty(t, c.State().Events)
	assert.Empty(t, c.Index().On("2024-05-01"))
}

func TestBlackoutGroups(t *testing.T) {
	c, _ := newTestCalendar(t)

	require.NoError(t, c.AddBlackoutDate(ctx, "2024-12-25"))
	st := c.State()
	require.Len(t, st.Blackouts, 1)
	def := st.Blackouts[0]
	assert.Equal(t, "", def.Title)

	g, err := c.SaveBlackoutGroup(ctx, BlackoutForm{Title: " Holiday ", Dates: []string{"2024-12-25", "2024-12-25", "2024-12-24"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "Holiday", g.Title)
	assert.Equal(t, []string{"2024-12-24", "2024-12-25"}, g.Dates)

	// The first group containing a date is the one displays use.
	assert.Equal(t, []string{def.ID, g.ID}, c.Index().BlackoutGroups("2024-12-25"))

	require.NoError(t, c.AddDateToBlackoutGroup(ctx, g.ID, "2024-12-20"))
	assert.Equal(t, []string{"2024-12-20", "2024-12-24", "2024-12-25"}, c.State().Blackouts[1].Dates)
	assert.ErrorIs(t, c.AddDateToBlackoutGroup(ctx, g.ID, "2024-12-2x"), ErrInvalidDate)
	assert.ErrorIs(t, c.AddDateToBlackoutGroup(ctx, "nope", "2024-12-21"), ErrGroupNotFound)

	require.NoError(t, c.RemoveBlackoutDateFromGroup(ctx, def.ID, "2024-12-25"))
	st = c.State()
	require.Len(t, st.Blackouts, 1, "emptied group is pruned")
	assert.Equal(t, g.ID, st.Blackouts[0].ID)

	require.NoError(t, c.RemoveBlackoutDate(ctx, "2024-12-25"))
	assert.False(t, c.Index().IsBlackout("2024-12-25"))

	_, err = c.SaveBlackoutGroup(ctx, BlackoutForm{Title: "Edited", Dates: []string{"2025-01-01"}}, g.ID)
	require.NoError(t, err)
	st = c.State()
	assert.Equal(t, "Edited", st.Blackouts[0].Title)
	assert.Equal(t, []string{"2025-01-01"}, st.Blackouts[0].Dates)

	_, err = c.SaveBlackoutGroup(ctx, BlackoutForm{Title: "Empty", Dates: []string{"garbage"}}, "")
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = c.SaveBlackoutGroup(ctx, BlackoutForm{Dates: []string{"2025-01-01"}}, "missing")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	require.NoError(t, c.RemoveBlackoutGroup(ctx, g.ID))
	assert.Empty(t, c.State().Blackouts)
}

func TestSyncBlackoutFeed(t *testing.T) {
	c, s := newTestCalendar(t)

	require.NoError(t, c.SyncBlackoutFeed(ctx, "feed-holidays", "Holidays", []string{"2024-12-26", "2024-12-25", "bad"}))
	st := c.State()
	require.Len(t, st.Blackouts, 1)
	assert.Equal(t, "feed-holidays", st.Blackouts[0].ID)
	assert.Equal(t, []string{"2024-12-25", "2024-12-26"}, st.Blackouts[0].Dates)

	saves := s.saves
	require.NoError(t, c.SyncBlackoutFeed(ctx, "feed-holidays", "Holidays", []string{"2024-12-25", "2024-12-26"}))
	assert.Equal(t, saves, s.saves, "identical feed is not saved again")

	require.NoError(t, c.SyncBlackoutFeed(ctx, "feed-holidays", "Holidays", nil))
	assert.Empty(t, c.State().Blackouts)
}

func TestResetKeepsSettings(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.UpdateSettings(ctx, map[string]any{"vendorLabel": "Stall"})
	require.NoError(t, err)
	_, err = c.AddOrUpdateEvent(ctx, EventForm{Title: "A"}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	require.NoError(t, c.AddBlackoutDate(ctx, "2024-05-02"))

	require.NoError(t, c.ResetCalendar(ctx))
	st := c.State()
	assert.Empty(t, st.Events)
	assert.Empty(t, st.Blackouts)
	assert.Equal(t, "Stall", st.Settings.VendorLabel)
	assert.Equal(t, model.DefaultPerformerLabel, st.Settings.PerformerLabel)
}

func TestSetEvents(t *testing.T) {
	c, _ := newTestCalendar(t)
	raw := []any{
		map[string]any{"id": "x", "title": "Gig", "date": "2024-07-04", "type": "performer", "status": "confirmed"},
		map[string]any{"title": "broken", "dates": []any{}},
	}
	require.NoError(t, c.SetEvents(ctx, raw))
	st := c.State()
	require.Len(t, st.Events, 1)
	assert.Equal(t, model.DateEntry{Date: "2024-07-04", Type: model.TypePerformer, StatusVendor: model.StatusConfirmed, StatusPerformer: model.StatusConfirmed}, st.Events[0].Dates[0])
}

// An incoming event and an existing event both claim the same date: the
// later one keeps it.
func TestImportMergeDateExclusivity(t *testing.T) {
	c, _ := newTestCalendar(t)
	old, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "Old"}, []string{"2024-06-01"}, "")
	require.NoError(t, err)
	keep, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "Keep"}, []string{"2024-06-01", "2024-06-02"}, "")
	require.NoError(t, err)
	// Outside of a merge two events may share a date.

	payload := `{"events":[{"id":"new","title":"New","dates":[{"date":"2024-06-01","type":"vendor","statusVendor":"pending","statusPerformer":"pending"}]}]}`
	res, err := c.ImportPayload(ctx, []byte(payload), ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, "canonical", res.Shape)
	assert.Equal(t, 1, res.Events)

	st := c.State()
	assert.Equal(t, -1, st.FindEvent(old.Event.ID), "old event lost its only date and was pruned")
	k := st.FindEvent(keep.Event.ID)
	require.GreaterOrEqual(t, k, 0)
	assert.Equal(t, []model.DateEntry{{Date: "2024-06-02", Type: model.TypeVendor, StatusVendor: model.StatusPending, StatusPerformer: model.StatusPending}}, st.Events[k].Dates)
	n := st.FindEvent("new")
	require.GreaterOrEqual(t, n, 0)
	assert.Equal(t, "2024-06-01", st.Events[n].Dates[0].Date)
	assert.Len(t, c.Index().On("2024-06-01"), 1)
	assertInvariants(t, st)
}

func TestImportMergeBlackoutsAndSettings(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.SaveBlackoutGroup(ctx, BlackoutForm{Title: "Trip", Dates: []string{"2024-02-01"}}, "")
	require.NoError(t, err)
	_, err = c.UpdateSettings(ctx, map[string]any{"vendorLabel": "Stall", "performerLabel": "Act"})
	require.NoError(t, err)
	tripID := c.State().Blackouts[0].ID

	payload := fmt.Sprintf(`{
		"events": [],
		"blackouts": [
			{"id": %q, "title": "Trip (long)", "dates": ["2024-02-01", "2024-02-02"]},
			{"id": "b2", "title": "Rest", "dates": ["2024-03-01"]}
		],
		"settings": {"performerLabel": "Band", "vendorLabel": "  "}
	}`, tripID)
	_, err = c.ImportPayload(ctx, []byte(payload), ModeMerge)
	require.NoError(t, err)

	st := c.State()
	require.Len(t, st.Blackouts, 2)
	assert.Equal(t, "Trip (long)", st.Blackouts[0].Title)
	assert.Equal(t, []string{"2024-02-01", "2024-02-02"}, st.Blackouts[0].Dates)
	assert.Equal(t, "b2", st.Blackouts[1].ID)
	assert.Equal(t, "Stall", st.Settings.VendorLabel)
	assert.Equal(t, "Band", st.Settings.PerformerLabel)
}

func TestImportMergeKeepsOmittedSettings(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.UpdateSettings(ctx, map[string]any{"vendorLabel": "Caterer"})
	require.NoError(t, err)

	_, err = c.ImportPayload(ctx, []byte(`{"events":[],"blackouts":["2024-02-01"],"settings":{"vendorColor":"#123456"}}`), ModeMerge)
	require.NoError(t, err)

	st := c.State()
	assert.Equal(t, "Caterer", st.Settings.VendorLabel)
	assert.Equal(t, "#123456", st.Settings.VendorColor)
	assert.Equal(t, model.DefaultSettings().PerformerLabel, st.Settings.PerformerLabel)
}

func TestImportReplaceKeepsSharedDates(t *testing.T) {
	c, _ := newTestCalendar(t)
	payload := `{"events":[
		{"id":"a","title":"A","dates":[{"date":"2024-06-01","type":"vendor"}]},
		{"id":"b","title":"B","dates":[{"date":"2024-06-01","type":"performer"}]}
	]}`
	_, err := c.ImportPayload(ctx, []byte(payload), ModeReplace)
	require.NoError(t, err)

	st := c.State()
	require.Len(t, st.Events, 2)
	assert.Len(t, c.Index().On("2024-06-01"), 2)
	assertInvariants(t, st)
}

func TestImportReplaceDuplicateBlackoutGroups(t *testing.T) {
	c, _ := newTestCalendar(t)
	payload := `{"blackouts":[
		{"id":"a","title":"One","dates":["2025-01-01"]},
		{"id":"b","title":"Other","dates":["2025-02-01"]},
		{"id":"a","title":"Two","dates":["2025-01-02"]}
	]}`
	_, err := c.ImportPayload(ctx, []byte(payload), ModeReplace)
	require.NoError(t, err)

	st := c.State()
	require.Len(t, st.Blackouts, 2)
	assert.Equal(t, "b", st.Blackouts[0].ID)
	assert.Equal(t, "Two", st.Blackouts[1].Title)
	assert.Equal(t, []string{"2025-01-02"}, st.Blackouts[1].Dates)
	assert.False(t, c.Index().IsBlackout("2025-01-01"))
	assertInvariants(t, st)

	require.NoError(t, c.RemoveBlackoutGroup(ctx, "a"))
	st = c.State()
	require.Len(t, st.Blackouts, 1)
	assert.Equal(t, "b", st.Blackouts[0].ID)
	assert.False(t, c.Index().IsBlackout("2025-01-02"))
}

func TestLoadDropsDuplicateBlackoutGroups(t *testing.T) {
	s := &memStore{payload: &store.Payload{
		Blackouts: []byte(`[{"id":"a","title":"One","dates":["2025-01-01"]},{"id":"a","title":"Two","dates":["2025-01-02"]}]`),
	}}
	c := New(s, WithIDFunc(seqID()))
	require.NoError(t, c.Load(ctx))

	st := c.State()
	require.Len(t, st.Blackouts, 1)
	assert.Equal(t, "Two", st.Blackouts[0].Title)

	require.NoError(t, c.RemoveBlackoutGroup(ctx, "a"))
	assert.Empty(t, c.State().Blackouts)
}

func TestImportInvalidJSONLeavesStateUnchanged(t *testing.T) {
	c, s := newTestCalendar(t)
	_, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A"}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	before := c.State()
	saves := s.saves

	_, err = c.ImportPayload(ctx, []byte("not json"), ModeMerge)
	assert.ErrorIs(t, err, codec.ErrInvalidJSON)

	_, err = c.ImportPayload(ctx, []byte(`{"events":[{"title":"no dates"}]}`), ModeReplace)
	assert.ErrorIs(t, err, codec.ErrEmptyPayload)

	_, err = c.ImportPayload(ctx, []byte(`{"foo":1}`), ModeReplace)
	assert.ErrorIs(t, err, codec.ErrUnrecognized)

	assert.Equal(t, before, c.State())
	assert.Equal(t, saves, s.saves)
}

func TestImportLegendFormat(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.ImportPayload(ctx, []byte(`{"marks":{"2024-03-01":"2"},"legends":{"2":"ADDAF Unconfirmed"}}`), ModeMerge)
	require.NoError(t, err)

	st := c.State()
	require.Len(t, st.Events, 1)
	assert.Equal(t, "ADDAF Unconfirmed", st.Events[0].Title)
	e := st.Events[0].Dates[0]
	assert.Equal(t, model.TypePerformer, e.Type)
	assert.Equal(t, model.StatusPending, e.StatusVendor)
	assert.Equal(t, model.StatusPending, e.StatusPerformer)
}

func TestExportReplaceRoundTrip(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.AddOrUpdateEvent(ctx, confirmedVendorForm("A"), []string{"2024-05-01", "2024-05-03"}, "")
	require.NoError(t, err)
	_, err = c.AddOrUpdateEvent(ctx, EventForm{Title: "B", Performer: true, StatusPerformer: model.StatusContacted}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	_, err = c.SaveBlackoutGroup(ctx, BlackoutForm{Title: "Off", Notes: "family", Dates: []string{"2024-05-10"}}, "")
	require.NoError(t, err)
	_, err = c.UpdateSettings(ctx, map[string]any{"vendorColor": "#000000"})
	require.NoError(t, err)

	exported, err := c.ExportState()
	require.NoError(t, err)
	want := c.State()

	other, _ := newTestCalendar(t)
	_, err = other.AddOrUpdateEvent(ctx, EventForm{Title: "junk"}, []string{"2020-01-01"}, "")
	require.NoError(t, err)
	_, err = other.ImportPayload(ctx, exported, ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, want, other.State())

	_, err = other.ImportFromBase64(ctx, base64.StdEncoding.EncodeToString(exported), ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, want, other.State())
}

func TestImportFromBase64Invalid(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.ImportFromBase64(ctx, "%%%", ModeReplace)
	assert.ErrorIs(t, err, codec.ErrInvalidJSON)
}

func TestImportReplaceCanonicalizesConfirmed(t *testing.T) {
	c, _ := newTestCalendar(t)
	payload := `[
		{"id":"a","title":"A","date":"2024-09-01","status":"confirmed"},
		{"id":"b","title":"B","date":"2024-09-01","status":"confirmed"},
		{"id":"a","title":"A again","dates":[{"date":"2024-09-02"},{"date":"2024-09-02","statusVendor":"rejected"}]}
	]`
	_, err := c.ImportPayload(ctx, []byte(payload), ModeReplace)
	require.NoError(t, err)

	st := c.State()
	require.Len(t, st.Events, 3)
	assert.Equal(t, model.StatusPending, st.Events[0].Dates[0].StatusVendor)
	assert.Equal(t, model.StatusConfirmed, st.Events[1].Dates[0].StatusVendor, "last confirmed wins")
	assert.NotEqual(t, "a", st.Events[2].ID, "duplicate id regenerated")
	require.Len(t, st.Events[2].Dates, 1)
	assert.Equal(t, model.StatusRejected, st.Events[2].Dates[0].StatusVendor, "last duplicate entry wins")
	assertInvariants(t, st)
}

func TestSaveFailureRollsBack(t *testing.T) {
	c, s := newTestCalendar(t)
	_, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A"}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	before := c.State()
	rev := c.Revision()

	s.fail = errors.New("disk full")
	_, err = c.AddOrUpdateEvent(ctx, EventForm{Title: "B"}, []string{"2024-05-02"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, s.fail)
	assert.Error(t, c.ResetCalendar(ctx))
	_, err = c.ImportPayload(ctx, []byte(`[{"title":"C","date":"2024-05-03"}]`), ModeMerge)
	assert.Error(t, err)

	assert.Equal(t, before, c.State())
	assert.Equal(t, rev, c.Revision())
	assert.Empty(t, c.Index().On("2024-05-02"))
}

func TestLoadAndApplyExternal(t *testing.T) {
	s := &memStore{payload: &store.Payload{
		Events:    []byte(`[{"id":"a","title":"A","date":"2024-01-01","status":"confirmed"},{"id":"b","title":"B","date":"2024-01-01","status":"confirmed"}]`),
		Blackouts: []byte(`["2024-01-05","2024-01-04","2024-01-05x"]`),
	}}
	c := New(s, WithIDFunc(seqID()))

	var changes []Change
	cancel := c.Subscribe(func(ch Change) { changes = append(changes, ch) })

	require.NoError(t, c.Load(ctx))
	st := c.State()
	require.Len(t, st.Events, 2)
	assert.Equal(t, model.StatusPending, st.Events[0].Dates[0].StatusVendor)
	assert.Equal(t, model.StatusConfirmed, st.Events[1].Dates[0].StatusVendor)
	require.Len(t, st.Blackouts, 1)
	assert.Equal(t, "Blackouts", st.Blackouts[0].Title)
	assert.Equal(t, []string{"2024-01-04", "2024-01-05"}, st.Blackouts[0].Dates)
	assert.Equal(t, model.DefaultSettings(), st.Settings)
	assert.Zero(t, s.saves, "loading does not write back")

	c.ApplyExternal(store.Payload{Events: []byte(`{"not":"a list"}`), Settings: []byte(`{"vendorLabel":"Shop"}`)})
	st = c.State()
	assert.Empty(t, st.Events)
	assert.Empty(t, st.Blackouts)
	assert.Equal(t, "Shop", st.Settings.VendorLabel)
	assert.Zero(t, s.saves)

	require.Len(t, changes, 2)
	assert.False(t, changes[0].External)
	assert.True(t, changes[1].External)
	assert.Equal(t, uint64(2), changes[1].Revision)

	cancel()
	require.NoError(t, c.ResetCalendar(ctx))
	assert.Len(t, changes, 2)
}

func TestLoadEmptyStore(t *testing.T) {
	c, _ := newTestCalendar(t)
	require.NoError(t, c.Load(ctx))
	assert.Equal(t, model.EmptyState(), c.State())
	assert.Zero(t, c.Revision())
}

func TestPayloadRoundTrip(t *testing.T) {
	c, s := newTestCalendar(t)
	_, err := c.AddOrUpdateEvent(ctx, confirmedVendorForm("A"), []string{"2024-05-01"}, "")
	require.NoError(t, err)
	require.NoError(t, c.AddBlackoutDate(ctx, "2024-05-02"))

	reloaded := New(s, WithIDFunc(seqID()))
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, c.State(), reloaded.State())
}

func TestDay(t *testing.T) {
	c, _ := newTestCalendar(t)
	_, err := c.AddOrUpdateEvent(ctx, EventForm{Title: "A"}, []string{"2024-05-01"}, "")
	require.NoError(t, err)
	require.NoError(t, c.AddBlackoutDate(ctx, "2024-05-01"))

	day, err := c.Day("2024-05-01")
	require.NoError(t, err)
	require.Len(t, day.Entries, 1)
	assert.Equal(t, "A", day.Entries[0].Title)
	assert.True(t, day.Blackout)
	require.Len(t, day.Blackouts, 1)

	_, err = c.Day("May 1")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestParseImportMode(t *testing.T) {
	m, err := ParseImportMode("", ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)
	m, err = ParseImportMode("merge", ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, m)
	_, err = ParseImportMode("append", ModeMerge)
	assert.Error(t, err)
}

// Random operation sequences never break the state invariants.
func TestInvariantsHoldUnderRandomOperations(t *testing.T) {
	c, _ := newTestCalendar(t)
	r := rand.New(rand.NewPCG(1, 2))
	dates := []string{"2024-05-01", "2024-05-02", "2024-05-03"}
	statuses := model.Statuses

	pick := func() string { return dates[r.IntN(len(dates))] }
	for step := 0; step < 300; step++ {
		st := c.State()
		switch r.IntN(7) {
		case 0, 1:
			_, _ = c.AddOrUpdateEvent(ctx, EventForm{
				Title:           "E",
				Vendor:          r.IntN(2) == 0,
				Performer:       r.IntN(2) == 0,
				StatusVendor:    statuses[r.IntN(len(statuses))],
				StatusPerformer: statuses[r.IntN(len(statuses))],
			}, []string{pick(), pick()}, "")
		case 2:
			if len(st.Events) > 0 {
				ev := st.Events[r.IntN(len(st.Events))]
				d := ev.Dates[r.IntN(len(ev.Dates))].Date
				s := statuses[r.IntN(len(statuses))]
				_ = c.UpdateEntry(ctx, ev.ID, d, func(e model.DateEntry) model.DateEntry {
					e.StatusPerformer = s
					e.StatusVendor = model.StatusConfirmed
					return e
				})
			}
		case 3:
			if len(st.Events) > 0 {
				ev := st.Events[r.IntN(len(st.Events))]
				_ = c.RemoveDateEntry(ctx, ev.ID, ev.Dates[0].Date)
			}
		case 4:
			payload := fmt.Sprintf(`[{"title":"I","date":%q,"status":"confirmed"}]`, pick())
			_, _ = c.ImportPayload(ctx, []byte(payload), ModeMerge)
		case 5:
			_ = c.AddBlackoutDate(ctx, pick())
		case 6:
			_ = c.RemoveBlackoutDate(ctx, pick())
		}
		assertInvariants(t, c.State())
	}
}

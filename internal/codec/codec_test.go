package codec

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevcal/internal/model"
)

func seqID() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
}

func TestDecode_Canonical(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"top-level array", `[{"title":"A","date":"2024-01-01"},{"bad":true}]`, 1},
		{"events object", `{"events":[{"title":"A","dates":[{"date":"2024-01-01"}]}]}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Decode([]byte(tt.raw), seqID())
			require.NoError(t, err)
			assert.Equal(t, ShapeCanonical, doc.Shape)
			assert.Len(t, doc.Events, tt.want)
			assert.Nil(t, doc.Settings)
		})
	}
}

func TestDecode_LegendFormat(t *testing.T) {
	raw := `{"marks":{"2024-03-01":"2"},"legends":{"2":"ADDAF Unconfirmed"}}`

	doc, err := Decode([]byte(raw), seqID())
	require.NoError(t, err)
	assert.Equal(t, ShapeLegend, doc.Shape)
	require.Len(t, doc.Events, 1)

	ev := doc.Events[0]
	assert.Equal(t, "ADDAF Unconfirmed", ev.Title)
	require.Len(t, ev.Dates, 1)
	assert.Equal(t, model.DateEntry{
		Date:            "2024-03-01",
		Type:            model.TypePerformer,
		StatusVendor:    model.StatusPending,
		StatusPerformer: model.StatusPending,
	}, ev.Dates[0])
}

func TestDecode_LegendNumericKeysAndMissingLabel(t *testing.T) {
	raw := `{"marks":{"2024-03-02":1,"2024-03-01":7},"legends":{"1":"Craft fair"}}`

	doc, err := Decode([]byte(raw), seqID())
	require.NoError(t, err)
	require.Len(t, doc.Events, 2)

	assert.Equal(t, "Event", doc.Events[0].Title)
	assert.Equal(t, "2024-03-01", doc.Events[0].Dates[0].Date)
	assert.Equal(t, "Craft fair", doc.Events[1].Title)
	assert.Equal(t, model.TypeVendor, doc.Events[1].Dates[0].Type)
	assert.Equal(t, model.StatusConfirmed, doc.Events[1].Dates[0].StatusVendor)
}

func TestDecode_BlackoutsOnly(t *testing.T) {
	doc, err := Decode([]byte(`{"blackouts":["2024-12-25","2024-12-24"]}`), seqID())
	require.NoError(t, err)
	assert.Equal(t, ShapeBlackoutsOnly, doc.Shape)
	assert.Empty(t, doc.Events)
	require.Len(t, doc.Blackouts, 1)
	assert.Equal(t, "Blackouts", doc.Blackouts[0].Title)
	assert.Equal(t, []string{"2024-12-24", "2024-12-25"}, doc.Blackouts[0].Dates)
}

func TestDecode_Settings(t *testing.T) {
	raw := `{"events":[{"date":"2024-01-01"}],"settings":{"vendorLabel":"Booth"}}`

	doc, err := Decode([]byte(raw), seqID())
	require.NoError(t, err)
	require.NotNil(t, doc.Settings)
	assert.Equal(t, "Booth", doc.Settings.VendorLabel)
	assert.Equal(t, model.DefaultPerformerLabel, doc.Settings.PerformerLabel)
	require.NotNil(t, doc.SettingsPatch.VendorLabel)
	assert.Nil(t, doc.SettingsPatch.PerformerLabel)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `not json`, ErrInvalidJSON},
		{"trailing garbage", `[] x`, ErrInvalidJSON},
		{"unknown object", `{"foo":1}`, ErrUnrecognized},
		{"scalar", `42`, ErrUnrecognized},
		{"events not a list and no legend", `{"events":{}}`, ErrUnrecognized},
		{"nothing valid", `[{"title":"x"}]`, ErrEmptyPayload},
		{"empty blackouts only", `{"blackouts":[]}`, ErrEmptyPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw), seqID())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestDecodeBase64(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte(`{"events":[]}`))
	data, err := DecodeBase64(enc + "\n")
	require.NoError(t, err)
	assert.Equal(t, `{"events":[]}`, string(data))

	_, err = DecodeBase64("%%%")
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func sampleState() model.CalendarState {
	return model.CalendarState{
		Events: []model.Event{{
			ID:    "e1",
			Title: "Gig",
			Dates: []model.DateEntry{
				{Date: "2024-07-04", Type: model.TypeBoth, StatusVendor: model.StatusConfirmed, StatusPerformer: model.StatusPending},
				{Date: "2024-07-05", Type: model.TypePerformer, StatusVendor: model.StatusPending, StatusPerformer: model.StatusSubmitted},
			},
		}},
		Blackouts: []model.BlackoutGroup{{ID: "g1", Title: "Holiday", Notes: "away", Dates: []string{"2024-12-24", "2024-12-25"}}},
		Settings:  model.Settings{VendorLabel: "Booth", PerformerLabel: "Act", VendorColor: "#000000", PerformerColor: "#ffffff"},
	}
}

func TestExport_RoundTrip(t *testing.T) {
	state := sampleState()

	data, err := Export(state)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"events\": ["))

	doc, err := Decode(data, seqID())
	require.NoError(t, err)
	assert.Equal(t, state.Events, doc.Events)
	assert.Equal(t, state.Blackouts, doc.Blackouts)
	require.NotNil(t, doc.Settings)
	assert.Equal(t, state.Settings, *doc.Settings)
}

func TestExport_EmptyStateUsesArrays(t *testing.T) {
	data, err := Export(model.CalendarState{Settings: model.DefaultSettings()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"events": []`)
	assert.Contains(t, string(data), `"blackouts": []`)
}

func TestExportICS(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := sampleState()
	state.Events[0].Dates = append(state.Events[0].Dates, model.DateEntry{Date: "2024-13-40", Type: model.TypeVendor})

	data, err := ExportICS(state, now)
	require.NoError(t, err)
	out := string(data)

	assert.Equal(t, 4, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "e1-2024-07-04@sevcal")
	assert.Contains(t, out, "blackout-g1-2024-12-25@sevcal")
	assert.Contains(t, out, "SUMMARY:Gig")
	assert.Contains(t, out, "Unavailable: Holiday")
	assert.Contains(t, out, "20240704")
}

func TestInferTypeAndStatus(t *testing.T) {
	assert.Equal(t, model.TypePerformer, InferType("the Addaf show"))
	assert.Equal(t, model.TypeVendor, InferType("market"))
	assert.Equal(t, model.StatusPending, InferStatus("UNCONFIRMED slot"))
	assert.Equal(t, model.StatusConfirmed, InferStatus("Confirmed"))
}

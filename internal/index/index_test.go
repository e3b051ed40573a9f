package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevcal/internal/model"
)

func entry(date string) model.DateEntry {
	return model.DateEntry{Date: date, Type: model.TypeVendor, StatusVendor: model.StatusPending, StatusPerformer: model.StatusPending}
}

func TestBuild_OrderFollowsEventsThenDates(t *testing.T) {
	state := model.CalendarState{
		Events: []model.Event{
			{ID: "b", Title: "B", Dates: []model.DateEntry{entry("2024-01-02"), entry("2024-01-01")}},
			{ID: "a", Title: "A", Dates: []model.DateEntry{entry("2024-01-01")}},
		},
	}
	idx := Build(state)

	got := idx.On("2024-01-01")
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].EventID)
	assert.Equal(t, "a", got[1].EventID)
	assert.Equal(t, "B", got[0].Title)

	assert.Len(t, idx.On("2024-01-02"), 1)
	assert.Empty(t, idx.On("2024-01-03"))
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, idx.Dates())
}

func TestBuild_Blackouts(t *testing.T) {
	state := model.CalendarState{
		Blackouts: []model.BlackoutGroup{
			{ID: "g1", Dates: []string{"2024-12-24", "2024-12-25"}},
			{ID: "g2", Dates: []string{"2024-12-25"}},
		},
	}
	idx := Build(state)

	assert.True(t, idx.IsBlackout("2024-12-24"))
	assert.False(t, idx.IsBlackout("2024-12-26"))
	assert.Equal(t, []string{"g1", "g2"}, idx.BlackoutGroups("2024-12-25"))
	assert.Equal(t, []string{"g1"}, idx.BlackoutGroups("2024-12-24"))
}

func TestRange(t *testing.T) {
	state := model.CalendarState{
		Events:    []model.Event{{ID: "a", Dates: []model.DateEntry{entry("2024-01-05"), entry("2024-02-01")}}},
		Blackouts: []model.BlackoutGroup{{ID: "g", Dates: []string{"2024-01-05", "2024-01-10"}}},
	}
	idx := Build(state)

	assert.Equal(t, []string{"2024-01-05", "2024-01-10"}, idx.Range("2024-01-01", "2024-01-31"))
	assert.Equal(t, []string{"2024-01-05", "2024-01-10", "2024-02-01"}, idx.Range("", ""))
}

func TestBuild_EmptyState(t *testing.T) {
	idx := Build(model.EmptyState())
	assert.Empty(t, idx.Dates())
	assert.False(t, idx.IsBlackout("2024-01-01"))
}

package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const holidayFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//holidays//EN
BEGIN:VEVENT
UID:xmas@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20241225
DTEND;VALUE=DATE:20241227
SUMMARY:Christmas
END:VEVENT
BEGIN:VEVENT
UID:weekly@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20241202
DTEND;VALUE=DATE:20241203
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;VALUE=DATE:20241209
SUMMARY:Closed Monday
END:VEVENT
BEGIN:VEVENT
UID:weekly@test
DTSTAMP:20240101T000000Z
RECURRENCE-ID;VALUE=DATE:20241216
DTSTART;VALUE=DATE:20241217
DTEND;VALUE=DATE:20241218
SUMMARY:Closed Tuesday instead
END:VEVENT
BEGIN:VEVENT
UID:meeting@test
DTSTAMP:20240101T000000Z
DTSTART:20241210T230000Z
DTEND:20241211T010000Z
SUMMARY:Late call
END:VEVENT
BEGIN:VEVENT
UID:cancelled@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20241205
STATUS:CANCELLED
SUMMARY:Nope
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20241206
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`

func feedBody() []byte {
	return []byte(strings.ReplaceAll(holidayFeed, "\n", "\r\n"))
}

func TestParseFeed(t *testing.T) {
	events, err := ParseFeed(Source{ID: "h"}, feedBody())
	require.NoError(t, err)
	require.Len(t, events, 5, "event without UID is skipped")

	xmas := events[0]
	assert.Equal(t, "xmas@test", xmas.UID)
	assert.True(t, xmas.AllDay)
	assert.Equal(t, 2, int(xmas.End.Sub(xmas.Start).Hours()/24))

	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", events[1].RawRRule)
	require.Len(t, events[1].ExDates, 1)
	require.NotNil(t, events[2].Recurrence)
	assert.False(t, events[3].AllDay)
	assert.True(t, events[4].Cancelled)

	_, err = ParseFeed(Source{ID: "h"}, nil)
	assert.Error(t, err)
}

func TestExpandDates(t *testing.T) {
	events, err := ParseFeed(Source{ID: "h"}, feedBody())
	require.NoError(t, err)

	dates, err := ExpandDates(events, ExpandConfig{
		Location: time.UTC,
		From:     time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-12-02", // weekly #1
		// 12-09 excluded by EXDATE
		"2024-12-10", // late call starts
		"2024-12-11", // late call ends after midnight UTC
		"2024-12-17", // override of 12-16
		"2024-12-23", // weekly #4
		"2024-12-25", // christmas, two days
		"2024-12-26",
	}, dates)
}

func TestExpandDatesClipsToWindow(t *testing.T) {
	events, err := ParseFeed(Source{ID: "h"}, feedBody())
	require.NoError(t, err)

	dates, err := ExpandDates(events, ExpandConfig{
		Location: time.UTC,
		From:     time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-12-26"}, dates)

	_, err = ExpandDates(events, ExpandConfig{From: time.Now(), To: time.Now().Add(-time.Hour)})
	assert.Error(t, err)
}

func TestFetcherUsesConditionalCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		switch n {
		case 1:
			w.Header().Set("ETag", `"v1"`)
			w.Write(feedBody())
		case 2:
			assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "h", URL: srv.URL + "/private/token.ics"}

	res, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, feedBody(), res.Body)

	res, err = f.Fetch(context.Background(), src)
	require.NoError(t, err, "server error falls back to cache")
	assert.True(t, res.FromCache)
}

func TestFetcherErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	_, err := f.Fetch(context.Background(), Source{ID: "x", URL: srv.URL})
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), Source{ID: "x"})
	assert.Error(t, err)
}

type sinkCall struct {
	groupID, title string
	dates          []string
}

type fakeSink struct{ calls []sinkCall }

func (s *fakeSink) SyncBlackoutFeed(_ context.Context, groupID, title string, dates []string) error {
	s.calls = append(s.calls, sinkCall{groupID, title, dates})
	return nil
}

func TestRefresherSyncsGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(feedBody())
	}))
	defer srv.Close()

	sink := &fakeSink{}
	r := NewRefresher(NewFetcher(t.TempDir(), srv.Client()), sink, RefresherConfig{
		Sources:     []Source{{ID: "holidays", Name: "Holidays", URL: srv.URL}, {ID: "broken"}},
		HorizonDays: 10,
		Location:    time.UTC,
	})
	r.now = func() time.Time { return time.Date(2024, 12, 20, 15, 0, 0, 0, time.UTC) }

	err := r.RefreshAll(context.Background())
	require.Error(t, err, "broken feed is reported")
	assert.Contains(t, err.Error(), "broken")

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "feed-holidays", sink.calls[0].groupID)
	assert.Equal(t, "Holidays", sink.calls[0].title)
	assert.Equal(t, []string{"2024-12-23", "2024-12-25", "2024-12-26"}, sink.calls[0].dates)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/u/secret.ics?token=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

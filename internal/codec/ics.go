package codec

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"sevcal/internal/model"
)

const icsProductID = "-//sevcal//calendar export//EN"

// ExportICS renders every date entry and every blackout date as an all-day
// VEVENT. Dates that do not exist on the calendar are skipped.
func ExportICS(state model.CalendarState, now time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetName("sevcal")

	labels := map[model.EntryType]string{
		model.TypeVendor:    state.Settings.VendorLabel,
		model.TypePerformer: state.Settings.PerformerLabel,
		model.TypeBoth:      state.Settings.VendorLabel + " + " + state.Settings.PerformerLabel,
	}

	for _, ev := range state.Events {
		for _, entry := range ev.Dates {
			day, err := time.Parse(time.DateOnly, entry.Date)
			if err != nil {
				continue
			}
			vev := cal.AddEvent(fmt.Sprintf("%s-%s@sevcal", ev.ID, entry.Date))
			vev.SetDtStampTime(now)
			vev.SetAllDayStartAt(day)
			vev.SetAllDayEndAt(day.AddDate(0, 0, 1))
			vev.SetSummary(ev.Title)
			vev.SetDescription(entryDescription(entry, state.Settings))
			vev.AddProperty(ical.ComponentPropertyCategories, labels[entry.Type])
			if entry.HasConfirmed() {
				vev.SetStatus(ical.ObjectStatusConfirmed)
			} else {
				vev.SetStatus(ical.ObjectStatusTentative)
			}
		}
	}

	for _, g := range state.Blackouts {
		title := g.Title
		if title == "" {
			title = "Blackout"
		}
		for _, d := range g.Dates {
			day, err := time.Parse(time.DateOnly, d)
			if err != nil {
				continue
			}
			vev := cal.AddEvent(fmt.Sprintf("blackout-%s-%s@sevcal", g.ID, d))
			vev.SetDtStampTime(now)
			vev.SetAllDayStartAt(day)
			vev.SetAllDayEndAt(day.AddDate(0, 0, 1))
			vev.SetSummary("Unavailable: " + title)
			if g.Notes != "" {
				vev.SetDescription(g.Notes)
			}
			vev.SetTimeTransparency(ical.TransparencyOpaque)
		}
	}

	return []byte(cal.Serialize()), nil
}

func entryDescription(e model.DateEntry, s model.Settings) string {
	parts := make([]string, 0, 2)
	if e.VendorActive() {
		parts = append(parts, s.VendorLabel+": "+string(e.StatusVendor))
	}
	if e.PerformerActive() {
		parts = append(parts, s.PerformerLabel+": "+string(e.StatusPerformer))
	}
	return strings.Join(parts, "\n")
}

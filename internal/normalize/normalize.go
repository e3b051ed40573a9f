// Package normalize turns decoded JSON values from imports, storage and the
// host bridge into canonical model records. Inputs may be malformed or use
// legacy shapes; anything that cannot be salvaged is reported as not ok and
// dropped by the caller.
package normalize

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"sevcal/internal/model"
)

const (
	untitledEvent       = "Untitled"
	legacyBlackoutTitle = "Blackouts"
)

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IDFunc generates identifiers for records that arrive without one.
type IDFunc func() string

// NewID is the default IDFunc.
func NewID() string {
	return uuid.NewString()
}

// IsISODate reports whether s has the strict YYYY-MM-DD shape. It does not
// check that the date exists on the calendar.
func IsISODate(s string) bool {
	return isoDateRe.MatchString(s)
}

// Date truncates a raw value to its first 10 characters and validates it.
func Date(raw any) (string, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	if len(s) > 10 {
		s = s[:10]
	}
	if !IsISODate(s) {
		return "", false
	}
	return s, true
}

// Status validates a raw status value, falling back to fallback.
func Status(raw any, fallback model.Status) model.Status {
	if s, ok := raw.(string); ok && model.Status(s).Valid() {
		return model.Status(s)
	}
	return fallback
}

// Type validates a raw entry type, defaulting to vendor.
func Type(raw any) model.EntryType {
	if s, ok := raw.(string); ok && model.EntryType(s).Valid() {
		return model.EntryType(s)
	}
	return model.TypeVendor
}

// Entry builds one DateEntry from loosely typed fields. fallback is the
// record-level status used when a role status is missing or invalid; an
// invalid fallback itself becomes pending.
func Entry(date, typ, statusVendor, statusPerformer, fallback any) (model.DateEntry, bool) {
	d, ok := Date(date)
	if !ok {
		return model.DateEntry{}, false
	}
	fb := Status(fallback, model.StatusPending)
	return model.DateEntry{
		Date:            d,
		Type:            Type(typ),
		StatusVendor:    Status(statusVendor, fb),
		StatusPerformer: Status(statusPerformer, fb),
	}, true
}

// Event normalizes a legacy single-date record, a current multi-date record,
// or a record carrying both. The legacy top-level date comes first.
func Event(raw any, newID IDFunc) (model.Event, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return model.Event{}, false
	}
	if newID == nil {
		newID = NewID
	}

	entries := make([]model.DateEntry, 0)
	if _, has := obj["date"]; has {
		if e, ok := Entry(obj["date"], obj["type"], obj["statusVendor"], obj["statusPerformer"], obj["status"]); ok {
			entries = append(entries, e)
		}
	}
	if list, ok := obj["dates"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if e, ok := Entry(m["date"], m["type"], m["statusVendor"], m["statusPerformer"], m["status"]); ok {
				entries = append(entries, e)
			}
		}
	}
	if len(entries) == 0 {
		return model.Event{}, false
	}

	id := ID(obj["id"])
	if id == "" {
		id = newID()
	}
	return model.Event{
		ID:    id,
		Title: Title(obj["title"]),
		Dates: entries,
	}, true
}

// Events normalizes every element of a raw list, dropping malformed ones.
func Events(raw any, newID IDFunc) []model.Event {
	list, _ := raw.([]any)
	out := make([]model.Event, 0, len(list))
	for _, item := range list {
		if ev, ok := Event(item, newID); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Title trims a raw event title; an empty title becomes "Untitled".
func Title(raw any) string {
	s := strings.TrimSpace(text(raw))
	if s == "" {
		return untitledEvent
	}
	return s
}

// ID accepts string or numeric identifiers.
func ID(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// BlackoutGroup normalizes one group object. Dates are truncated, filtered
// with the strict date shape, deduplicated and sorted.
func BlackoutGroup(raw any, newID IDFunc) (model.BlackoutGroup, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return model.BlackoutGroup{}, false
	}
	if newID == nil {
		newID = NewID
	}
	list, _ := obj["dates"].([]any)
	dates := make([]string, 0, len(list))
	for _, item := range list {
		if d, ok := Date(item); ok {
			dates = append(dates, d)
		}
	}
	dates = SortedDates(dates)
	if len(dates) == 0 {
		return model.BlackoutGroup{}, false
	}

	id := ID(obj["id"])
	if id == "" {
		id = newID()
	}
	return model.BlackoutGroup{
		ID:    id,
		Title: strings.TrimSpace(text(obj["title"])),
		Notes: strings.TrimSpace(text(obj["notes"])),
		Dates: dates,
	}, true
}

// Blackouts normalizes the blackouts value of a payload. A list whose first
// element is a string is the legacy flat format and becomes one group
// titled "Blackouts"; anything else is a list of group objects.
func Blackouts(raw any, newID IDFunc) []model.BlackoutGroup {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return []model.BlackoutGroup{}
	}
	if newID == nil {
		newID = NewID
	}

	if _, flat := list[0].(string); flat {
		dates := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && IsISODate(s) {
				dates = append(dates, s)
			}
		}
		dates = SortedDates(dates)
		if len(dates) == 0 {
			return []model.BlackoutGroup{}
		}
		return []model.BlackoutGroup{{
			ID:    newID(),
			Title: legacyBlackoutTitle,
			Dates: dates,
		}}
	}

	out := make([]model.BlackoutGroup, 0, len(list))
	for _, item := range list {
		if g, ok := BlackoutGroup(item, newID); ok {
			out = append(out, g)
		}
	}
	return out
}

// SortedDates returns dates deduplicated and sorted ascending. The input is
// not modified.
func SortedDates(dates []string) []string {
	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Settings never fails: missing or blank fields take their defaults. Color
// values are passed through without hex validation.
func Settings(raw any) model.Settings {
	s := model.DefaultSettings()
	obj, ok := raw.(map[string]any)
	if !ok {
		return s
	}
	if v := strings.TrimSpace(text(obj["vendorLabel"])); v != "" {
		s.VendorLabel = v
	}
	if v := strings.TrimSpace(text(obj["performerLabel"])); v != "" {
		s.PerformerLabel = v
	}
	if v, ok := obj["vendorColor"].(string); ok {
		s.VendorColor = v
	}
	if v, ok := obj["performerColor"].(string); ok {
		s.PerformerColor = v
	}
	return s
}

// SettingsPatch holds only the settings fields a payload actually carried.
type SettingsPatch struct {
	VendorLabel    *string
	PerformerLabel *string
	VendorColor    *string
	PerformerColor *string
}

// Apply overlays the present fields onto base.
func (p SettingsPatch) Apply(base model.Settings) model.Settings {
	if p.VendorLabel != nil {
		base.VendorLabel = *p.VendorLabel
	}
	if p.PerformerLabel != nil {
		base.PerformerLabel = *p.PerformerLabel
	}
	if p.VendorColor != nil {
		base.VendorColor = *p.VendorColor
	}
	if p.PerformerColor != nil {
		base.PerformerColor = *p.PerformerColor
	}
	return base
}

// PatchSettings extracts the usable fields of a raw settings object. Blank
// labels and non-string colors are treated as absent.
func PatchSettings(raw any) SettingsPatch {
	var p SettingsPatch
	obj, ok := raw.(map[string]any)
	if !ok {
		return p
	}
	if v := strings.TrimSpace(text(obj["vendorLabel"])); v != "" {
		p.VendorLabel = &v
	}
	if v := strings.TrimSpace(text(obj["performerLabel"])); v != "" {
		p.PerformerLabel = &v
	}
	if v, ok := obj["vendorColor"].(string); ok {
		p.VendorColor = &v
	}
	if v, ok := obj["performerColor"].(string); ok {
		p.PerformerColor = &v
	}
	return p
}

// text renders scalar JSON values as strings and everything else as "".
func text(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

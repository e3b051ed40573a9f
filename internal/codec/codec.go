// Package codec reads and writes the portable calendar document and the
// legacy import formats.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"sevcal/internal/model"
	"sevcal/internal/normalize"
)

var (
	// ErrInvalidJSON wraps any parser failure of an import payload.
	ErrInvalidJSON = errors.New("invalid JSON file")
	// ErrUnrecognized means the payload is JSON but matches no known shape.
	ErrUnrecognized = errors.New("JSON must be an array of events, {events:[...]}, or {marks, legends}")
	// ErrEmptyPayload means no valid event and no valid blackout survived normalization.
	ErrEmptyPayload = errors.New("no valid events found in JSON")
)

// Shape identifies which import format a payload was read as.
type Shape int

const (
	ShapeCanonical Shape = iota + 1
	ShapeLegend
	ShapeBlackoutsOnly
)

func (s Shape) String() string {
	switch s {
	case ShapeCanonical:
		return "canonical"
	case ShapeLegend:
		return "legend"
	case ShapeBlackoutsOnly:
		return "blackouts-only"
	}
	return "unknown"
}

// Document is a decoded import payload, already normalized.
type Document struct {
	Shape     Shape
	Events    []model.Event
	Blackouts []model.BlackoutGroup

	// Settings is nil when the payload carried no settings object.
	Settings      *model.Settings
	SettingsPatch normalize.SettingsPatch
}

// ParseJSON decodes raw into generic JSON values, keeping numbers as
// json.Number. Trailing data after the first value is an error.
func ParseJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// Decode parses an import payload. Formats are tried in order: canonical
// (event array or {events}), legend ({marks, legends}), blackouts-only.
func Decode(raw []byte, newID normalize.IDFunc) (Document, error) {
	parsed, err := ParseJSON(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	var (
		doc     Document
		records []any
	)
	if list, ok := canonicalRecords(parsed); ok {
		doc.Shape, records = ShapeCanonical, list
	} else if list, ok := legendRecords(parsed); ok {
		doc.Shape, records = ShapeLegend, list
	} else if hasBlackoutList(parsed) {
		doc.Shape, records = ShapeBlackoutsOnly, nil
	} else {
		return Document{}, ErrUnrecognized
	}

	obj, _ := parsed.(map[string]any)
	doc.Events = make([]model.Event, 0, len(records))
	for _, rec := range records {
		if ev, ok := normalize.Event(rec, newID); ok {
			doc.Events = append(doc.Events, ev)
		}
	}
	doc.Blackouts = normalize.Blackouts(obj["blackouts"], newID)

	if len(doc.Events) == 0 && len(doc.Blackouts) == 0 {
		return Document{}, ErrEmptyPayload
	}

	if s, ok := obj["settings"].(map[string]any); ok {
		full := normalize.Settings(s)
		doc.Settings = &full
		doc.SettingsPatch = normalize.PatchSettings(s)
	}
	return doc, nil
}

// DecodeBase64 decodes a base64 payload handed over by a native host.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrInvalidJSON, err)
	}
	return data, nil
}

func canonicalRecords(parsed any) ([]any, bool) {
	if list, ok := parsed.([]any); ok {
		return list, true
	}
	if obj, ok := parsed.(map[string]any); ok {
		if list, ok := obj["events"].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

// legendRecords maps {marks: {date: key}, legends: {key: label}} onto legacy
// single-date event records, one per mark, ordered by date.
func legendRecords(parsed any) ([]any, bool) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, false
	}
	marks, ok := obj["marks"].(map[string]any)
	if !ok {
		return nil, false
	}
	legends, ok := obj["legends"].(map[string]any)
	if !ok {
		return nil, false
	}

	dates := make([]string, 0, len(marks))
	for d := range marks {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]any, 0, len(dates))
	for _, d := range dates {
		label := scalar(legends[scalar(marks[d])])
		if label == "" {
			label = "Event"
		}
		out = append(out, map[string]any{
			"date":   d,
			"title":  label,
			"type":   string(InferType(label)),
			"status": string(InferStatus(label)),
		})
	}
	return out, true
}

func hasBlackoutList(parsed any) bool {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return false
	}
	_, ok = obj["blackouts"].([]any)
	return ok
}

// InferType reads the role from a legend label: labels mentioning ADDAF are
// performer bookings.
func InferType(label string) model.EntryType {
	if strings.Contains(strings.ToLower(label), "addaf") {
		return model.TypePerformer
	}
	return model.TypeVendor
}

// InferStatus reads the status from a legend label.
func InferStatus(label string) model.Status {
	if strings.Contains(strings.ToLower(label), "unconfirmed") {
		return model.StatusPending
	}
	return model.StatusConfirmed
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

// Export renders the full state as the portable pretty-printed document.
func Export(state model.CalendarState) ([]byte, error) {
	data, err := json.MarshalIndent(state.Clone(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return data, nil
}

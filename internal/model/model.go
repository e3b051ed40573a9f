package model

// EntryType says which booking roles a DateEntry tracks.
type EntryType string

const (
	TypeVendor    EntryType = "vendor"
	TypePerformer EntryType = "performer"
	TypeBoth      EntryType = "both"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeVendor, TypePerformer, TypeBoth:
		return true
	}
	return false
}

// DeriveType maps the two role checkboxes of the event form onto an
// EntryType. With neither role selected the entry becomes a vendor entry.
func DeriveType(vendor, performer bool) EntryType {
	switch {
	case vendor && performer:
		return TypeBoth
	case performer:
		return TypePerformer
	default:
		return TypeVendor
	}
}

// Status is the booking status of one role on one date.
type Status string

const (
	StatusContacted Status = "contacted"
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusContacted,
	StatusSubmitted,
	StatusPending,
	StatusConfirmed,
	StatusRejected,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusContacted, StatusSubmitted, StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// DateEntry is one date occurrence of an Event. It carries its own role
// type and per-role booking status.
type DateEntry struct {
	Date            string    `json:"date"`
	Type            EntryType `json:"type"`
	StatusVendor    Status    `json:"statusVendor"`
	StatusPerformer Status    `json:"statusPerformer"`
}

// VendorActive reports whether StatusVendor is meaningful for this entry.
func (e DateEntry) VendorActive() bool {
	return e.Type == TypeVendor || e.Type == TypeBoth
}

// PerformerActive reports whether StatusPerformer is meaningful for this entry.
func (e DateEntry) PerformerActive() bool {
	return e.Type == TypePerformer || e.Type == TypeBoth
}

// HasConfirmed reports whether either role status is confirmed.
func (e DateEntry) HasConfirmed() bool {
	return e.StatusVendor == StatusConfirmed || e.StatusPerformer == StatusConfirmed
}

// Event is a titled set of date entries. An Event with no dates is never
// kept in a CalendarState.
type Event struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Dates []DateEntry `json:"dates"`
}

// HasDate reports whether the event owns an entry on date.
func (e Event) HasDate(date string) bool {
	for _, d := range e.Dates {
		if d.Date == date {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	out.Dates = append([]DateEntry(nil), e.Dates...)
	return out
}

// BlackoutGroup is a titled set of unavailable dates. Dates are unique and
// sorted ascending.
type BlackoutGroup struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Notes string   `json:"notes"`
	Dates []string `json:"dates"`
}

// HasDate reports whether date is part of the group.
func (g BlackoutGroup) HasDate(date string) bool {
	for _, d := range g.Dates {
		if d == date {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of g.
func (g BlackoutGroup) Clone() BlackoutGroup {
	out := g
	out.Dates = append([]string(nil), g.Dates...)
	return out
}

const (
	DefaultVendorLabel    = "Vendor"
	DefaultPerformerLabel = "Performer"
	DefaultVendorColor    = "#2b8cff"
	DefaultPerformerColor = "#ff6a88"
)

// Settings holds the display labels and colors of the two booking roles.
type Settings struct {
	VendorLabel    string `json:"vendorLabel"`
	PerformerLabel string `json:"performerLabel"`
	VendorColor    string `json:"vendorColor"`
	PerformerColor string `json:"performerColor"`
}

// DefaultSettings returns the settings used when nothing was stored.
func DefaultSettings() Settings {
	return Settings{
		VendorLabel:    DefaultVendorLabel,
		PerformerLabel: DefaultPerformerLabel,
		VendorColor:    DefaultVendorColor,
		PerformerColor: DefaultPerformerColor,
	}
}

// CalendarState is the aggregate root: the only unit that is persisted and
// exported.
type CalendarState struct {
	Events    []Event         `json:"events"`
	Blackouts []BlackoutGroup `json:"blackouts"`
	Settings  Settings        `json:"settings"`
}

// EmptyState returns a state with no events, no blackouts and default
// settings.
func EmptyState() CalendarState {
	return CalendarState{
		Events:    []Event{},
		Blackouts: []BlackoutGroup{},
		Settings:  DefaultSettings(),
	}
}

// Clone returns a deep copy of s. Nil slices come back as empty slices so
// the copy always encodes as JSON arrays.
func (s CalendarState) Clone() CalendarState {
	out := CalendarState{
		Events:    make([]Event, 0, len(s.Events)),
		Blackouts: make([]BlackoutGroup, 0, len(s.Blackouts)),
		Settings:  s.Settings,
	}
	for _, ev := range s.Events {
		out.Events = append(out.Events, ev.Clone())
	}
	for _, g := range s.Blackouts {
		out.Blackouts = append(out.Blackouts, g.Clone())
	}
	return out
}

// FindEvent returns the index of the event with the given id, or -1.
func (s CalendarState) FindEvent(id string) int {
	for i, ev := range s.Events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

// FindBlackout returns the index of the blackout group with the given id, or -1.
func (s CalendarState) FindBlackout(id string) int {
	for i, g := range s.Blackouts {
		if g.ID == id {
			return i
		}
	}
	return -1
}

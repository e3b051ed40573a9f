package web

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"sevcal/internal/calendar"
	"sevcal/internal/codec"
	"sevcal/internal/model"
	"sevcal/internal/normalize"
	"sevcal/internal/recur"
)

// maxBodySize bounds request bodies, imports included.
const maxBodySize = 8 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusBadRequest, codec.ErrInvalidJSON.Error())
		return false
	}
	return true
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	type stateResp struct {
		Revision uint64 `json:"revision"`
		model.CalendarState
	}
	writeJSON(w, http.StatusOK, stateResp{Revision: s.cal.Revision(), CalendarState: s.cal.State()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, d := range []string{from, to} {
		if d != "" && !normalize.IsISODate(d) {
			writeCalendarError(w, calendar.ErrInvalidDate)
			return
		}
	}

	days := []calendar.Day{}
	for _, d := range s.cal.Index().Range(from, to) {
		day, err := s.cal.Day(d)
		if err != nil {
			writeCalendarError(w, err)
			return
		}
		days = append(days, day)
	}
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.cal.Day(r.PathValue("date"))
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleSetEvents(w http.ResponseWriter, r *http.Request) {
	var raw any
	if !decodeBody(w, r, &raw) {
		return
	}
	if _, ok := raw.([]any); !ok {
		writeError(w, http.StatusBadRequest, "events must be a JSON array")
		return
	}
	if err := s.cal.SetEvents(r.Context(), raw); err != nil {
		writeCalendarError(w, err)
		return
	}
	s.handleState(w, r)
}

// recurrenceRequest asks the server to expand an RRULE into target dates.
type recurrenceRequest struct {
	Rule  string `json:"rule"`
	Start string `json:"start"`
	Limit int    `json:"limit"`
}

type eventRequest struct {
	calendar.EventForm
	Dates      []string           `json:"dates"`
	Recurrence *recurrenceRequest `json:"recurrence,omitempty"`
}

func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dates := req.Dates
	if req.Recurrence != nil {
		expanded, err := recur.Dates(req.Recurrence.Rule, req.Recurrence.Start, req.Recurrence.Limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		dates = append(dates, expanded...)
	}

	id := r.PathValue("id")
	res, err := s.cal.AddOrUpdateEvent(r.Context(), req.EventForm, dates, id)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.RemoveEvent(r.Context(), r.PathValue("id")); err != nil {
		writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// entryPatch carries the fields of a date entry to change. Absent fields
// keep their value.
type entryPatch struct {
	Type            *model.EntryType `json:"type"`
	StatusVendor    *model.Status    `json:"statusVendor"`
	StatusPerformer *model.Status    `json:"statusPerformer"`
}

func (p entryPatch) apply(e model.DateEntry) model.DateEntry {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.StatusVendor != nil {
		e.StatusVendor = *p.StatusVendor
	}
	if p.StatusPerformer != nil {
		e.StatusPerformer = *p.StatusPerformer
	}
	return e
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var patch entryPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	id, date := r.PathValue("id"), r.PathValue("date")
	if err := s.cal.UpdateEntry(r.Context(), id, date, patch.apply); err != nil {
		writeCalendarError(w, err)
		return
	}
	day, err := s.cal.Day(date)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleRemoveDateEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.RemoveDateEntry(r.Context(), r.PathValue("id"), r.PathValue("date")); err != nil {
		writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveBlackout(w http.ResponseWriter, r *http.Request) {
	var form calendar.BlackoutForm
	if !decodeBody(w, r, &form) {
		return
	}
	id := r.PathValue("id")
	group, err := s.cal.SaveBlackoutGroup(r.Context(), form, id)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, group)
}

func (s *Server) handleRemoveBlackout(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.RemoveBlackoutGroup(r.Context(), r.PathValue("id")); err != nil {
		writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddBlackoutGroupDate(w http.ResponseWriter, r *http.Request) {
	s.dayAfter(w, r, s.cal.AddDateToBlackoutGroup(r.Context(), r.PathValue("id"), r.PathValue("date")))
}

func (s *Server) handleRemoveBlackoutGroupDate(w http.ResponseWriter, r *http.Request) {
	s.dayAfter(w, r, s.cal.RemoveBlackoutDateFromGroup(r.Context(), r.PathValue("id"), r.PathValue("date")))
}

func (s *Server) handleAddBlackoutDate(w http.ResponseWriter, r *http.Request) {
	s.dayAfter(w, r, s.cal.AddBlackoutDate(r.Context(), r.PathValue("date")))
}

func (s *Server) handleRemoveBlackoutDate(w http.ResponseWriter, r *http.Request) {
	s.dayAfter(w, r, s.cal.RemoveBlackoutDate(r.Context(), r.PathValue("date")))
}

// dayAfter answers a blackout date operation with the day it touched.
func (s *Server) dayAfter(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	s.handleDay(w, r)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var raw any
	if !decodeBody(w, r, &raw) {
		return
	}
	settings, err := s.cal.UpdateSettings(r.Context(), raw)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.cal.ExportState()
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events-export.json"`)
	_, _ = w.Write(data)
}

func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request) {
	data, err := codec.ExportICS(s.cal.State(), time.Now())
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events-export.ics"`)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	mode, err := calendar.ParseImportMode(r.URL.Query().Get("mode"), calendar.ModeMerge)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	res, err := s.cal.ImportPayload(r.Context(), data, mode)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImportBase64(w http.ResponseWriter, r *http.Request) {
	mode, err := calendar.ParseImportMode(r.URL.Query().Get("mode"), calendar.ModeReplace)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Data string `json:"data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.cal.ImportFromBase64(r.Context(), req.Data, mode)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.ResetCalendar(r.Context()); err != nil {
		writeCalendarError(w, err)
		return
	}
	s.handleState(w, r)
}

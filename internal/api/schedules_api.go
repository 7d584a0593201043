package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"teamplan/internal/interval"
	"teamplan/internal/metrics"
	"teamplan/internal/models"
)

// CreateScheduleRequest is the request body for POST /api/schedules.
type CreateScheduleRequest struct {
	Title          string    `json:"title"`
	Content        string    `json:"content,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Type           string    `json:"type"` // "personal" or "team"
	TeamID         *int64    `json:"team_id,omitempty"`
	ParticipantIDs []int64   `json:"participant_ids,omitempty"`
}

// UpdateRangeRequest is the request body for PUT /api/schedules/{id}/range.
type UpdateRangeRequest struct {
	NewStart   time.Time `json:"new_start"`
	NewEnd     time.Time `json:"new_end"`
	NewContent *string   `json:"new_content,omitempty"`
}

// InviteResponseRequest is the request body for POST /api/schedules/{id}/respond.
type InviteResponseRequest struct {
	Accept bool `json:"accept"`
}

// handleCreateSchedule creates a schedule entry.
// POST /api/schedules
func (s *HTTPServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedules")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req CreateScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	schedType := models.SchedulePersonal
	if req.Type == string(models.ScheduleTeam) {
		schedType = models.ScheduleTeam
		if req.TeamID == nil {
			writeError(w, http.StatusBadRequest, "team_id is required for team schedules")
			return
		}
	}

	sched := &models.Schedule{
		Title:     req.Title,
		Content:   req.Content,
		StartTime: req.Start,
		EndTime:   req.End,
		Type:      schedType,
		TeamID:    req.TeamID,
		CreatorID: callerID(r),
	}

	if err := s.schedules.CreateSchedule(r.Context(), sched, req.ParticipantIDs); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"schedule_id": sched.ID})
}

// handleScheduleSubroute dispatches per-schedule operations.
// PUT    /api/schedules/{id}/range
// GET    /api/schedules/{id}/free-slots?date=YYYY-MM-DD
// POST   /api/schedules/{id}/respond
// DELETE /api/schedules/{id}
func (s *HTTPServer) handleScheduleSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	scheduleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || scheduleID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.cancelSchedule(w, r, scheduleID)
		return
	}

	switch parts[1] {
	case "range":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed; use PUT")
			return
		}
		s.updateScheduleRange(w, r, scheduleID)
	case "free-slots":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
			return
		}
		s.freeSlots(w, r, scheduleID)
	case "respond":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
			return
		}
		s.respondToInvite(w, r, scheduleID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *HTTPServer) updateScheduleRange(w http.ResponseWriter, r *http.Request, scheduleID int64) {
	metrics.IncHTTP("schedule_range")

	var req UpdateRangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.schedules.UpdateRange(r.Context(), scheduleID, callerID(r),
		interval.New(req.NewStart, req.NewEnd), req.NewContent)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *HTTPServer) cancelSchedule(w http.ResponseWriter, r *http.Request, scheduleID int64) {
	metrics.IncHTTP("schedule_cancel")

	if err := s.schedules.Cancel(r.Context(), scheduleID, callerID(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *HTTPServer) respondToInvite(w http.ResponseWriter, r *http.Request, scheduleID int64) {
	metrics.IncHTTP("schedule_respond")

	var req InviteResponseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.schedules.RespondToInvite(r.Context(), scheduleID, callerID(r), req.Accept); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusForAccept(req.Accept)})
}

func statusForAccept(accept bool) string {
	if accept {
		return string(models.ParticipantConfirmed)
	}
	return string(models.ParticipantDeclined)
}

// SlotResponse is one slot in the free-slot listing.
type SlotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// freeSlots lists alternative slots for the schedule's participants on the
// requested day. The schedule itself does not block its own alternatives.
func (s *HTTPServer) freeSlots(w http.ResponseWriter, r *http.Request, scheduleID int64) {
	metrics.IncHTTP("free_slots")

	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date query parameter is required")
		return
	}
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	sched, err := s.reader.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	participants, err := s.reader.ListParticipants(r.Context(), scheduleID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	ids := []int64{sched.CreatorID}
	for _, p := range participants {
		if p.Status == models.ParticipantDeclined || p.UserID == sched.CreatorID {
			continue
		}
		ids = append(ids, p.UserID)
	}

	result, err := s.slots.FreeSlots(r.Context(), ids, day, s.cfg.SlotWindow, scheduleID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]SlotResponse, 0, len(result))
	for _, slot := range result {
		out = append(out, SlotResponse{Start: slot.Start, End: slot.End, Available: slot.Available})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": dateStr, "slots": out})
}

// handleTeamSubroute serves the per-team message log.
// GET /api/teams/{id}/messages?date=YYYY-MM-DD&limit=&offset=
func (s *HTTPServer) handleTeamSubroute(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("team_messages")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/teams/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "messages" {
		writeError(w, http.StatusNotFound, "unknown path")
		return
	}

	teamID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || teamID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid team id")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = models.DateBucket(time.Now())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := s.messages.ListMessages(r.Context(), teamID, date, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"team_id":  teamID,
		"date":     date,
		"messages": messages,
	})
}

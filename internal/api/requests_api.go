package api

import (
	"net/http"
	"strings"
	"time"

	"teamplan/internal/interval"
	"teamplan/internal/metrics"
	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

// ProposeChangeRequest is the request body for POST /api/change-requests.
type ProposeChangeRequest struct {
	ScheduleID int64     `json:"schedule_id"`
	NewStart   time.Time `json:"new_start"`
	NewEnd     time.Time `json:"new_end"`
	NewContent *string   `json:"new_content,omitempty"`
}

// ChangeRequestResponse is the wire shape of a change request.
type ChangeRequestResponse struct {
	RequestID  string    `json:"request_id"`
	ScheduleID int64     `json:"schedule_id"`
	ProposerID int64     `json:"proposer_id"`
	NewStart   time.Time `json:"new_start"`
	NewEnd     time.Time `json:"new_end"`
	State      string    `json:"state"`
	ResolvedBy *int64    `json:"resolved_by,omitempty"`
}

func requestResponse(req *models.ChangeRequest) ChangeRequestResponse {
	return ChangeRequestResponse{
		RequestID:  req.ID,
		ScheduleID: req.ScheduleID,
		ProposerID: req.ProposerID,
		NewStart:   req.NewStart,
		NewEnd:     req.NewEnd,
		State:      string(req.State),
		ResolvedBy: req.ResolvedBy,
	}
}

// handleCreateChangeRequest proposes a schedule change.
// POST /api/change-requests
func (s *HTTPServer) handleCreateChangeRequest(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("change_requests")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ProposeChangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScheduleID <= 0 {
		writeError(w, http.StatusBadRequest, "schedule_id is required")
		return
	}

	created, err := s.negotiator.Propose(r.Context(), req.ScheduleID, callerID(r),
		interval.New(req.NewStart, req.NewEnd), req.NewContent)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requestResponse(created))
}

// DecisionRequest is the request body for resolving a change request.
type DecisionRequest struct {
	Decision string `json:"decision"` // "approve" or "reject"
}

// handleChangeRequestAction dispatches the per-request subroutes.
// POST /api/change-requests/{id}/resolve
// POST /api/change-requests/{id}/ack
func (s *HTTPServer) handleChangeRequestAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/change-requests/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	requestID, action := parts[0], parts[1]

	switch action {
	case "resolve":
		s.resolveChangeRequest(w, r, requestID)
	case "ack":
		s.acknowledgeChangeRequest(w, r, requestID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *HTTPServer) resolveChangeRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	metrics.IncHTTP("change_request_resolve")

	var body DecisionRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision := negotiation.Decision(body.Decision)
	if !decision.Valid() {
		writeError(w, http.StatusBadRequest, "decision must be \"approve\" or \"reject\"")
		return
	}

	resolved, err := s.negotiator.Resolve(r.Context(), requestID, callerID(r), decision)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requestResponse(resolved))
}

func (s *HTTPServer) acknowledgeChangeRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	metrics.IncHTTP("change_request_ack")

	if err := s.negotiator.Acknowledge(r.Context(), requestID, callerID(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// NotificationResponse is one unseen resolution in the feed.
type NotificationResponse struct {
	RequestID     string    `json:"request_id"`
	ScheduleID    int64     `json:"schedule_id"`
	ScheduleTitle string    `json:"schedule_title"`
	State         string    `json:"state"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// handleNotifications returns the caller's resolved-but-unacknowledged
// change requests.
// GET /api/notifications
func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("notifications")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	notices, err := s.feed.UnseenResolutions(r.Context(), callerID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]NotificationResponse, 0, len(notices))
	for _, n := range notices {
		out = append(out, NotificationResponse{
			RequestID:     n.RequestID,
			ScheduleID:    n.ScheduleID,
			ScheduleTitle: n.ScheduleTitle,
			State:         string(n.State),
			ResolvedAt:    n.ResolvedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

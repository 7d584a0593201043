// Package api exposes the scheduling and negotiation operations over an
// HTTP JSON surface. Callers authenticate with an x-api-key header and
// identify the acting user with X-User-ID.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"teamplan/internal/conflict"
	"teamplan/internal/database"
	"teamplan/internal/interval"
	"teamplan/internal/models"
	"teamplan/internal/negotiation"
	"teamplan/internal/slots"
)

// Negotiator is the slice of the negotiation coordinator the API uses.
type Negotiator interface {
	Propose(ctx context.Context, scheduleID, proposerID int64, newRange interval.Interval, newContent *string) (*models.ChangeRequest, error)
	Resolve(ctx context.Context, requestID string, deciderID int64, decision negotiation.Decision) (*models.ChangeRequest, error)
	Acknowledge(ctx context.Context, requestID string, userID int64) error
}

// ScheduleManager covers direct schedule writes.
type ScheduleManager interface {
	CreateSchedule(ctx context.Context, sched *models.Schedule, participantIDs []int64) error
	UpdateRange(ctx context.Context, scheduleID, actorID int64, newRange interval.Interval, content *string) error
	Cancel(ctx context.Context, scheduleID, actorID int64) error
	RespondToInvite(ctx context.Context, scheduleID, userID int64, accept bool) error
}

// ScheduleReader reads schedules and their participants.
type ScheduleReader interface {
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	ListParticipants(ctx context.Context, scheduleID int64) ([]models.Participant, error)
}

// MessageStore reads the per-team day-bucketed message log.
type MessageStore interface {
	ListMessages(ctx context.Context, teamID int64, date string, limit, offset int) ([]models.Message, error)
}

// SlotSource generates free-slot alternatives for a set of participants.
type SlotSource interface {
	FreeSlots(ctx context.Context, participantIDs []int64, day time.Time, w slots.Window, excludeScheduleID int64) ([]slots.Slot, error)
}

// NotificationFeed serves resolved-but-unacknowledged requests.
type NotificationFeed interface {
	UnseenResolutions(ctx context.Context, userID int64) ([]models.ResolutionNotice, error)
}

// Config holds API server settings.
type Config struct {
	APIKeys       []string
	RatePerMinute int
	RateBurst     int
	SlotWindow    slots.Window
}

// HTTPServer wires the handlers onto a stdlib mux.
type HTTPServer struct {
	mux        *http.ServeMux
	log        *zerolog.Logger
	cfg        Config
	negotiator Negotiator
	schedules  ScheduleManager
	reader     ScheduleReader
	messages   MessageStore
	slots      SlotSource
	feed       NotificationFeed
	limiters   *userLimiters
}

func NewHTTPServer(
	cfg Config,
	negotiator Negotiator,
	schedules ScheduleManager,
	reader ScheduleReader,
	messages MessageStore,
	slotSource SlotSource,
	feed NotificationFeed,
	logger *zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		mux:        http.NewServeMux(),
		log:        logger,
		cfg:        cfg,
		negotiator: negotiator,
		schedules:  schedules,
		reader:     reader,
		messages:   messages,
		slots:      slotSource,
		feed:       feed,
		limiters:   newUserLimiters(cfg.RatePerMinute, cfg.RateBurst),
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/api/change-requests", s.protect(s.handleCreateChangeRequest))
	s.mux.HandleFunc("/api/change-requests/", s.protect(s.handleChangeRequestAction))
	s.mux.HandleFunc("/api/notifications", s.protect(s.handleNotifications))
	s.mux.HandleFunc("/api/schedules", s.protect(s.handleCreateSchedule))
	s.mux.HandleFunc("/api/schedules/", s.protect(s.handleScheduleSubroute))
	s.mux.HandleFunc("/api/teams/", s.protect(s.handleTeamSubroute))
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// conflictJSON is the wire shape of one detected overlap.
type conflictJSON struct {
	UserID     int64     `json:"user_id"`
	ScheduleID int64     `json:"schedule_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

func conflictPayload(cErr *conflict.Error) []conflictJSON {
	out := make([]conflictJSON, 0, len(cErr.Conflicts))
	for _, c := range cErr.Conflicts {
		out = append(out, conflictJSON{
			UserID:     c.UserID,
			ScheduleID: c.ScheduleID,
			Title:      c.Title,
			Start:      c.Start,
			End:        c.End,
		})
	}
	return out
}

// writeServiceError maps domain errors onto HTTP statuses. Conflict errors
// carry the full overlap list so clients can render alternatives.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	if cErr, ok := conflict.AsError(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "schedule conflict",
			"conflicts": conflictPayload(cErr),
		})
		return
	}

	switch {
	case errors.Is(err, conflict.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conflict.ErrUnknownParticipant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, negotiation.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, negotiation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, negotiation.ErrRequestAlreadyPending):
		writeError(w, http.StatusConflict, "a pending change request already exists for this schedule")
	case errors.Is(err, negotiation.ErrRequestAlreadyResolved):
		writeError(w, http.StatusConflict, "change request is already resolved")
	case errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "schedule was modified concurrently; retry")
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

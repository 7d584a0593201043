// Package google mirrors team schedules and the change-request log into a
// Google Sheets spreadsheet for people who live in spreadsheets.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"teamplan/internal/models"
)

// requestsSheet is where the change-request log lives.
const requestsSheet = "Requests"

var requestHeaders = []interface{}{
	"ID", "Schedule", "Proposer", "Date", "New start", "New end", "Status", "Resolved by",
}

// SheetsService pushes schedule and request data to a spreadsheet. Row
// positions of already-written requests are cached so a resolution updates
// the original row instead of appending a duplicate.
type SheetsService struct {
	srv           *sheets.Service
	spreadsheetID string
	logger        *zerolog.Logger

	mu       sync.RWMutex
	rowCache map[string]int
}

// NewSheetsService authenticates with a service-account key file.
func NewSheetsService(ctx context.Context, credentialsPath, spreadsheetID string, logger *zerolog.Logger) (*SheetsService, error) {
	creds, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	return &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		rowCache:      make(map[string]int),
	}, nil
}

// SyncChangeRequests rewrites the request log sheet from scratch.
func (s *SheetsService) SyncChangeRequests(ctx context.Context, requests []models.ChangeRequest) error {
	if err := s.ensureSheet(ctx, requestsSheet); err != nil {
		return err
	}

	values := [][]interface{}{requestHeaders}
	s.mu.Lock()
	s.rowCache = make(map[string]int)
	for i, req := range requests {
		values = append(values, requestRowValues(&req))
		// Sheet rows are 1-based and row 1 is the header.
		s.rowCache[req.ID] = i + 2
	}
	s.mu.Unlock()

	vr := &sheets.ValueRange{Values: values}
	_, err := s.srv.Spreadsheets.Values.
		Update(s.spreadsheetID, requestsSheet+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sync change requests: %w", err)
	}

	s.logger.Debug().Int("count", len(requests)).Msg("Synced change requests to sheet")
	return nil
}

// UpsertChangeRequest writes one request, updating its existing row when
// the request was synced before.
func (s *SheetsService) UpsertChangeRequest(ctx context.Context, req *models.ChangeRequest) error {
	if err := s.ensureSheet(ctx, requestsSheet); err != nil {
		return err
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{requestRowValues(req)}}

	if row, ok := s.getCachedRow(req.ID); ok {
		_, err := s.srv.Spreadsheets.Values.
			Update(s.spreadsheetID, fmt.Sprintf("%s!A%d", requestsSheet, row), vr).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("update request row: %w", err)
		}
		return nil
	}

	resp, err := s.srv.Spreadsheets.Values.
		Append(s.spreadsheetID, requestsSheet+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append request row: %w", err)
	}

	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		if row, ok := parseRowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(req.ID, row)
		}
	}
	return nil
}

// UpdateTeamGrid renders one sheet per team: members down the side, days
// across the top, schedule titles in the cells.
func (s *SheetsService) UpdateTeamGrid(ctx context.Context, sheetTitle string, members []models.User, schedules []models.Schedule, startDate, endDate time.Time) error {
	if err := s.ensureSheet(ctx, sheetTitle); err != nil {
		return err
	}

	headers, days := s.prepareDateHeaders(startDate, endDate)
	values := [][]interface{}{headers}

	byCreatorAndDay := make(map[int64]map[string][]models.Schedule)
	for _, sched := range schedules {
		day := models.DateBucket(sched.StartTime)
		if byCreatorAndDay[sched.CreatorID] == nil {
			byCreatorAndDay[sched.CreatorID] = make(map[string][]models.Schedule)
		}
		byCreatorAndDay[sched.CreatorID][day] = append(byCreatorAndDay[sched.CreatorID][day], sched)
	}

	for _, member := range members {
		row := make([]interface{}, 0, days+1)
		row = append(row, member.Name)
		for d := 0; d < days; d++ {
			day := models.DateBucket(startDate.AddDate(0, 0, d))
			row = append(row, formatGridCell(byCreatorAndDay[member.ID][day]))
		}
		values = append(values, row)
	}

	vr := &sheets.ValueRange{Values: values}
	_, err := s.srv.Spreadsheets.Values.
		Update(s.spreadsheetID, sheetTitle+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update team grid: %w", err)
	}

	s.logger.Debug().
		Str("sheet", sheetTitle).
		Int("members", len(members)).
		Msg("Updated team grid")
	return nil
}

// ensureSheet creates the tab when missing. A duplicate-title error from
// the API means the tab already exists and is not a failure.
func (s *SheetsService) ensureSheet(ctx context.Context, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}

	_, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("ensure sheet %s: %w", title, err)
	}
	return nil
}

// prepareDateHeaders builds the grid header: one leading name column, then
// one "dd.mm" column per day of the range, endpoints inclusive.
func (s *SheetsService) prepareDateHeaders(startDate, endDate time.Time) ([]interface{}, int) {
	headers := []interface{}{"Member"}
	days := 0
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		headers = append(headers, d.Format("02.01"))
		days++
	}
	return headers, days
}

func requestRowValues(req *models.ChangeRequest) []interface{} {
	resolvedBy := ""
	if req.ResolvedBy != nil {
		resolvedBy = fmt.Sprintf("%d", *req.ResolvedBy)
	}
	return []interface{}{
		req.ID,
		req.ScheduleID,
		req.ProposerID,
		req.TargetDate,
		req.NewStart.Format("2006-01-02 15:04"),
		req.NewEnd.Format("2006-01-02 15:04"),
		string(req.State),
		resolvedBy,
	}
}

// formatGridCell joins the day's schedule titles, marking pending-change
// entries so the grid shows what is still under negotiation.
func formatGridCell(items []models.Schedule) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s (%s-%s)",
			it.Title,
			it.StartTime.Format("15:04"),
			it.EndTime.Format("15:04")))
	}
	return strings.Join(parts, "\n")
}

func parseRowFromRange(a1 string) (int, bool) {
	// UpdatedRange looks like "Requests!A5:H5".
	idx := strings.IndexByte(a1, '!')
	if idx < 0 {
		return 0, false
	}
	ref := a1[idx+1:]
	start := 0
	for start < len(ref) && (ref[start] < '0' || ref[start] > '9') {
		start++
	}
	end := start
	for end < len(ref) && ref[end] >= '0' && ref[end] <= '9' {
		end++
	}
	if start == end {
		return 0, false
	}
	row := 0
	for _, c := range ref[start:end] {
		row = row*10 + int(c-'0')
	}
	return row, true
}

func (s *SheetsService) getCachedRow(requestID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rowCache[requestID]
	return row, ok
}

func (s *SheetsService) setCachedRow(requestID string, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache[requestID] = row
}

func (s *SheetsService) deleteCachedRow(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rowCache, requestID)
}

// ClearCache drops all cached row positions.
func (s *SheetsService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache = make(map[string]int)
}

// Package audit exports the negotiation audit trail to Excel on a monthly
// schedule and prunes records past the retention window.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	// GetTableNames returns the tables cleared for export.
	GetTableNames(ctx context.Context) ([]string, error)

	// GetTableData returns rows for a table as maps plus column order.
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)

	// GetDB returns the underlying sql.DB for custom queries.
	GetDB() *sql.DB
}

// ReportWriter writes tabular data to a spreadsheet.
type ReportWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []interface{}) error

	// Save writes the finished file to w.
	Save(w io.Writer) error

	// SaveToFile writes the finished file to disk.
	SaveToFile(path string) error
}

// Notifier sends finished reports to the configured chats.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// DataCleaner removes audit records past the retention window.
type DataCleaner interface {
	DeleteOldAuditRecords(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Filename creates a report filename like "teamplan_audit_2026-08.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("teamplan_audit_%04d-%02d.xlsx", t.Year(), int(t.Month()))
}

// FilenameForPreviousMonth names the report covering the month that just
// ended.
func FilenameForPreviousMonth() string {
	return Filename(time.Now().AddDate(0, -1, 0))
}

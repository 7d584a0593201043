package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record appends one audit trail entry for a change-request transition.
func (db *DB) Record(ctx context.Context, requestID string, actorID int64, action, detail string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, actor_id, action, detail) VALUES (?, ?, ?, ?)`,
		requestID, actorID, action, detail)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// DeleteOldAuditRecords removes audit entries older than the retention
// window and returns the number of rows deleted.
func (db *DB) DeleteOldAuditRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit records: %w", err)
	}
	return res.RowsAffected()
}

// exportedTables lists the tables included in the monthly report.
var exportedTables = []string{"change_requests", "audit_log", "schedules", "messages"}

// GetTableNames returns the tables available for export.
func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return append([]string(nil), exportedTables...), nil
}

// GetTableData dumps one table as column names plus generic rows.
func (db *DB) GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error) {
	allowed := false
	for _, t := range exportedTables {
		if t == tableName {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, nil, fmt.Errorf("table %s is not exported", tableName)
	}

	rows, err := db.QueryContext(ctx, `SELECT * FROM `+tableName)
	if err != nil {
		return nil, nil, fmt.Errorf("query table %s: %w", tableName, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, err
		}
		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		data = append(data, record)
	}
	return data, columns, rows.Err()
}

// GetDB exposes the raw handle for callers that need it.
func (db *DB) GetDB() *sql.DB {
	return db.DB
}

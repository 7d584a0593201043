package audit

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the audit service.
type Config struct {
	// DataRetentionDays is how long audit records are kept. Default: 90.
	DataRetentionDays int

	// ExportOnStart runs an export immediately on service start.
	ExportOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataRetentionDays: 90,
		ExportOnStart:     false,
	}
}

// Service runs monthly audit exports and retention cleanup.
type Service struct {
	config   *Config
	exporter TableExporter
	writer   func() ReportWriter
	notifier Notifier
	cleaner  DataCleaner
	logger   *zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates a new audit service. notifier and cleaner may be nil.
func NewService(
	config *Config,
	exporter TableExporter,
	writerFactory func() ReportWriter,
	notifier Notifier,
	cleaner DataCleaner,
	logger *zerolog.Logger,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DataRetentionDays <= 0 {
		config.DataRetentionDays = 90
	}

	return &Service{
		config:   config,
		exporter: exporter,
		writer:   writerFactory,
		notifier: notifier,
		cleaner:  cleaner,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monthly export scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		go s.RunExportAndCleanup()
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().
		Int("retention_days", s.config.DataRetentionDays).
		Msg("Audit service started")
}

// Stop gracefully stops the audit service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info().Msg("Audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	nextRun := s.nextFirstOfMonth()
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.logger.Info().Time("time", nextRun).Msg("Next audit export scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()

			nextRun = s.nextFirstOfMonth()
			timer.Reset(time.Until(nextRun))
			s.logger.Info().Time("time", nextRun).Msg("Next audit export scheduled")
		}
	}
}

// nextFirstOfMonth returns 00:01 on the first day of the next month.
func (s *Service) nextFirstOfMonth() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// RunExportAndCleanup performs the export and cleanup immediately.
func (s *Service) RunExportAndCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.exportData(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to export audit data")
	}

	if err := s.cleanupOldData(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clean up old audit data")
	}
}

func (s *Service) exportData(ctx context.Context) error {
	if s.exporter == nil || s.writer == nil {
		return fmt.Errorf("exporter or writer not configured")
	}

	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}
	if len(tables) == 0 {
		s.logger.Info().Msg("No tables to export")
		return nil
	}

	report := s.writer()
	if report == nil {
		return fmt.Errorf("failed to create report writer")
	}

	for _, tableName := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, tableName)
		if err != nil {
			s.logger.Error().Err(err).Str("table", tableName).Msg("Failed to read table")
			continue
		}

		if err := report.AddSheet(tableName); err != nil {
			s.logger.Error().Err(err).Str("table", tableName).Msg("Failed to add sheet")
			continue
		}
		if err := report.WriteHeader(columns); err != nil {
			s.logger.Error().Err(err).Str("table", tableName).Msg("Failed to write header")
			continue
		}

		for _, row := range data {
			rowData := make([]interface{}, len(columns))
			for i, col := range columns {
				rowData[i] = row[col]
			}
			if err := report.WriteRow(rowData); err != nil {
				s.logger.Error().Err(err).Str("table", tableName).Msg("Failed to write row")
			}
		}

		s.logger.Debug().Str("table", tableName).Int("rows", len(data)).Msg("Exported table")
	}

	var buf bytes.Buffer
	if err := report.Save(&buf); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	if s.notifier != nil {
		filename := FilenameForPreviousMonth()
		caption := "Monthly change-request audit report"

		if err := s.notifier.SendDocument(ctx, filename, &buf, caption); err != nil {
			return fmt.Errorf("send document: %w", err)
		}
		s.logger.Info().Str("filename", filename).Msg("Audit report sent")
	}

	return nil
}

func (s *Service) cleanupOldData(ctx context.Context) error {
	if s.cleaner == nil {
		return nil
	}

	retention := time.Duration(s.config.DataRetentionDays) * 24 * time.Hour
	deleted, err := s.cleaner.DeleteOldAuditRecords(ctx, retention)
	if err != nil {
		return fmt.Errorf("delete old audit records: %w", err)
	}

	s.logger.Info().
		Int64("deleted_count", deleted).
		Int("retention_days", s.config.DataRetentionDays).
		Msg("Cleaned up old audit records")
	return nil
}

// ExportNow triggers an immediate export.
func (s *Service) ExportNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return s.exportData(ctx)
}

// CleanupNow triggers an immediate cleanup.
func (s *Service) CleanupNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return s.cleanupOldData(ctx)
}

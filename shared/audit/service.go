package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner prunes old audit entries.
type Cleaner interface {
	DeleteOldAuditEntries(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config holds configuration for the audit export service.
type Config struct {
	// ExportPath is the directory monthly reports are written to.
	ExportPath string

	// Retention is how long audit entries are kept. Default 31 days.
	Retention time.Duration

	// ExportOnStart if true runs an export immediately on Start.
	ExportOnStart bool
}

// Service exports a monthly booking report per venue and prunes audit
// entries past retention. Adapted for a store where bookings themselves
// are never deleted; only the audit trail is pruned.
type Service struct {
	config  Config
	source  BookingSource
	cleaner Cleaner
	logger  *zerolog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates the audit export service.
func NewService(config Config, source BookingSource, cleaner Cleaner, logger *zerolog.Logger) *Service {
	if config.Retention <= 0 {
		config.Retention = 31 * 24 * time.Hour
	}
	return &Service{
		config:  config,
		source:  source,
		cleaner: cleaner,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the monthly export loop.
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
		Dur("retention", s.config.Retention).
		Str("export_path", s.config.ExportPath).
		Msg("audit service started")
}

// Stop gracefully stops the service.
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
	s.logger.Info().Msg("audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	nextRun := s.nextFirstOfMonth()
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.logger.Info().Time("next_run", nextRun).Msg("next audit export scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()
			nextRun = s.nextFirstOfMonth()
			timer.Reset(time.Until(nextRun))
			s.logger.Info().Time("next_run", nextRun).Msg("next audit export scheduled")
		}
	}
}

func (s *Service) nextFirstOfMonth() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// RunExportAndCleanup exports the previous month's bookings and prunes
// old audit entries.
func (s *Service) RunExportAndCleanup() {
	ctx := context.Background()

	prevMonth := time.Now().AddDate(0, -1, 0)
	if err := s.ExportMonth(ctx, prevMonth); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
	}

	if s.cleaner != nil {
		removed, err := s.cleaner.DeleteOldAuditEntries(ctx, s.config.Retention)
		if err != nil {
			s.logger.Error().Err(err).Msg("audit cleanup failed")
			return
		}
		if removed > 0 {
			s.logger.Info().Int64("removed", removed).Msg("old audit entries pruned")
		}
	}
}

// ExportMonth writes one workbook covering the given month, one sheet
// per venue.
func (s *Service) ExportMonth(ctx context.Context, month time.Time) error {
	from, to := MonthRange(month)

	venueIDs, err := s.source.ListVenueIDs(ctx)
	if err != nil {
		return fmt.Errorf("list venues: %w", err)
	}
	if len(venueIDs) == 0 {
		s.logger.Info().Msg("no venues, skipping audit export")
		return nil
	}

	writer := NewReportWriter()
	defer writer.Close()

	total := 0
	for _, venueID := range venueIDs {
		bookings, err := s.source.ListBookingsByDateRange(ctx, venueID, from, to)
		if err != nil {
			return fmt.Errorf("list bookings for %s: %w", venueID, err)
		}
		if err := writer.AddVenueSheet(venueID, bookings); err != nil {
			return err
		}
		total += len(bookings)
	}

	path := filepath.Join(s.config.ExportPath, ReportFilename(month))
	if err := writer.SaveToFile(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	s.logger.Info().
		Str("path", path).
		Int("venues", len(venueIDs)).
		Int("bookings", total).
		Msg("audit export complete")
	return nil
}

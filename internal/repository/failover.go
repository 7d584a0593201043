package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"teamplan/internal/models"
)

// recoveryInterval is how often a downed primary is probed again.
const recoveryInterval = time.Minute

// FailoverFeed reads from a primary Feed (Redis cache) and fails over to
// the fallback (the SQLite projection) when the primary errors. After a
// failure the primary is skipped until the recovery interval elapses, then
// probed again on the next read.
type FailoverFeed struct {
	primary  Feed
	fallback Feed
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverFeed(primary, fallback Feed, logger *zerolog.Logger) *FailoverFeed {
	return &FailoverFeed{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverFeed) UnseenResolutions(ctx context.Context, userID int64) ([]models.ResolutionNotice, error) {
	if f.shouldTryPrimary() {
		notices, err := f.primary.UnseenResolutions(ctx, userID)
		if err == nil {
			if f.isDown.Swap(false) {
				f.logger.Info().Msg("Feed primary recovered")
			}
			return notices, nil
		}

		f.logger.Warn().Err(err).Msg("Feed primary failed, falling back")
		f.isDown.Store(true)
		f.mu.Lock()
		f.lastCheck = time.Now()
		f.mu.Unlock()
	}

	return f.fallback.UnseenResolutions(ctx, userID)
}

// Invalidate forwards to the primary when it implements invalidation.
// Fallback reads are always fresh, so a failed primary needs nothing.
func (f *FailoverFeed) Invalidate(ctx context.Context, userIDs ...int64) error {
	inv, ok := f.primary.(Invalidator)
	if !ok || f.isDown.Load() {
		return nil
	}
	return inv.Invalidate(ctx, userIDs...)
}

func (f *FailoverFeed) shouldTryPrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastCheck) > recoveryInterval
}

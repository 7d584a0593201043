// Package repository holds the read path for the unseen-resolution feed: a
// Redis-cached projection with automatic failover to SQLite.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"teamplan/internal/models"
)

// Feed serves a user's resolved-but-unacknowledged change requests.
type Feed interface {
	UnseenResolutions(ctx context.Context, userID int64) ([]models.ResolutionNotice, error)
}

// Invalidator drops cached feed entries after a resolution or an
// acknowledgement.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64) error
}

// RedisFeed is a read-through cache over another Feed.
type RedisFeed struct {
	rdb    *redis.Client
	source Feed
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewRedisFeed(rdb *redis.Client, source Feed, ttl time.Duration, logger *zerolog.Logger) *RedisFeed {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisFeed{rdb: rdb, source: source, ttl: ttl, logger: logger}
}

func feedKey(userID int64) string {
	return fmt.Sprintf("feed:%d", userID)
}

func (r *RedisFeed) UnseenResolutions(ctx context.Context, userID int64) ([]models.ResolutionNotice, error) {
	cached, err := r.rdb.Get(ctx, feedKey(userID)).Result()
	if err == nil {
		var notices []models.ResolutionNotice
		if jsonErr := json.Unmarshal([]byte(cached), &notices); jsonErr == nil {
			return notices, nil
		}
		// Corrupt entry falls through to the source.
		r.logger.Warn().Int64("user_id", userID).Msg("Dropping unreadable feed cache entry")
		r.rdb.Del(ctx, feedKey(userID))
	} else if err != redis.Nil {
		return nil, fmt.Errorf("read feed cache: %w", err)
	}

	notices, err := r.source.UnseenResolutions(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(notices)
	if err == nil {
		if err := r.rdb.Set(ctx, feedKey(userID), data, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to cache feed")
		}
	}
	return notices, nil
}

// Invalidate removes cached entries for the given users.
func (r *RedisFeed) Invalidate(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = feedKey(id)
	}
	return r.rdb.Del(ctx, keys...).Err()
}

package repository

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamplan/internal/models"
)

type countingFeed struct {
	notices []models.ResolutionNotice
	calls   int
}

func (c *countingFeed) UnseenResolutions(_ context.Context, _ int64) ([]models.ResolutionNotice, error) {
	c.calls++
	return c.notices, nil
}

func newRedisFixture(t *testing.T, source Feed) (*RedisFeed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	logger := zerolog.New(io.Discard)
	return NewRedisFeed(rdb, source, time.Minute, &logger), mr
}

func TestRedisFeed_ReadThrough(t *testing.T) {
	source := &countingFeed{notices: []models.ResolutionNotice{
		{RequestID: "req-1", ScheduleID: 42, ScheduleTitle: "planning", State: models.RequestApproved},
	}}
	feed, _ := newRedisFixture(t, source)
	ctx := context.Background()

	got, err := feed.UnseenResolutions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, source.calls)

	// Second read is served from cache.
	got, err = feed.UnseenResolutions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, 1, source.calls)
}

func TestRedisFeed_Invalidate(t *testing.T) {
	source := &countingFeed{}
	feed, _ := newRedisFixture(t, source)
	ctx := context.Background()

	_, err := feed.UnseenResolutions(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, feed.Invalidate(ctx, 7))

	_, err = feed.UnseenResolutions(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls, "invalidation must force a source re-read")
}

func TestRedisFeed_CorruptEntryFallsThrough(t *testing.T) {
	source := &countingFeed{notices: []models.ResolutionNotice{{RequestID: "req-1"}}}
	feed, mr := newRedisFixture(t, source)
	ctx := context.Background()

	require.NoError(t, mr.Set(feedKey(7), "not-json"))

	got, err := feed.UnseenResolutions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, source.calls)
}

// internal/workers/loan/process-application/enrich_test.go
package processapplication

import (
	"context"
	"errors"
	"testing"
	"time"

	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEnricher struct {
	calls int
	data  models.EnrichedData
	err   error
}

func (c *countingEnricher) Lookup(_ context.Context, _ string) (models.EnrichedData, error) {
	c.calls++
	return c.data, c.err
}

func newScoreCache(t *testing.T, fallback Enricher) (*RedisScoreEnricher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisScoreEnricher(client, fallback, 10*time.Minute, logger.NewTestLogger(t)), mr
}

func TestRedisScoreEnricher_CacheHit(t *testing.T) {
	fallback := &countingEnricher{data: models.EnrichedData{CreditScore: 500}}
	e, mr := newScoreCache(t, fallback)
	require.NoError(t, mr.Set(ScoreCacheKey("A1"), "720"))

	data, err := e.Lookup(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, 720, data.CreditScore)
	assert.Zero(t, fallback.calls)
}

func TestRedisScoreEnricher_MissFallsBackAndCaches(t *testing.T) {
	fallback := &countingEnricher{data: models.EnrichedData{CreditScore: 610}}
	e, mr := newScoreCache(t, fallback)

	data, err := e.Lookup(context.Background(), "A2")
	require.NoError(t, err)
	assert.Equal(t, 610, data.CreditScore)

	cached, err := mr.Get(ScoreCacheKey("A2"))
	require.NoError(t, err)
	assert.Equal(t, "610", cached)
	assert.Equal(t, 10*time.Minute, mr.TTL(ScoreCacheKey("A2")))

	_, err = e.Lookup(context.Background(), "A2")
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.calls)
}

func TestRedisScoreEnricher_BadCachedValues(t *testing.T) {
	for _, v := range []string{"999", "12", "excellent"} {
		t.Run(v, func(t *testing.T) {
			e, mr := newScoreCache(t, &countingEnricher{data: models.EnrichedData{CreditScore: 700}})
			require.NoError(t, mr.Set(ScoreCacheKey("A3"), v))

			_, err := e.Lookup(context.Background(), "A3")
			assert.ErrorIs(t, err, ErrScoreOutOfRange)
		})
	}
}

func TestRedisScoreEnricher_NoFallback(t *testing.T) {
	e, _ := newScoreCache(t, nil)

	_, err := e.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrApplicantNotFound)
}

func TestRedisScoreEnricher_CacheDownUsesFallback(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(ScoreCacheKey("A4")).SetErr(errors.New("connection refused"))
	mock.ExpectSet(ScoreCacheKey("A4"), 455, time.Minute).SetErr(errors.New("connection refused"))

	fallback := &countingEnricher{data: models.EnrichedData{CreditScore: 455}}
	e := NewRedisScoreEnricher(client, fallback, time.Minute, logger.NewTestLogger(t))

	data, err := e.Lookup(context.Background(), "A4")
	require.NoError(t, err)
	assert.Equal(t, 455, data.CreditScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisScoreEnricher_FallbackErrorPropagates(t *testing.T) {
	e, mr := newScoreCache(t, &countingEnricher{err: ErrApplicantNotFound})

	_, err := e.Lookup(context.Background(), "A5")
	assert.ErrorIs(t, err, ErrApplicantNotFound)
	assert.False(t, mr.Exists(ScoreCacheKey("A5")))
}

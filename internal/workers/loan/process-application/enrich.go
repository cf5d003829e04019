// internal/workers/loan/process-application/enrich.go
package processapplication

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/models"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEnrichmentTimeout = errors.New("ENRICHMENT_TIMEOUT")
	ErrScoreOutOfRange   = errors.New("CREDIT_SCORE_OUT_OF_RANGE")
	ErrApplicantNotFound = errors.New("APPLICANT_NOT_FOUND")
)

// Enricher looks up supplementary data for an applicant.
type Enricher interface {
	Lookup(ctx context.Context, applicantID string) (models.EnrichedData, error)
}

// RandomScoreEnricher draws a uniform credit score in [300, 850].
type RandomScoreEnricher struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomScoreEnricher(seed int64) *RandomScoreEnricher {
	return &RandomScoreEnricher{rng: rand.New(rand.NewSource(seed))}
}

func (e *RandomScoreEnricher) Lookup(ctx context.Context, _ string) (models.EnrichedData, error) {
	if err := ctx.Err(); err != nil {
		return models.EnrichedData{}, err
	}
	e.mu.Lock()
	score := models.MinCreditScore + e.rng.Intn(models.MaxCreditScore-models.MinCreditScore+1)
	e.mu.Unlock()
	return models.EnrichedData{CreditScore: score}, nil
}

// RedisScoreEnricher serves scores from "creditScore:<applicantId>" and falls
// back to another Enricher on a miss, caching what it gets back.
type RedisScoreEnricher struct {
	redis    redis.Cmdable
	fallback Enricher
	ttl      time.Duration
	logger   logger.Logger
}

func NewRedisScoreEnricher(client redis.Cmdable, fallback Enricher, ttl time.Duration, log logger.Logger) *RedisScoreEnricher {
	return &RedisScoreEnricher{
		redis:    client,
		fallback: fallback,
		ttl:      ttl,
		logger:   log.WithFields(map[string]interface{}{"component": "score-cache"}),
	}
}

func ScoreCacheKey(applicantID string) string {
	return "creditScore:" + applicantID
}

func (e *RedisScoreEnricher) Lookup(ctx context.Context, applicantID string) (models.EnrichedData, error) {
	cacheKey := ScoreCacheKey(applicantID)

	val, err := e.redis.Get(ctx, cacheKey).Result()
	switch {
	case err == nil:
		score, convErr := strconv.Atoi(val)
		if convErr != nil {
			return models.EnrichedData{}, fmt.Errorf("%w: cached score %q", ErrScoreOutOfRange, val)
		}
		data := models.EnrichedData{CreditScore: score}
		if !data.InRange() {
			return models.EnrichedData{}, fmt.Errorf("%w: %d", ErrScoreOutOfRange, score)
		}
		return data, nil
	case errors.Is(err, redis.Nil):
	case ctx.Err() != nil:
		return models.EnrichedData{}, ctx.Err()
	default:
		e.logger.Warn("score cache read failed, using fallback", map[string]interface{}{
			"applicantId": applicantID,
			"error":       err.Error(),
		})
	}

	if e.fallback == nil {
		return models.EnrichedData{}, fmt.Errorf("%w: %s", ErrApplicantNotFound, applicantID)
	}
	data, err := e.fallback.Lookup(ctx, applicantID)
	if err != nil {
		return models.EnrichedData{}, err
	}

	if err := e.redis.Set(ctx, cacheKey, data.CreditScore, e.ttl).Err(); err != nil {
		e.logger.Warn("score cache write failed", map[string]interface{}{
			"applicantId": applicantID,
			"error":       err.Error(),
		})
	}
	return data, nil
}

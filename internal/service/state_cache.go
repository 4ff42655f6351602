package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/config"
)

// ErrCacheMiss is returned when a cached value is absent.
var ErrCacheMiss = errors.New("cache miss")

// StateCache mirrors hot session state (start times, saved answers) so
// state reloads skip the database. The Session Store stays the source of
// truth; every cache path has a store fallback.
type StateCache interface {
	SetStartTime(ctx context.Context, sessionID uuid.UUID, start time.Time) error
	GetStartTime(ctx context.Context, sessionID uuid.UUID) (time.Time, error)
	SetAnswer(ctx context.Context, sessionID uuid.UUID, questionID, answer string) error
	Answers(ctx context.Context, sessionID uuid.UUID) (map[string]string, error)
	FillAnswers(ctx context.Context, sessionID uuid.UUID, answers map[string]string) error
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// RedisStateCache is the production StateCache.
type RedisStateCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisStateCache creates a RedisStateCache.
func NewRedisStateCache(rdb *redis.Client, log zerolog.Logger) *RedisStateCache {
	return &RedisStateCache{
		rdb: rdb,
		log: log.With().Str("component", "state_cache").Logger(),
	}
}

func (c *RedisStateCache) SetStartTime(ctx context.Context, sessionID uuid.UUID, start time.Time) error {
	return c.rdb.Set(ctx, config.CacheKey.SessionStartKey(sessionID.String()), start.Unix(), 0).Err()
}

func (c *RedisStateCache) GetStartTime(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	val, err := c.rdb.Get(ctx, config.CacheKey.SessionStartKey(sessionID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

func (c *RedisStateCache) SetAnswer(ctx context.Context, sessionID uuid.UUID, questionID, answer string) error {
	return c.rdb.HSet(ctx, config.CacheKey.SessionAnswersKey(sessionID.String()), questionID, answer).Err()
}

func (c *RedisStateCache) Answers(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sessionID.String())).Result()
}

func (c *RedisStateCache) FillAnswers(ctx context.Context, sessionID uuid.UUID, answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}
	pairs := make([]any, 0, len(answers)*2)
	for q, a := range answers {
		pairs = append(pairs, q, a)
	}
	return c.rdb.HSet(ctx, config.CacheKey.SessionAnswersKey(sessionID.String()), pairs...).Err()
}

// Clear drops all cached state for a finished session.
func (c *RedisStateCache) Clear(ctx context.Context, sessionID uuid.UUID) error {
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.SessionAnswersKey(sessionID.String()))
	pipe.Del(ctx, config.CacheKey.SessionStartKey(sessionID.String()))
	_, err := pipe.Exec(ctx)
	return err
}

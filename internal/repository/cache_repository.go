package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

// Cache key layout for derived discipline data. Everything under a student's
// prefix is invalidated whenever any of that student's records change, so the
// cache can never outlive a reconciliation.
const (
	cacheKeyPrefix = "tatib"
)

// CacheRepository provides helpers around Redis for caching derived
// frequency counts and student summaries.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. A nil client disables
// caching entirely (every Get misses, every Set is a no-op).
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// SummaryKey is the cache key for a student's discipline summary.
func SummaryKey(studentID string) string {
	return fmt.Sprintf("%s:summary:%s", cacheKeyPrefix, studentID)
}

// StudentPattern matches every cached entry derived from one student.
func StudentPattern(studentID string) string {
	return fmt.Sprintf("%s:*:%s*", cacheKeyPrefix, studentID)
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// InvalidateStudent drops every cached entry derived from the student.
func (r *CacheRepository) InvalidateStudent(ctx context.Context, studentID string) {
	if r.client == nil {
		return
	}

	iter := r.client.Scan(ctx, 0, StudentPattern(studentID), 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn("cache invalidation failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache scan failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

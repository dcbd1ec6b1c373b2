package repository

import (
	"context"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	healthKey           = "judge:executor:health"
	healthyValue        = "1"
	DefaultHealthTTL    = 10 * time.Second
	DefaultUnhealthyTTL = 2 * time.Second
)

// Prober reports executor reachability. It never returns an error.
type Prober interface {
	IsHealthy(ctx context.Context) bool
}

// HealthRepository caches probe outcomes so that frequent health checks do
// not each hit the executor. Unhealthy outcomes are kept for a shorter TTL.
type HealthRepository struct {
	cache        cache.Cache
	prober       Prober
	TTL          time.Duration
	UnhealthyTTL time.Duration
}

// NewHealthRepository creates a new repository. A nil cache probes on every call.
func NewHealthRepository(cacheClient cache.Cache, prober Prober, ttl, unhealthyTTL time.Duration) *HealthRepository {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	if unhealthyTTL <= 0 {
		unhealthyTTL = DefaultUnhealthyTTL
	}
	return &HealthRepository{cache: cacheClient, prober: prober, TTL: ttl, UnhealthyTTL: unhealthyTTL}
}

// IsHealthy returns the cached probe outcome, probing on a miss.
func (r *HealthRepository) IsHealthy(ctx context.Context) bool {
	if r.cache == nil {
		return r.prober.IsHealthy(ctx)
	}
	healthy, err := cache.GetWithCached(ctx, r.cache, healthKey, r.TTL, r.UnhealthyTTL,
		func(ok bool) bool { return !ok },
		func(bool) string { return healthyValue },
		func(string) (bool, error) { return true, nil },
		func(ctx context.Context) (bool, error) { return r.prober.IsHealthy(ctx), nil },
	)
	if err != nil {
		logger.Warn(ctx, "cached health lookup failed, probing directly", zap.Error(err))
		return r.prober.IsHealthy(ctx)
	}
	return healthy
}

// Invalidate drops the cached outcome so the next call probes again.
func (r *HealthRepository) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, healthKey)
}

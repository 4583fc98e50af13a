package adserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
)

// TokenBucket is a thread-safe token bucket. It starts full and refills at
// a constant rate; each call consumes one token.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
	mu         sync.Mutex
	hitCount   int64
	totalCount int64
}

// NewTokenBucket creates a bucket with the given burst capacity and
// refill rate in tokens per second.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.totalCount++

	now := time.Now()
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	tb.hitCount++
	return false
}

// Stats returns the number of rejected calls and the total number of calls.
func (tb *TokenBucket) Stats() (hits, total int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.hitCount, tb.totalCount
}

// LimiterConfig holds the per-tenant rate limit.
type LimiterConfig struct {
	Capacity   int
	RefillRate int
	Enabled    bool
}

// TenantLimiter keeps one bucket per tenant so a single busy tenant cannot
// exhaust the ad server quota shared by the process.
type TenantLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  LimiterConfig
	metrics observability.MetricsRegistry
}

// NewTenantLimiter creates a limiter with the given configuration.
func NewTenantLimiter(config LimiterConfig, metrics observability.MetricsRegistry) *TenantLimiter {
	return &TenantLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Allow reports whether the tenant may make another ad server call.
func (l *TenantLimiter) Allow(tenantID string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.RLock()
	bucket, exists := l.buckets[tenantID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		bucket, exists = l.buckets[tenantID]
		if !exists {
			bucket = NewTokenBucket(l.config.Capacity, l.config.RefillRate)
			l.buckets[tenantID] = bucket
		}
		l.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		l.metrics.IncrementRateLimitHits(tenantID)
	}
	return allowed
}

// RateLimitStats summarizes one tenant's bucket.
type RateLimitStats struct {
	TenantID string  `json:"tenant_id"`
	Hits     int64   `json:"hits"`
	Total    int64   `json:"total"`
	HitRate  float64 `json:"hit_rate"`
}

func (s RateLimitStats) String() string {
	return fmt.Sprintf("Tenant %s: %d/%d hits (%.2f%%)", s.TenantID, s.Hits, s.Total, s.HitRate*100)
}

// Stats returns a snapshot of every tenant's bucket.
func (l *TenantLimiter) Stats() map[string]RateLimitStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(l.buckets))
	for tenantID, bucket := range l.buckets {
		hits, total := bucket.Stats()
		rate := 0.0
		if total > 0 {
			rate = float64(hits) / float64(total)
		}
		stats[tenantID] = RateLimitStats{TenantID: tenantID, Hits: hits, Total: total, HitRate: rate}
	}
	return stats
}

// LimitedProvider wraps a provider so every adapter call first takes a
// token from the tenant's bucket. A rejected call fails as transient.
type LimitedProvider struct {
	Provider
	limiter *TenantLimiter
}

// NewLimitedProvider wraps next with limiter.
func NewLimitedProvider(next Provider, limiter *TenantLimiter) *LimitedProvider {
	return &LimitedProvider{Provider: next, limiter: limiter}
}

func (p *LimitedProvider) AdapterFor(tc *models.TenantContext) (Adapter, error) {
	a, err := p.Provider.AdapterFor(tc)
	if err != nil {
		return nil, err
	}
	return &limitedAdapter{next: a, limiter: p.limiter, tenantID: tc.TenantID}, nil
}

type limitedAdapter struct {
	next     Adapter
	limiter  *TenantLimiter
	tenantID string
}

func (a *limitedAdapter) take(op string) error {
	if a.limiter.Allow(a.tenantID) {
		return nil
	}
	return &Error{Op: op, StatusCode: 429, Message: "tenant rate limit exceeded", Err: ErrTransient}
}

func (a *limitedAdapter) EnsureCustomTargetingKey(ctx context.Context, name string) (models.ExternalKeyID, error) {
	if err := a.take("ensure_custom_targeting_key"); err != nil {
		return "", err
	}
	return a.next.EnsureCustomTargetingKey(ctx, name)
}

func (a *limitedAdapter) CreateOrder(ctx context.Context, name string) (string, error) {
	if err := a.take("create_order"); err != nil {
		return "", err
	}
	return a.next.CreateOrder(ctx, name)
}

func (a *limitedAdapter) ApplyLineItemTargeting(ctx context.Context, spec LineItemSpec) error {
	if err := a.take("apply_line_item_targeting"); err != nil {
		return err
	}
	return a.next.ApplyLineItemTargeting(ctx, spec)
}

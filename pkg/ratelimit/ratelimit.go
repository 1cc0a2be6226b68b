// Package ratelimit provides token-bucket rate limiting for the worker's
// outbound traffic: npm registry fetches, git clones, and PR-service calls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/deptex/watchtower/pkg/logger"
)

var log = logger.New("watchtower:ratelimit")

// ErrContextCanceled is returned when the context ends while waiting for a token
var ErrContextCanceled = errors.New("context canceled while waiting for rate limit")

// OperationType identifies a class of rate-limited outbound calls
type OperationType string

// Operation types used by the worker
const (
	// OperationRegistry covers npm registry packument and tarball fetches
	OperationRegistry OperationType = "npm-registry"
	// OperationGitClone covers source repository clones
	OperationGitClone OperationType = "git-clone"
	// OperationPRService covers bump-PR sub-service calls
	OperationPRService OperationType = "pr-service"
)

// Config holds the token bucket parameters for one operation type
type Config struct {
	// Rate is the number of tokens added per Interval
	Rate float64
	// Burst is the bucket capacity
	Burst int
	// Interval is the refill period
	Interval time.Duration
}

// DefaultConfigs provides per-operation defaults
var DefaultConfigs = map[OperationType]Config{
	OperationRegistry:  {Rate: 120, Burst: 30, Interval: time.Minute},
	OperationGitClone:  {Rate: 30, Burst: 5, Interval: time.Minute},
	OperationPRService: {Rate: 60, Burst: 10, Interval: time.Minute},
}

// TokenBucket is a token bucket limiter for one operation type
type TokenBucket struct {
	mu            sync.Mutex
	config        Config
	operationType OperationType
	tokens        float64
	lastRefill    time.Time
}

// NewTokenBucket creates a limiter, using the operation default when config
// is nil
func NewTokenBucket(opType OperationType, config *Config) (*TokenBucket, error) {
	cfg, ok := DefaultConfigs[opType]
	if config != nil {
		cfg = *config
	} else if !ok {
		return nil, fmt.Errorf("no default rate limit config for operation %q", opType)
	}

	if cfg.Rate <= 0 || cfg.Burst <= 0 || cfg.Interval <= 0 {
		return nil, fmt.Errorf("invalid rate limit config for %s: rate=%.2f burst=%d interval=%v",
			opType, cfg.Rate, cfg.Burst, cfg.Interval)
	}

	return &TokenBucket{
		config:        cfg,
		operationType: opType,
		tokens:        float64(cfg.Burst),
		lastRefill:    time.Now(),
	}, nil
}

// refill adds tokens based on elapsed time; callers hold the mutex
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens = math.Min(float64(tb.config.Burst),
		tb.tokens+(elapsed.Seconds()/tb.config.Interval.Seconds())*tb.config.Rate)
	tb.lastRefill = now
}

// Allow consumes a token if one is available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Tokens returns the current token count
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// timeUntilNextToken computes how long until a token becomes available
func (tb *TokenBucket) timeUntilNextToken() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		return 0
	}
	needed := 1.0 - tb.tokens
	seconds := (needed / tb.config.Rate) * tb.config.Interval.Seconds()
	return time.Duration(seconds * float64(time.Second))
}

// Wait blocks until a token is available or the context ends
func (tb *TokenBucket) Wait(ctx context.Context) error {
	start := time.Now()
	for {
		if tb.Allow() {
			if waited := time.Since(start); waited > time.Millisecond {
				log.Printf("Waited %v for %s token", waited, tb.operationType)
			}
			return nil
		}

		delay := tb.timeUntilNextToken()
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ErrContextCanceled
		case <-time.After(delay):
		}
	}
}

// Group manages one limiter per operation type
type Group struct {
	mu       sync.Mutex
	limiters map[OperationType]*TokenBucket
}

// NewGroup creates an empty limiter group
func NewGroup() *Group {
	return &Group{limiters: make(map[OperationType]*TokenBucket)}
}

// GetOrCreate returns the limiter for an operation, creating it with the
// default config on first use
func (g *Group) GetOrCreate(opType OperationType) (*TokenBucket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limiter, ok := g.limiters[opType]; ok {
		return limiter, nil
	}
	limiter, err := NewTokenBucket(opType, nil)
	if err != nil {
		return nil, err
	}
	g.limiters[opType] = limiter
	return limiter, nil
}

// DefaultGroup is the process-wide limiter group
var DefaultGroup = NewGroup()

// Wait blocks on the default group's limiter for an operation. It fails open
// when the limiter cannot be built.
func Wait(ctx context.Context, opType OperationType) error {
	limiter, err := DefaultGroup.GetOrCreate(opType)
	if err != nil {
		log.Warnf("failed to build rate limiter for %s: %v", opType, err)
		return nil
	}
	return limiter.Wait(ctx)
}

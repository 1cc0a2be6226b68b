package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenBucketDefaults(t *testing.T) {
	tb, err := NewTokenBucket(OperationRegistry, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigs[OperationRegistry], tb.config)
}

func TestNewTokenBucketUnknownOperation(t *testing.T) {
	_, err := NewTokenBucket(OperationType("mystery"), nil)
	assert.Error(t, err)
}

func TestNewTokenBucketInvalidConfig(t *testing.T) {
	_, err := NewTokenBucket(OperationRegistry, &Config{Rate: -1, Burst: 1, Interval: time.Second})
	assert.Error(t, err)
}

func TestAllowConsumesBurst(t *testing.T) {
	tb, err := NewTokenBucket(OperationGitClone, &Config{Rate: 1, Burst: 2, Interval: time.Hour})
	require.NoError(t, err)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "burst exhausted")
}

func TestWaitReturnsImmediatelyWithTokens(t *testing.T) {
	tb, err := NewTokenBucket(OperationRegistry, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	tb, err := NewTokenBucket(OperationGitClone, &Config{Rate: 1, Burst: 1, Interval: time.Hour})
	require.NoError(t, err)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = tb.Wait(ctx)
	assert.ErrorIs(t, err, ErrContextCanceled)
}

func TestGroupReusesLimiters(t *testing.T) {
	g := NewGroup()

	a, err := g.GetOrCreate(OperationRegistry)
	require.NoError(t, err)
	b, err := g.GetOrCreate(OperationRegistry)
	require.NoError(t, err)

	assert.Same(t, a, b)
}

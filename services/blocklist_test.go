package services

import (
	"context"
	"testing"
	"time"

	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIdentifier_RoundTrip(t *testing.T) {
	svc, _, clock := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, svc.BlockIdentifier(ctx, "user123", time.Minute, "x"))

	status := svc.IsBlocked(ctx, "user123")
	assert.True(t, status.Blocked)
	assert.Equal(t, "x", status.Reason)
	assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), status.ExpiresAt)

	require.NoError(t, svc.UnblockIdentifier(ctx, "user123"))
	assert.Equal(t, dto.BlockStatus{}, svc.IsBlocked(ctx, "user123"))
}

func TestBlockIdentifier_ExpiresOnItsOwn(t *testing.T) {
	svc, _, clock := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, svc.BlockIdentifier(ctx, "user123", time.Minute, "x"))
	clock.Advance(time.Minute)

	assert.False(t, svc.IsBlocked(ctx, "user123").Blocked)
}

func TestBlockIdentifier_StoresTTL(t *testing.T) {
	svc, mr, _ := newTestLimiter(t)

	require.NoError(t, svc.BlockIdentifier(context.Background(), "user123", time.Minute, "x"))
	assert.Equal(t, time.Minute, mr.TTL("blocked:user123"))
}

func TestBlockIdentifier_RejectsBadInput(t *testing.T) {
	svc, _, _ := newTestLimiter(t)
	ctx := context.Background()

	assert.True(t, shared.IsValidationError(svc.BlockIdentifier(ctx, "", time.Minute, "x")))
	assert.True(t, shared.IsValidationError(svc.BlockIdentifier(ctx, "user123", 0, "x")))
}

func TestIsBlocked_NeverFails(t *testing.T) {
	svc := NewRateLimitService(&failingStore{}, nil)
	assert.Equal(t, dto.BlockStatus{}, svc.IsBlocked(context.Background(), "user123"))

	limiter, mr, _ := newTestLimiter(t)
	mr.Set("blocked:user123", "{not json")
	assert.False(t, limiter.IsBlocked(context.Background(), "user123").Blocked)
}

func TestBlockIdentifier_StoreDownSurfacesError(t *testing.T) {
	svc := NewRateLimitService(&failingStore{}, nil)

	err := svc.BlockIdentifier(context.Background(), "user123", time.Minute, "x")
	assert.True(t, shared.IsStoreUnavailable(err))
}

func TestBlockSource(t *testing.T) {
	assert.Equal(t, "abuse", blockSource("Automated abuse detection: High login activity"))
	assert.Equal(t, "ddos", blockSource("DDoS protection: risk score 90"))
	assert.Equal(t, "manual", blockSource("chargeback fraud"))
}

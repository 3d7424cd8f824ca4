package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_TripsAfterFailures(t *testing.T) {
	cb := NewWithSettings("test", Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 3, FailureRatio: 0.6})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_Fallback(t *testing.T) {
	cb := NewWithSettings("fallback", Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 1, FailureRatio: 0.5})
	_ = cb.Execute(context.Background(), func() error { return errors.New("down") })

	used := false
	err := cb.ExecuteWithFallback(context.Background(), func() error { return nil }, func() error { used = true; return nil })
	assert.NoError(t, err)
	assert.True(t, used)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New("ctx")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), context.Canceled)
}

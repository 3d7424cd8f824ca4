package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tally.bridge/internal/core/domain"
)

func newKeeperFixture() (*fakeClock, *Registry, *HeartbeatKeeper, *recordingEvents) {
	clock := newFakeClock()
	events := &recordingEvents{}
	r := NewRegistry(WithClock(clock.Now))
	k := NewHeartbeatKeeper(r, DefaultGracePolicy(), NewActivityLog(10), events)
	return clock, r, k, events
}

func TestGracePolicy_Allows(t *testing.T) {
	p := DefaultGracePolicy()
	assert.False(t, p.Allows(90*time.Second, 0))
	assert.True(t, p.Allows(91*time.Second, 0))
	assert.True(t, p.Allows(119*time.Second, 0))
	assert.False(t, p.Allows(120*time.Second, 0))
	assert.False(t, p.Allows(100*time.Second, 1))
}

func TestKeeper_SilentAgentGoesStaleOnSchedule(t *testing.T) {
	ctx := context.Background()
	clock, r, k, events := newKeeperFixture()
	_, err := r.Heartbeat(ctx, "W1")
	require.NoError(t, err)

	for _, tick := range []time.Duration{30, 60, 90} {
		res := k.Sweep(ctx, epoch.Add(tick*time.Second))
		assert.Empty(t, res.Extended, "tick %ds", tick)
	}

	clock.Set(100 * time.Second)
	assert.True(t, r.IsConnected())

	res := k.Sweep(ctx, epoch.Add(120*time.Second))
	assert.Empty(t, res.Extended)
	assert.Equal(t, []string{"W1"}, res.NewlyStale)

	clock.Set(130 * time.Second)
	assert.False(t, r.IsConnected())
	assert.Len(t, events.ofType(domain.EventAgentStale), 1)
}

func TestKeeper_ExtendsOncePerRealHeartbeat(t *testing.T) {
	ctx := context.Background()
	clock, r, k, _ := newKeeperFixture()
	_, _ = r.Heartbeat(ctx, "W1")

	res := k.Sweep(ctx, epoch.Add(95*time.Second))
	assert.Equal(t, "W1", res.Extended)
	s, _ := r.Get("W1")
	assert.Equal(t, epoch.Add(95*time.Second), s.LastHeartbeat)
	assert.Equal(t, epoch, s.LastRealHeartbeat)

	res = k.Sweep(ctx, epoch.Add(190*time.Second))
	assert.Empty(t, res.Extended, "a second extension needs a real heartbeat in between")

	res = k.Sweep(ctx, epoch.Add(215*time.Second))
	assert.Equal(t, []string{"W1"}, res.NewlyStale)
	assert.Equal(t, 0, res.Connected)

	res = k.Sweep(ctx, epoch.Add(245*time.Second))
	assert.Empty(t, res.NewlyStale, "stale sessions are reported once")

	clock.Set(250 * time.Second)
	_, _ = r.Heartbeat(ctx, "W1")
	res = k.Sweep(ctx, epoch.Add(345*time.Second))
	assert.Equal(t, "W1", res.Extended, "a real heartbeat re-arms the grace extension")
}

func TestKeeper_ExtendsMostRecentSessionOnly(t *testing.T) {
	ctx := context.Background()
	clock, r, k, _ := newKeeperFixture()
	_, _ = r.Heartbeat(ctx, "A")
	clock.Set(5 * time.Second)
	_, _ = r.Heartbeat(ctx, "B")

	res := k.Sweep(ctx, epoch.Add(100*time.Second))
	assert.Equal(t, "B", res.Extended)

	a, _ := r.Get("A")
	assert.Equal(t, epoch, a.LastHeartbeat)
}

func TestKeeper_StartStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	k := NewHeartbeatKeeper(r, DefaultGracePolicy(), nil, nil, WithKeeperInterval(time.Millisecond))
	assert.Equal(t, time.Millisecond, k.interval)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		k.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}

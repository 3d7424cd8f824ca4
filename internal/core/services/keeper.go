package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/metrics"
	"tally.bridge/internal/core/ports"
)

const (
	KeeperInterval = 30 * time.Second
	GraceThreshold = 90 * time.Second
)

// GracePolicy decides when the keeper may synthesize a heartbeat for a silent agent.
// Desktop agents on flaky office networks routinely miss one beat; the policy bridges
// that gap once per real heartbeat and never past the hard timeout.
type GracePolicy struct {
	Grace         time.Duration
	Hard          time.Duration
	MaxExtensions int
}

func DefaultGracePolicy() GracePolicy {
	return GracePolicy{Grace: GraceThreshold, Hard: HardTimeout, MaxExtensions: 1}
}

// Allows reports whether a session silent for silence, already extended extensions
// times since its last real heartbeat, may be extended.
func (p GracePolicy) Allows(silence time.Duration, extensions int) bool {
	return silence > p.Grace && silence < p.Hard && extensions < p.MaxExtensions
}

// SweepResult describes what one keeper tick did.
type SweepResult struct {
	Extended   string
	NewlyStale []string
	Connected  int
}

// HeartbeatKeeper periodically applies the grace policy and reports sessions going stale.
type HeartbeatKeeper struct {
	registry *Registry
	policy   GracePolicy
	interval time.Duration
	activity *ActivityLog
	events   ports.EventPublisher

	mu    sync.Mutex
	stale map[string]bool
}

type KeeperOption func(*HeartbeatKeeper)

func WithKeeperInterval(d time.Duration) KeeperOption {
	return func(k *HeartbeatKeeper) {
		if d > 0 {
			k.interval = d
		}
	}
}

func NewHeartbeatKeeper(registry *Registry, policy GracePolicy, activity *ActivityLog, events ports.EventPublisher, opts ...KeeperOption) *HeartbeatKeeper {
	k := &HeartbeatKeeper{
		registry: registry,
		policy:   policy,
		interval: KeeperInterval,
		activity: activity,
		events:   events,
		stale:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Start runs sweeps until ctx is cancelled.
func (k *HeartbeatKeeper) Start(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	logger.Info("Heartbeat keeper started", "interval", k.interval, "grace", k.policy.Grace, "hard", k.policy.Hard)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Heartbeat keeper stopped")
			return
		case <-ticker.C:
			k.Sweep(ctx, k.registry.Now())
		}
	}
}

// Sweep performs one keeper tick as of now.
func (k *HeartbeatKeeper) Sweep(ctx context.Context, now time.Time) SweepResult {
	k.mu.Lock()
	defer k.mu.Unlock()

	var res SweepResult
	if id, ok := k.registry.extendMostRecent(now, k.policy); ok {
		res.Extended = id
		metrics.RecordHeartbeat("keeper")
		logger.DebugContext(ctx, "Synthesized heartbeat", "client_id", id)
	}

	current := make(map[string]bool)
	for _, id := range k.registry.staleSessions(now) {
		current[id] = true
		if !k.stale[id] {
			res.NewlyStale = append(res.NewlyStale, id)
		}
	}
	k.stale = current

	for _, id := range res.NewlyStale {
		k.activity.Warn(id, fmt.Sprintf("Agent silent for more than %s, marked disconnected", k.policy.Hard))
		publish(ctx, k.events, domain.Event{Type: domain.EventAgentStale, ClientID: id, Timestamp: now})
	}

	res.Connected = k.registry.countLiveAt(now, k.policy.Hard)
	metrics.SetConnectedAgents(res.Connected)
	return res
}

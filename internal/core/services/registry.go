package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/metrics"
	"tally.bridge/internal/core/ports"
)

const (
	// HardTimeout is the lenient liveness window used for status reporting.
	HardTimeout = 120 * time.Second
	// StrictTimeout gates endpoints that serve synced data.
	StrictTimeout = 60 * time.Second
)

// Registry holds one session per registered agent.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.AgentSession

	hardTimeout time.Duration
	now         func() time.Time
	activity    *ActivityLog
	events      ports.EventPublisher
}

type RegistryOption func(*Registry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithHardTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.hardTimeout = d }
}

func WithRegistryActivityLog(l *ActivityLog) RegistryOption {
	return func(r *Registry) { r.activity = l }
}

func WithRegistryEvents(p ports.EventPublisher) RegistryOption {
	return func(r *Registry) { r.events = p }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:    make(map[string]*domain.AgentSession),
		hardTimeout: HardTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Register inserts or replaces the session for clientID.
func (r *Registry) Register(ctx context.Context, clientID string, meta domain.AgentMetadata) (domain.SessionHandle, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.SessionHandle{}, domain.NewValidationError("clientId", "is required")
	}

	r.mu.Lock()
	now := r.now()
	existing, ok := r.sessions[clientID]
	registeredAt := now
	if ok {
		registeredAt = existing.RegisteredAt
		if existing.LastHeartbeat.After(now) {
			now = existing.LastHeartbeat
		}
	}
	r.sessions[clientID] = &domain.AgentSession{
		ClientID:          clientID,
		CompanyName:       meta.CompanyName,
		Version:           meta.Version,
		IPAddress:         meta.IPAddress,
		LastHeartbeat:     now,
		LastRealHeartbeat: now,
		Status:            domain.SessionStatusConnected,
		RegisteredAt:      registeredAt,
	}
	total := len(r.sessions)
	r.mu.Unlock()

	metrics.RecordRegistration()
	if ok {
		r.activity.Info(clientID, fmt.Sprintf("Agent re-registered (%s)", meta.CompanyName))
	} else {
		r.activity.Info(clientID, fmt.Sprintf("Agent registered (%s), %d known", meta.CompanyName, total))
	}
	publish(ctx, r.events, domain.Event{
		Type:      domain.EventAgentRegistered,
		ClientID:  clientID,
		Payload:   map[string]string{"companyName": meta.CompanyName, "version": meta.Version},
		Timestamp: now,
	})

	return domain.SessionHandle{ClientID: clientID, APIKey: "api_key_" + clientID}, nil
}

// Heartbeat refreshes the session for clientID and returns the applied stamp.
// An unknown clientID gets a minimal session: agents may heartbeat before their
// register call lands.
func (r *Registry) Heartbeat(ctx context.Context, clientID string) (time.Time, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return time.Time{}, domain.NewValidationError("clientId", "is required")
	}

	r.mu.Lock()
	now := r.now()
	s, ok := r.sessions[clientID]
	if !ok {
		s = &domain.AgentSession{
			ClientID:     clientID,
			Status:       domain.SessionStatusConnected,
			RegisteredAt: now,
		}
		r.sessions[clientID] = s
	}
	// Last write wins: a stamp older than the stored one is dropped.
	if now.After(s.LastHeartbeat) {
		s.LastHeartbeat = now
	}
	if now.After(s.LastRealHeartbeat) {
		s.LastRealHeartbeat = now
	}
	s.Extensions = 0
	stamp := s.LastHeartbeat
	r.mu.Unlock()

	metrics.RecordHeartbeat("agent")
	if !ok {
		r.activity.Warn(clientID, "Heartbeat from unregistered agent, session created")
	}
	return stamp, nil
}

// Get returns a copy of the session for clientID.
func (r *Registry) Get(clientID string) (domain.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[clientID]
	if !ok {
		return domain.AgentSession{}, &domain.NotFoundError{Resource: "client", ID: clientID}
	}
	return *s, nil
}

// List returns every session, stale ones included, most recent heartbeat first.
func (r *Registry) List() []domain.AgentSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastHeartbeat.Equal(out[j].LastHeartbeat) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].LastHeartbeat.After(out[j].LastHeartbeat)
	})
	return out
}

// IsConnected reports whether any session is inside the hard window.
func (r *Registry) IsConnected() bool {
	return r.IsLive(r.hardTimeout)
}

// IsLive reports whether any session heartbeated within window.
func (r *Registry) IsLive(window time.Duration) bool {
	return r.CountLive(window) > 0
}

func (r *Registry) ConnectedCount() int {
	return r.CountLive(r.hardTimeout)
}

func (r *Registry) CountLive(window time.Duration) int {
	return r.countLiveAt(r.now(), window)
}

// CountRealLive counts sessions whose last agent-sent heartbeat is within window.
// Keeper extensions do not count.
func (r *Registry) CountRealLive(window time.Duration) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	count := 0
	for _, s := range r.sessions {
		if now.Sub(s.LastRealHeartbeat) < window {
			count++
		}
	}
	return count
}

// IsRealLive reports whether any agent itself heartbeated within window.
func (r *Registry) IsRealLive(window time.Duration) bool {
	return r.CountRealLive(window) > 0
}

// SetStatus applies status to every live session and returns how many changed.
func (r *Registry) SetStatus(status domain.SessionStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	changed := 0
	for _, s := range r.sessions {
		if now.Sub(s.LastHeartbeat) < r.hardTimeout && s.Status != status {
			s.Status = status
			changed++
		}
	}
	return changed
}

// extendMostRecent applies policy to the session with the latest heartbeat.
func (r *Registry) extendMostRecent(now time.Time, policy GracePolicy) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.AgentSession
	for _, s := range r.sessions {
		if latest == nil || s.LastHeartbeat.After(latest.LastHeartbeat) {
			latest = s
		}
	}
	if latest == nil || !policy.Allows(now.Sub(latest.LastHeartbeat), latest.Extensions) {
		return "", false
	}
	latest.LastHeartbeat = now
	latest.Extensions++
	return latest.ClientID, true
}

// staleSessions returns ids of sessions outside the hard window at now.
func (r *Registry) staleSessions(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, s := range r.sessions {
		if now.Sub(s.LastHeartbeat) >= r.hardTimeout {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

func (r *Registry) countLiveAt(now time.Time, window time.Duration) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.sessions {
		if now.Sub(s.LastHeartbeat) < window {
			count++
		}
	}
	return count
}

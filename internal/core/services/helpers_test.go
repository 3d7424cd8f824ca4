package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tally.bridge/internal/adapters/repository/memory"
	"tally.bridge/internal/core/domain"
)

var epoch = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to epoch+offset.
func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	c.t = epoch.Add(offset)
	c.mu.Unlock()
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) PublishEvent(ctx context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingRejects struct {
	mu   sync.Mutex
	recs []domain.RejectedRecord
}

func (r *recordingRejects) AddReject(ctx context.Context, rec domain.RejectedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recordingRejects) ListRejects(ctx context.Context, limit int64) ([]*domain.RejectedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.RejectedRecord, 0, len(r.recs))
	for i := range r.recs {
		out = append(out, &r.recs[i])
	}
	return out, nil
}

type memConfigStore struct {
	cfg     *domain.BridgeConfig
	saveErr error
}

func (s *memConfigStore) LoadConfig(ctx context.Context) (*domain.BridgeConfig, error) {
	if s.cfg == nil {
		return nil, domain.ErrNotFound
	}
	c := *s.cfg
	return &c, nil
}

func (s *memConfigStore) SaveConfig(ctx context.Context, cfg domain.BridgeConfig) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cfg = &cfg
	return nil
}

// conflictingStore fails every client insert with a unique violation.
type conflictingStore struct {
	*memory.Repository
}

func (s conflictingStore) CreateClient(ctx context.Context, c *domain.Client) error {
	return &domain.ConflictError{Reason: "duplicate key value violates unique constraint"}
}

// gatedStore blocks the CountRows call numbered blockAt until release is closed.
type gatedStore struct {
	*memory.Repository
	calls   atomic.Int32
	blockAt int32
	release chan struct{}
}

func (s *gatedStore) CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error) {
	if s.calls.Add(1) == s.blockAt {
		<-s.release
	}
	return s.Repository.CountRows(ctx, entity)
}

type failingCountStore struct {
	*memory.Repository
}

func (failingCountStore) CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error) {
	return domain.RowCount{}, errors.New("database is locked")
}

func rawBatch(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func actions(records []domain.ReconciliationRecord) []domain.ReconcileAction {
	out := make([]domain.ReconcileAction, len(records))
	for i, r := range records {
		out[i] = r.Action
	}
	return out
}

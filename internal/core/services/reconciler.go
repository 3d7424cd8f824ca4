package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/metrics"
	"tally.bridge/internal/core/ports"
	"tally.bridge/internal/core/tracing"
	"tally.bridge/internal/core/validation"
)

const defaultReconcileConcurrency = 8

// ReconcileEngine merges externally sourced batches into storage, keyed by external id.
type ReconcileEngine struct {
	handlers    map[domain.EntityType]entityHandler
	validate    *validation.Validator
	locks       *keyedMutex
	rejects     ports.RejectStore
	now         func() time.Time
	concurrency int
}

type EngineOption func(*ReconcileEngine)

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *ReconcileEngine) { e.now = now }
}

func WithRejectStore(s ports.RejectStore) EngineOption {
	return func(e *ReconcileEngine) { e.rejects = s }
}

func WithConcurrency(n int) EngineOption {
	return func(e *ReconcileEngine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewReconcileEngine(store ports.Storage, opts ...EngineOption) *ReconcileEngine {
	e := &ReconcileEngine{
		handlers:    newEntityHandlers(store),
		validate:    validation.New(),
		locks:       newKeyedMutex(),
		now:         time.Now,
		concurrency: defaultReconcileConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile returns one record per batch item, in input order. Item failures are reported
// in the records; the returned error is only set for an unsupported entity type.
func (e *ReconcileEngine) Reconcile(ctx context.Context, entity domain.EntityType, batch []json.RawMessage) ([]domain.ReconciliationRecord, error) {
	h, ok := e.handlers[entity]
	if !ok {
		return nil, domain.NewValidationError("entityType", fmt.Sprintf("unsupported entity type %q", entity))
	}

	ctx, span := tracing.StartSpan(ctx, "reconcile."+string(entity))
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(batch)))
	start := time.Now()

	results := make([]domain.ReconciliationRecord, len(batch))
	payloads := make([]domain.Payload, len(batch))
	groups := make(map[string][]int)
	var keys []string

	for i, raw := range batch {
		p, err := h.decode(e.validate, raw)
		if err != nil {
			results[i] = errorRecord(entity, guessExternalID(raw), err)
			continue
		}
		payloads[i] = p
		if _, seen := groups[p.Key()]; !seen {
			keys = append(keys, p.Key())
		}
		groups[p.Key()] = append(groups[p.Key()], i)
	}

	// Distinct external ids run concurrently; items sharing one run in input order.
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, key := range keys {
		idxs := groups[key]
		g.Go(func() error {
			unlock := e.locks.Lock(string(entity) + ":" + key)
			defer unlock()
			for _, i := range idxs {
				results[i] = e.apply(ctx, h, entity, payloads[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		metrics.RecordReconcileAction(string(entity), string(r.Action))
		if r.Action == domain.ActionError {
			e.reject(ctx, entity, r, batch[i])
		}
	}
	metrics.ObserveReconcileBatch(string(entity), time.Since(start))

	summary := domain.Summarize(results)
	span.SetAttributes(
		attribute.Int("batch.created", summary.Created),
		attribute.Int("batch.updated", summary.Updated),
		attribute.Int("batch.errors", summary.Errors),
	)
	return results, nil
}

func (e *ReconcileEngine) apply(ctx context.Context, h entityHandler, entity domain.EntityType, p domain.Payload) domain.ReconciliationRecord {
	localID, action, err := h.upsert(ctx, p, e.now())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			err = &domain.ConflictError{Reason: fmt.Sprintf("%s %q was written concurrently: %v", entity, p.Key(), err)}
		}
		logger.WarnContext(ctx, "Reconciliation failed", "entity", entity, "external_id", p.Key(), "error", err)
		return errorRecord(entity, p.Key(), err)
	}
	return domain.ReconciliationRecord{
		ExternalID: p.Key(),
		EntityType: entity,
		LocalID:    localID,
		Action:     action,
	}
}

func (e *ReconcileEngine) reject(ctx context.Context, entity domain.EntityType, r domain.ReconciliationRecord, raw json.RawMessage) {
	if e.rejects == nil {
		return
	}
	err := e.rejects.AddReject(ctx, domain.RejectedRecord{
		EntityType: entity,
		ExternalID: r.ExternalID,
		Reason:     r.ErrorMessage,
		Payload:    string(raw),
		RejectedAt: e.now(),
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to store rejected record", "entity", entity, "error", err)
	}
}

func errorRecord(entity domain.EntityType, externalID string, err error) domain.ReconciliationRecord {
	return domain.ReconciliationRecord{
		ExternalID:   externalID,
		EntityType:   entity,
		Action:       domain.ActionError,
		ErrorMessage: err.Error(),
	}
}

// guessExternalID recovers the key of an item that failed validation, for error reporting.
func guessExternalID(raw json.RawMessage) string {
	var probe struct {
		ExternalID interface{} `json:"externalId"`
		GUID       interface{} `json:"guid"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	for _, v := range []interface{}{probe.ExternalID, probe.GUID} {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// entityHandler decodes and upserts one entity type.
type entityHandler interface {
	decode(v *validation.Validator, raw json.RawMessage) (domain.Payload, error)
	upsert(ctx context.Context, p domain.Payload, now time.Time) (string, domain.ReconcileAction, error)
}

// rowHandler implements entityHandler for payload type P and storage row type T.
type rowHandler[P domain.Payload, T any] struct {
	name       string
	newPayload func() P
	apply      func(P, *T) error
	fresh      func(id, externalID string, now time.Time) *T
	touch      func(row *T, now time.Time)
	localID    func(row *T) string
	get        func(context.Context, string) (*T, error)
	create     func(context.Context, *T) error
	update     func(context.Context, *T) error
}

func (h *rowHandler[P, T]) decode(v *validation.Validator, raw json.RawMessage) (domain.Payload, error) {
	p := h.newPayload()
	if err := v.Decode(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *rowHandler[P, T]) upsert(ctx context.Context, payload domain.Payload, now time.Time) (string, domain.ReconcileAction, error) {
	p, ok := payload.(P)
	if !ok {
		return "", "", fmt.Errorf("unexpected payload %T for %s", payload, h.name)
	}

	row, err := h.get(ctx, p.Key())
	switch {
	case err == nil:
		if err := h.apply(p, row); err != nil {
			return "", "", err
		}
		h.touch(row, now)
		if err := h.update(ctx, row); err != nil {
			return "", "", fmt.Errorf("updating %s: %w", h.name, err)
		}
		return h.localID(row), domain.ActionUpdated, nil
	case errors.Is(err, domain.ErrNotFound):
		row = h.fresh(uuid.NewString(), p.Key(), now)
		if err := h.apply(p, row); err != nil {
			return "", "", err
		}
		if err := h.create(ctx, row); err != nil {
			return "", "", fmt.Errorf("creating %s: %w", h.name, err)
		}
		return h.localID(row), domain.ActionCreated, nil
	default:
		return "", "", fmt.Errorf("looking up %s: %w", h.name, err)
	}
}

func newEntityHandlers(store ports.Storage) map[domain.EntityType]entityHandler {
	return map[domain.EntityType]entityHandler{
		domain.EntityClient: &rowHandler[*domain.LedgerPayload, domain.Client]{
			name:       "client",
			newPayload: func() *domain.LedgerPayload { return &domain.LedgerPayload{} },
			apply: func(p *domain.LedgerPayload, c *domain.Client) error {
				p.ApplyTo(c)
				return nil
			},
			fresh: func(id, ext string, now time.Time) *domain.Client {
				return &domain.Client{ID: id, ExternalID: &ext, LastSynced: &now, CreatedAt: now, UpdatedAt: now}
			},
			touch:   func(c *domain.Client, now time.Time) { c.LastSynced, c.UpdatedAt = &now, now },
			localID: func(c *domain.Client) string { return c.ID },
			get:     store.GetClientByExternalID,
			create:  store.CreateClient,
			update:  store.UpdateClient,
		},
		domain.EntityPayment: &rowHandler[*domain.VoucherPayload, domain.Payment]{
			name:       "payment",
			newPayload: func() *domain.VoucherPayload { return &domain.VoucherPayload{} },
			apply:      func(p *domain.VoucherPayload, pay *domain.Payment) error { return p.ApplyTo(pay) },
			fresh: func(id, ext string, now time.Time) *domain.Payment {
				return &domain.Payment{ID: id, ExternalID: &ext, LastSynced: &now, CreatedAt: now, UpdatedAt: now}
			},
			touch:   func(p *domain.Payment, now time.Time) { p.LastSynced, p.UpdatedAt = &now, now },
			localID: func(p *domain.Payment) string { return p.ID },
			get:     store.GetPaymentByExternalID,
			create:  store.CreatePayment,
			update:  store.UpdatePayment,
		},
		domain.EntityOrder: &rowHandler[*domain.OrderPayload, domain.Order]{
			name:       "order",
			newPayload: func() *domain.OrderPayload { return &domain.OrderPayload{} },
			apply:      func(p *domain.OrderPayload, o *domain.Order) error { return p.ApplyTo(o) },
			fresh: func(id, ext string, now time.Time) *domain.Order {
				return &domain.Order{ID: id, ExternalID: &ext, LastSynced: &now, CreatedAt: now, UpdatedAt: now}
			},
			touch:   func(o *domain.Order, now time.Time) { o.LastSynced, o.UpdatedAt = &now, now },
			localID: func(o *domain.Order) string { return o.ID },
			get:     store.GetOrderByExternalID,
			create:  store.CreateOrder,
			update:  store.UpdateOrder,
		},
		domain.EntityCompany: &rowHandler[*domain.CompanyPayload, domain.Company]{
			name:       "company",
			newPayload: func() *domain.CompanyPayload { return &domain.CompanyPayload{} },
			apply:      func(p *domain.CompanyPayload, c *domain.Company) error { return p.ApplyTo(c) },
			fresh: func(id, ext string, now time.Time) *domain.Company {
				return &domain.Company{ID: id, ExternalID: &ext, LastSynced: &now, CreatedAt: now, UpdatedAt: now}
			},
			touch:   func(c *domain.Company, now time.Time) { c.LastSynced, c.UpdatedAt = &now, now },
			localID: func(c *domain.Company) string { return c.ID },
			get:     store.GetCompanyByExternalID,
			create:  store.CreateCompany,
			update:  store.UpdateCompany,
		},
	}
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

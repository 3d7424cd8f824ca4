package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/ports"
)

// table is an id-keyed row set with a unique index on the external id.
type table[T any] struct {
	name  string
	rows  map[string]T
	byExt map[string]string
	id    func(*T) string
	extID func(*T) *string
}

func newTable[T any](name string, id func(*T) string, extID func(*T) *string) *table[T] {
	return &table[T]{
		name:  name,
		rows:  make(map[string]T),
		byExt: make(map[string]string),
		id:    id,
		extID: extID,
	}
}

func (t *table[T]) get(externalID string) (*T, error) {
	id, ok := t.byExt[externalID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: t.name, ID: externalID}
	}
	row := t.rows[id]
	return &row, nil
}

func (t *table[T]) create(row *T) error {
	id := t.id(row)
	if _, ok := t.rows[id]; ok {
		return &domain.ConflictError{Reason: fmt.Sprintf("%s %s already exists", t.name, id)}
	}
	if ext := t.extID(row); ext != nil {
		if _, ok := t.byExt[*ext]; ok {
			return &domain.ConflictError{Reason: fmt.Sprintf("%s with external id %s already exists", t.name, *ext)}
		}
		t.byExt[*ext] = id
	}
	t.rows[id] = *row
	return nil
}

func (t *table[T]) update(row *T) error {
	id := t.id(row)
	old, ok := t.rows[id]
	if !ok {
		return &domain.NotFoundError{Resource: t.name, ID: id}
	}
	newExt := t.extID(row)
	if newExt != nil {
		if owner, taken := t.byExt[*newExt]; taken && owner != id {
			return &domain.ConflictError{Reason: fmt.Sprintf("%s with external id %s already exists", t.name, *newExt)}
		}
	}
	if oldExt := t.extID(&old); oldExt != nil {
		delete(t.byExt, *oldExt)
	}
	if newExt != nil {
		t.byExt[*newExt] = id
	}
	t.rows[id] = *row
	return nil
}

func (t *table[T]) list() []*T {
	out := make([]*T, 0, len(t.rows))
	for _, row := range t.rows {
		r := row
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return t.id(out[i]) < t.id(out[j]) })
	return out
}

func (t *table[T]) count() domain.RowCount {
	return domain.RowCount{Total: int64(len(t.rows)), Synced: int64(len(t.byExt))}
}

// Repository keeps all rows in process memory.
type Repository struct {
	mu        sync.RWMutex
	clients   *table[domain.Client]
	payments  *table[domain.Payment]
	orders    *table[domain.Order]
	companies *table[domain.Company]
}

var _ ports.Storage = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		clients: newTable("client",
			func(c *domain.Client) string { return c.ID },
			func(c *domain.Client) *string { return c.ExternalID }),
		payments: newTable("payment",
			func(p *domain.Payment) string { return p.ID },
			func(p *domain.Payment) *string { return p.ExternalID }),
		orders: newTable("order",
			func(o *domain.Order) string { return o.ID },
			func(o *domain.Order) *string { return o.ExternalID }),
		companies: newTable("company",
			func(c *domain.Company) string { return c.ID },
			func(c *domain.Company) *string { return c.ExternalID }),
	}
}

func (r *Repository) GetClientByExternalID(ctx context.Context, externalID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients.get(externalID)
}

func (r *Repository) CreateClient(ctx context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients.create(client)
}

func (r *Repository) UpdateClient(ctx context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients.update(client)
}

func (r *Repository) ListClients(ctx context.Context) ([]*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients.list(), nil
}

func (r *Repository) GetPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.payments.get(externalID)
}

func (r *Repository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments.create(payment)
}

func (r *Repository) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments.update(payment)
}

func (r *Repository) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.payments.list(), nil
}

func (r *Repository) GetOrderByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orders.get(externalID)
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders.create(order)
}

func (r *Repository) UpdateOrder(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders.update(order)
}

func (r *Repository) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orders.list(), nil
}

func (r *Repository) GetCompanyByExternalID(ctx context.Context, externalID string) (*domain.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.companies.get(externalID)
}

func (r *Repository) CreateCompany(ctx context.Context, company *domain.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.companies.create(company)
}

func (r *Repository) UpdateCompany(ctx context.Context, company *domain.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.companies.update(company)
}

// ListSyncedCompanies returns companies that carry an external id, by name.
func (r *Repository) ListSyncedCompanies(ctx context.Context) ([]*domain.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Company
	for _, c := range r.companies.list() {
		if c.ExternalID != nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repository) CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch entity {
	case domain.EntityClient:
		return r.clients.count(), nil
	case domain.EntityPayment:
		return r.payments.count(), nil
	case domain.EntityOrder:
		return r.orders.count(), nil
	case domain.EntityCompany:
		return r.companies.count(), nil
	}
	return domain.RowCount{}, domain.NewValidationError("entityType", fmt.Sprintf("unknown entity type %q", entity))
}

func (r *Repository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) Close() error {
	return nil
}

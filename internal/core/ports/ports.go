package ports

import (
	"context"

	"tally.bridge/internal/core/domain"
)

// Get*ByExternalID return an error wrapping domain.ErrNotFound when no row carries the id.
// Create*/Update* return an error wrapping domain.ErrConflict on a unique violation.

type ClientRepository interface {
	GetClientByExternalID(ctx context.Context, externalID string) (*domain.Client, error)
	CreateClient(ctx context.Context, client *domain.Client) error
	UpdateClient(ctx context.Context, client *domain.Client) error
	ListClients(ctx context.Context) ([]*domain.Client, error)
}

type PaymentRepository interface {
	GetPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error)
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	UpdatePayment(ctx context.Context, payment *domain.Payment) error
	ListPayments(ctx context.Context) ([]*domain.Payment, error)
}

type OrderRepository interface {
	GetOrderByExternalID(ctx context.Context, externalID string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	UpdateOrder(ctx context.Context, order *domain.Order) error
	ListOrders(ctx context.Context) ([]*domain.Order, error)
}

type CompanyRepository interface {
	GetCompanyByExternalID(ctx context.Context, externalID string) (*domain.Company, error)
	CreateCompany(ctx context.Context, company *domain.Company) error
	UpdateCompany(ctx context.Context, company *domain.Company) error
	ListSyncedCompanies(ctx context.Context) ([]*domain.Company, error)
}

// Storage is the collaborator the bridge reconciles into.
type Storage interface {
	ClientRepository
	PaymentRepository
	OrderRepository
	CompanyRepository

	// CountRows returns total rows and rows carrying an external id.
	CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error)
	Ping(ctx context.Context) error
	Close() error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}

type EventBus interface {
	EventPublisher
	SubscribeEvents(ctx context.Context) (<-chan domain.Event, error)
}

// ConfigStore persists BridgeConfig across restarts.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (*domain.BridgeConfig, error)
	SaveConfig(ctx context.Context, cfg domain.BridgeConfig) error
}

// RejectStore keeps failed reconciliation items for inspection.
type RejectStore interface {
	AddReject(ctx context.Context, rec domain.RejectedRecord) error
	ListRejects(ctx context.Context, limit int64) ([]*domain.RejectedRecord, error)
}

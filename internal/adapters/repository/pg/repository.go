package pg

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/ports"
)

type Repository struct {
	db *gorm.DB
}

var _ ports.Storage = (*Repository)(nil)

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&domain.Client{}, &domain.Payment{}, &domain.Order{}, &domain.Company{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// translate maps gorm sentinel errors onto the domain taxonomy.
func translate(resource, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &domain.NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &domain.ConflictError{Reason: fmt.Sprintf("%s %s: %v", resource, id, err)}
	}
	return err
}

func firstByExternalID[T any](ctx context.Context, db *gorm.DB, resource, externalID string) (*T, error) {
	var row T
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&row).Error; err != nil {
		return nil, translate(resource, externalID, err)
	}
	return &row, nil
}

func listAll[T any](ctx context.Context, db *gorm.DB) ([]*T, error) {
	var rows []*T
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Client methods
func (r *Repository) GetClientByExternalID(ctx context.Context, externalID string) (*domain.Client, error) {
	return firstByExternalID[domain.Client](ctx, r.db, "client", externalID)
}

func (r *Repository) CreateClient(ctx context.Context, client *domain.Client) error {
	return translate("client", client.ID, r.db.WithContext(ctx).Create(client).Error)
}

func (r *Repository) UpdateClient(ctx context.Context, client *domain.Client) error {
	return translate("client", client.ID, r.db.WithContext(ctx).Save(client).Error)
}

func (r *Repository) ListClients(ctx context.Context) ([]*domain.Client, error) {
	return listAll[domain.Client](ctx, r.db)
}

// Payment methods
func (r *Repository) GetPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	return firstByExternalID[domain.Payment](ctx, r.db, "payment", externalID)
}

func (r *Repository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	return translate("payment", payment.ID, r.db.WithContext(ctx).Create(payment).Error)
}

func (r *Repository) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	return translate("payment", payment.ID, r.db.WithContext(ctx).Save(payment).Error)
}

func (r *Repository) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	return listAll[domain.Payment](ctx, r.db)
}

// Order methods
func (r *Repository) GetOrderByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	return firstByExternalID[domain.Order](ctx, r.db, "order", externalID)
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	return translate("order", order.ID, r.db.WithContext(ctx).Create(order).Error)
}

func (r *Repository) UpdateOrder(ctx context.Context, order *domain.Order) error {
	return translate("order", order.ID, r.db.WithContext(ctx).Save(order).Error)
}

func (r *Repository) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return listAll[domain.Order](ctx, r.db)
}

// Company methods
func (r *Repository) GetCompanyByExternalID(ctx context.Context, externalID string) (*domain.Company, error) {
	return firstByExternalID[domain.Company](ctx, r.db, "company", externalID)
}

func (r *Repository) CreateCompany(ctx context.Context, company *domain.Company) error {
	return translate("company", company.ID, r.db.WithContext(ctx).Create(company).Error)
}

func (r *Repository) UpdateCompany(ctx context.Context, company *domain.Company) error {
	return translate("company", company.ID, r.db.WithContext(ctx).Save(company).Error)
}

func (r *Repository) ListSyncedCompanies(ctx context.Context) ([]*domain.Company, error) {
	var companies []*domain.Company
	if err := r.db.WithContext(ctx).Where("external_id IS NOT NULL").Order("name").Find(&companies).Error; err != nil {
		return nil, err
	}
	return companies, nil
}

func (r *Repository) CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error) {
	var model interface{}
	switch entity {
	case domain.EntityClient:
		model = &domain.Client{}
	case domain.EntityPayment:
		model = &domain.Payment{}
	case domain.EntityOrder:
		model = &domain.Order{}
	case domain.EntityCompany:
		model = &domain.Company{}
	default:
		return domain.RowCount{}, domain.NewValidationError("entityType", fmt.Sprintf("unknown entity type %q", entity))
	}

	var count domain.RowCount
	db := r.db.WithContext(ctx)
	if err := db.Model(model).Count(&count.Total).Error; err != nil {
		return domain.RowCount{}, err
	}
	if err := db.Model(model).Where("external_id IS NOT NULL").Count(&count.Synced).Error; err != nil {
		return domain.RowCount{}, err
	}
	return count, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm DB instance
func (r *Repository) DB() *gorm.DB {
	return r.db
}

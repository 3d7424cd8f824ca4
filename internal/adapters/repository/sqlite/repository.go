package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"

	_ "modernc.org/sqlite"
)

// Repository implements ports.Storage on a single SQLite file.
type Repository struct {
	db *sql.DB
}

var _ ports.Storage = (*Repository)(nil)

// NewRepository opens (creating if needed) the database at path.
func NewRepository(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite has a single writer; one pooled connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	r := &Repository{db: db}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return r, nil
}

func (r *Repository) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			gstin TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			parent_group TEXT NOT NULL DEFAULT '',
			opening_balance REAL NOT NULL DEFAULT 0,
			external_id TEXT UNIQUE,
			last_synced TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			voucher_number TEXT NOT NULL DEFAULT '',
			paid_at TEXT NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			party_external_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			external_id TEXT UNIQUE,
			last_synced TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_number TEXT NOT NULL DEFAULT '',
			ordered_at TEXT NOT NULL,
			party_external_id TEXT NOT NULL DEFAULT '',
			total REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			external_id TEXT UNIQUE,
			last_synced TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS companies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			start_date TEXT,
			end_date TEXT,
			external_id TEXT UNIQUE,
			last_synced TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);
	`
	_, err := r.db.Exec(schema)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLite reports unique violations only in the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func writeErr(resource, id string, err error) error {
	if isUniqueViolation(err) {
		return &domain.ConflictError{Reason: fmt.Sprintf("%s %s: %v", resource, id, err)}
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", resource, err)
	}
	return nil
}

func (r *Repository) insert(ctx context.Context, resource, id string, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return writeErr(resource, id, err)
}

// update fails with a NotFoundError when no row has id.
func (r *Repository) update(ctx context.Context, resource, id string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return writeErr(resource, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func notFound(resource, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	return fmt.Errorf("reading %s: %w", resource, err)
}

// common row tail: external_id, last_synced, created_at, updated_at
type rowMeta struct {
	externalID sql.NullString
	lastSynced sql.NullString
	createdAt  string
	updatedAt  string
}

func (m *rowMeta) dest() []any {
	return []any{&m.externalID, &m.lastSynced, &m.createdAt, &m.updatedAt}
}

func (m *rowMeta) decode(extID **string, lastSynced **time.Time, createdAt, updatedAt *time.Time) error {
	var err error
	*extID = stringPtr(m.externalID)
	if *lastSynced, err = timePtr(m.lastSynced); err != nil {
		return err
	}
	if *createdAt, err = parseTime(m.createdAt); err != nil {
		return err
	}
	*updatedAt, err = parseTime(m.updatedAt)
	return err
}

// Client methods

const clientColumns = `id, name, email, phone, gstin, address, parent_group, opening_balance,
	external_id, last_synced, created_at, updated_at`

func scanClient(s scanner) (*domain.Client, error) {
	var c domain.Client
	var m rowMeta
	dest := append([]any{&c.ID, &c.Name, &c.Email, &c.Phone, &c.GSTIN, &c.Address, &c.ParentGroup, &c.OpeningBalance}, m.dest()...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if err := m.decode(&c.ExternalID, &c.LastSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetClientByExternalID(ctx context.Context, externalID string) (*domain.Client, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE external_id = ?`, externalID)
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound("client", externalID, err)
	}
	return c, nil
}

func (r *Repository) CreateClient(ctx context.Context, c *domain.Client) error {
	return r.insert(ctx, "client", c.ID, `INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.GSTIN, c.Address, c.ParentGroup, c.OpeningBalance,
		nullString(c.ExternalID), nullTime(c.LastSynced), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
}

func (r *Repository) UpdateClient(ctx context.Context, c *domain.Client) error {
	return r.update(ctx, "client", c.ID, `UPDATE clients SET name = ?, email = ?, phone = ?, gstin = ?, address = ?,
		parent_group = ?, opening_balance = ?, external_id = ?, last_synced = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Email, c.Phone, c.GSTIN, c.Address, c.ParentGroup, c.OpeningBalance,
		nullString(c.ExternalID), nullTime(c.LastSynced), formatTime(c.UpdatedAt), c.ID)
}

func (r *Repository) ListClients(ctx context.Context) ([]*domain.Client, error) {
	return queryAll(ctx, r.db, "client", `SELECT `+clientColumns+` FROM clients ORDER BY id`, scanClient)
}

// Payment methods

const paymentColumns = `id, voucher_number, paid_at, amount, party_external_id, mode, reference,
	external_id, last_synced, created_at, updated_at`

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var paidAt string
	var m rowMeta
	dest := append([]any{&p.ID, &p.VoucherNumber, &paidAt, &p.Amount, &p.PartyExternalID, &p.Mode, &p.Reference}, m.dest()...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if p.PaidAt, err = parseTime(paidAt); err != nil {
		return nil, err
	}
	if err := m.decode(&p.ExternalID, &p.LastSynced, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = ?`, externalID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound("payment", externalID, err)
	}
	return p, nil
}

func (r *Repository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	return r.insert(ctx, "payment", p.ID, `INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.VoucherNumber, formatTime(p.PaidAt), p.Amount, p.PartyExternalID, p.Mode, p.Reference,
		nullString(p.ExternalID), nullTime(p.LastSynced), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
}

func (r *Repository) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	return r.update(ctx, "payment", p.ID, `UPDATE payments SET voucher_number = ?, paid_at = ?, amount = ?,
		party_external_id = ?, mode = ?, reference = ?, external_id = ?, last_synced = ?, updated_at = ? WHERE id = ?`,
		p.VoucherNumber, formatTime(p.PaidAt), p.Amount, p.PartyExternalID, p.Mode, p.Reference,
		nullString(p.ExternalID), nullTime(p.LastSynced), formatTime(p.UpdatedAt), p.ID)
}

func (r *Repository) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	return queryAll(ctx, r.db, "payment", `SELECT `+paymentColumns+` FROM payments ORDER BY id`, scanPayment)
}

// Order methods

const orderColumns = `id, order_number, ordered_at, party_external_id, total, status,
	external_id, last_synced, created_at, updated_at`

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var orderedAt string
	var m rowMeta
	dest := append([]any{&o.ID, &o.OrderNumber, &orderedAt, &o.PartyExternalID, &o.Total, &o.Status}, m.dest()...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if o.OrderedAt, err = parseTime(orderedAt); err != nil {
		return nil, err
	}
	if err := m.decode(&o.ExternalID, &o.LastSynced, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) GetOrderByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id = ?`, externalID)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound("order", externalID, err)
	}
	return o, nil
}

func (r *Repository) CreateOrder(ctx context.Context, o *domain.Order) error {
	return r.insert(ctx, "order", o.ID, `INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, formatTime(o.OrderedAt), o.PartyExternalID, o.Total, o.Status,
		nullString(o.ExternalID), nullTime(o.LastSynced), formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
}

func (r *Repository) UpdateOrder(ctx context.Context, o *domain.Order) error {
	return r.update(ctx, "order", o.ID, `UPDATE orders SET order_number = ?, ordered_at = ?, party_external_id = ?,
		total = ?, status = ?, external_id = ?, last_synced = ?, updated_at = ? WHERE id = ?`,
		o.OrderNumber, formatTime(o.OrderedAt), o.PartyExternalID, o.Total, o.Status,
		nullString(o.ExternalID), nullTime(o.LastSynced), formatTime(o.UpdatedAt), o.ID)
}

func (r *Repository) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return queryAll(ctx, r.db, "order", `SELECT `+orderColumns+` FROM orders ORDER BY id`, scanOrder)
}

// Company methods

const companyColumns = `id, name, start_date, end_date, external_id, last_synced, created_at, updated_at`

func scanCompany(s scanner) (*domain.Company, error) {
	var c domain.Company
	var start, end sql.NullString
	var m rowMeta
	dest := append([]any{&c.ID, &c.Name, &start, &end}, m.dest()...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if c.StartDate, err = timePtr(start); err != nil {
		return nil, err
	}
	if c.EndDate, err = timePtr(end); err != nil {
		return nil, err
	}
	if err := m.decode(&c.ExternalID, &c.LastSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetCompanyByExternalID(ctx context.Context, externalID string) (*domain.Company, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE external_id = ?`, externalID)
	c, err := scanCompany(row)
	if err != nil {
		return nil, notFound("company", externalID, err)
	}
	return c, nil
}

func (r *Repository) CreateCompany(ctx context.Context, c *domain.Company) error {
	return r.insert(ctx, "company", c.ID, `INSERT INTO companies (`+companyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullTime(c.StartDate), nullTime(c.EndDate),
		nullString(c.ExternalID), nullTime(c.LastSynced), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
}

func (r *Repository) UpdateCompany(ctx context.Context, c *domain.Company) error {
	return r.update(ctx, "company", c.ID, `UPDATE companies SET name = ?, start_date = ?, end_date = ?,
		external_id = ?, last_synced = ?, updated_at = ? WHERE id = ?`,
		c.Name, nullTime(c.StartDate), nullTime(c.EndDate),
		nullString(c.ExternalID), nullTime(c.LastSynced), formatTime(c.UpdatedAt), c.ID)
}

func (r *Repository) ListSyncedCompanies(ctx context.Context) ([]*domain.Company, error) {
	return queryAll(ctx, r.db, "company",
		`SELECT `+companyColumns+` FROM companies WHERE external_id IS NOT NULL ORDER BY name`, scanCompany)
}

func queryAll[T any](ctx context.Context, db *sql.DB, resource, query string, scan func(scanner) (*T, error)) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", resource, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", resource, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var countTables = map[domain.EntityType]string{
	domain.EntityClient:  "clients",
	domain.EntityPayment: "payments",
	domain.EntityOrder:   "orders",
	domain.EntityCompany: "companies",
}

func (r *Repository) CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error) {
	table, ok := countTables[entity]
	if !ok {
		return domain.RowCount{}, domain.NewValidationError("entityType", fmt.Sprintf("unknown entity type %q", entity))
	}
	var count domain.RowCount
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(external_id) FROM `+table).Scan(&count.Total, &count.Synced)
	if err != nil {
		return domain.RowCount{}, fmt.Errorf("counting %s: %w", table, err)
	}
	return count, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

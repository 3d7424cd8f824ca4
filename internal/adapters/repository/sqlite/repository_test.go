package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tally.bridge/internal/core/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func strPtr(s string) *string { return &s }

func TestRepository_ClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2024, 4, 1, 10, 30, 0, 0, time.UTC)

	c := &domain.Client{ID: "c1", Name: "Acme", GSTIN: "27AAPFU0939F1ZV", OpeningBalance: 1250.5,
		ExternalID: strPtr("L-1"), LastSynced: &now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateClient(ctx, c))

	got, err := repo.GetClientByExternalID(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, 1250.5, got.OpeningBalance)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "L-1", *got.ExternalID)
	require.NotNil(t, got.LastSynced)
	assert.True(t, now.Equal(*got.LastSynced))
	assert.True(t, now.Equal(got.CreatedAt))

	got.Name = "Acme Ltd"
	require.NoError(t, repo.UpdateClient(ctx, got))
	again, err := repo.GetClientByExternalID(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", again.Name)

	_, err = repo.GetClientByExternalID(ctx, "L-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.UpdateClient(ctx, &domain.Client{ID: "ghost", UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_UniqueExternalID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	require.NoError(t, repo.CreateOrder(ctx, &domain.Order{ID: "o1", OrderedAt: now, ExternalID: strPtr("O-1"), CreatedAt: now, UpdatedAt: now}))
	err := repo.CreateOrder(ctx, &domain.Order{ID: "o2", OrderedAt: now, ExternalID: strPtr("O-1"), CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Local rows without an external id never collide.
	require.NoError(t, repo.CreateOrder(ctx, &domain.Order{ID: "o3", OrderedAt: now, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateOrder(ctx, &domain.Order{ID: "o4", OrderedAt: now, CreatedAt: now, UpdatedAt: now}))

	count, err := repo.CountRows(ctx, domain.EntityOrder)
	require.NoError(t, err)
	assert.Equal(t, domain.RowCount{Total: 3, Synced: 1}, count)
}

func TestRepository_PaymentsAndCompanies(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreatePayment(ctx, &domain.Payment{ID: "p1", VoucherNumber: "R/1", PaidAt: now, Amount: 10,
		ExternalID: strPtr("V-1"), CreatedAt: now, UpdatedAt: now}))
	p, err := repo.GetPaymentByExternalID(ctx, "V-1")
	require.NoError(t, err)
	assert.True(t, now.Equal(p.PaidAt))
	assert.Nil(t, p.LastSynced)

	start := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateCompany(ctx, &domain.Company{ID: "k2", Name: "Zeta", ExternalID: strPtr("G-2"), CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateCompany(ctx, &domain.Company{ID: "k1", Name: "Acme", StartDate: &start, ExternalID: strPtr("G-1"), CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.CreateCompany(ctx, &domain.Company{ID: "k3", Name: "Local", CreatedAt: now, UpdatedAt: now}))

	companies, err := repo.ListSyncedCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Acme", companies[0].Name)
	require.NotNil(t, companies[0].StartDate)
	assert.True(t, start.Equal(*companies[0].StartDate))

	payments, err := repo.ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestRepository_CountRowsUnknownEntity(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.CountRows(context.Background(), domain.EntityType("stock"))
	assert.True(t, domain.IsValidation(err))
	assert.NoError(t, repo.Ping(context.Background()))
}

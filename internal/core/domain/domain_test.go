package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	cases := map[string]EntityType{
		"ledgers":   EntityClient,
		"Client":    EntityClient,
		"vouchers":  EntityPayment,
		"payment":   EntityPayment,
		" orders ":  EntityOrder,
		"companies": EntityCompany,
	}
	for in, want := range cases {
		got, err := ParseEntityType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEntityType("stock")
	assert.True(t, IsValidation(err))
}

func TestParseTallyDate(t *testing.T) {
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"20240401", "2024-04-01", "1-Apr-2024", "2024-04-01T00:00:00Z"} {
		got, err := ParseTallyDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err := ParseTallyDate("04/01/2024")
	assert.Error(t, err)
}

func TestBridgeConfigMerge(t *testing.T) {
	base := DefaultBridgeConfig()
	url := "http://tally.local:9000"
	auto := true

	merged := base.Merge(BridgeConfigPatch{TallyURL: &url, AutoStart: &auto, DataTypes: []string{"ledgers"}})
	assert.Equal(t, url, merged.TallyURL)
	assert.True(t, merged.AutoStart)
	assert.Equal(t, []string{"ledgers"}, merged.DataTypes)
	assert.Equal(t, base.WebAPIURL, merged.WebAPIURL)
	assert.Equal(t, []string{"ledgers", "vouchers", "orders"}, base.DataTypes, "merge never mutates the receiver")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]ReconciliationRecord{
		{Action: ActionCreated}, {Action: ActionUpdated}, {Action: ActionError}, {Action: ActionCreated},
	})
	assert.Equal(t, ReconcileSummary{Total: 4, Created: 2, Updated: 1, Errors: 1}, s)
}

func TestErrorTaxonomy(t *testing.T) {
	var nf error = &NotFoundError{Resource: "client", ID: "L-1"}
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.Equal(t, `client "L-1" not found`, nf.Error())

	var c error = &ConflictError{Reason: "manual sync already in progress"}
	assert.True(t, errors.Is(c, ErrConflict))

	assert.True(t, IsConnectivity(&ConnectivityError{Reason: "no agent"}))
	assert.False(t, IsValidation(c))
}

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tally.bridge/internal/core/domain"
)

func TestDecode_LedgerPayload(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		raw       string
		wantField string
	}{
		{name: "valid", raw: `{"externalId":"G-1","name":"Acme"}`},
		{name: "missing name", raw: `{"externalId":"G-1"}`, wantField: "name"},
		{name: "missing external id", raw: `{"name":"Acme"}`, wantField: "externalId"},
		{name: "bad email", raw: `{"externalId":"G-1","name":"Acme","email":"nope"}`, wantField: "email"},
		{name: "short gstin", raw: `{"externalId":"G-1","name":"Acme","gstin":"27AAA"}`, wantField: "gstin"},
		{name: "wrong type", raw: `{"externalId":42,"name":"Acme"}`, wantField: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p domain.LedgerPayload
			err := v.Decode([]byte(tt.raw), &p)
			if tt.name == "valid" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestDecode_TallyDate(t *testing.T) {
	v := New()

	var ok domain.VoucherPayload
	require.NoError(t, v.Decode([]byte(`{"externalId":"V-1","voucherNumber":"1","date":"20240401","amount":10}`), &ok))

	var bad domain.VoucherPayload
	err := v.Decode([]byte(`{"externalId":"V-1","voucherNumber":"1","date":"yesterday","amount":10}`), &bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")
}

func TestDecodeStrict_RejectsUnknownFields(t *testing.T) {
	v := New()
	var p domain.BridgeConfigPatch
	err := v.DecodeStrict([]byte(`{"syncMode":"realtime","bogus":1}`), &p)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCompanyPayload_RequiresGUIDOrExternalID(t *testing.T) {
	v := New()

	var withGUID domain.CompanyPayload
	require.NoError(t, v.Decode([]byte(`{"guid":"c-1","name":"Acme"}`), &withGUID))
	assert.Equal(t, "c-1", withGUID.Key())

	var withExternal domain.CompanyPayload
	require.NoError(t, v.Decode([]byte(`{"externalId":"c-2","name":"Acme"}`), &withExternal))
	assert.Equal(t, "c-2", withExternal.Key())

	var neither domain.CompanyPayload
	assert.Error(t, v.Decode([]byte(`{"name":"Acme"}`), &neither))
}

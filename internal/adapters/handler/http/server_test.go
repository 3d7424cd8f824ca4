package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tally.bridge/internal/adapters/repository/memory"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/ports"
	"tally.bridge/internal/core/services"
)

type testBridge struct {
	server   *httptest.Server
	orch     *services.Orchestrator
	registry *services.Registry
}

func newTestBridge(t *testing.T, store ports.Storage) *testBridge {
	t.Helper()
	activity := services.NewActivityLog(50)
	registry := services.NewRegistry(services.WithRegistryActivityLog(activity))
	config := services.NewConfigService(domain.DefaultBridgeConfig(), nil)
	orch := services.NewOrchestrator(services.OrchestratorDeps{
		Registry: registry,
		Engine:   services.NewReconcileEngine(store),
		Store:    store,
		Config:   config,
		Activity: activity,
	})
	srv := NewServer(Deps{
		Registry:     registry,
		Orchestrator: orch,
		Config:       config,
		Activity:     activity,
		Health:       services.NewHealthService(store, nil, registry, "test"),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		orch.Wait()
		ts.Close()
	})
	return &testBridge{server: ts, orch: orch, registry: registry}
}

func (b *testBridge) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, b.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (b *testBridge) getList(t *testing.T, path string) (*http.Response, []map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(b.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out []map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRegisterHeartbeatStatus(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, body := b.do(t, http.MethodPost, "/api/tally/register", map[string]string{"clientId": "W1", "companyName": "Acme"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "W1", body["clientId"])
	assert.Equal(t, "api_key_W1", body["apiKey"])

	resp, body = b.do(t, http.MethodPost, "/api/tally/heartbeat", map[string]string{"clientId": "W1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["timestamp"])

	resp, body = b.do(t, http.MethodGet, "/api/tally/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["isConnected"])
	assert.Equal(t, float64(1), body["connectedClients"])
	assert.Equal(t, "idle", body["status"])

	_, clients := b.getList(t, "/api/tally/clients")
	require.Len(t, clients, 1)
	assert.Equal(t, "127.0.0.1", clients[0]["ipAddress"], "ipAddress defaults to the remote address")
}

func TestHeartbeatValidation(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, body := b.do(t, http.MethodPost, "/api/tally/heartbeat", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["error"])

	resp, _ = b.do(t, http.MethodPost, "/api/tally/heartbeat", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/tally/heartbeat", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompaniesEndpoint(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, _ := b.do(t, http.MethodGet, "/api/tally/companies", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	b.do(t, http.MethodPost, "/api/tally/register", map[string]string{"clientId": "W1"})
	resp, body := b.do(t, http.MethodGet, "/api/tally/companies", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, []interface{}{}, body["companies"])
	assert.NotEmpty(t, body["message"])

	resp, body = b.do(t, http.MethodPost, "/api/tally/sync/companies", map[string]interface{}{
		"clientId": "W1",
		"entities": []map[string]string{{"guid": "G-1", "name": "Acme Traders"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, companies := b.getList(t, "/api/tally/companies")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, companies, 1)
	assert.Equal(t, "Acme Traders", companies[0]["name"])
	assert.Equal(t, "G-1", companies[0]["guid"])
}

func TestTestConnectionAndCompany(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, _ := b.do(t, http.MethodPost, "/api/tally/test-connection", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/tally/test-company", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/tally/test-company", map[string]string{"company": "Acme"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	b.do(t, http.MethodPost, "/api/tally/sync/companies", map[string]interface{}{
		"clientId": "W1",
		"entities": []map[string]string{{"guid": "G-1", "name": "Acme"}},
	})

	resp, body := b.do(t, http.MethodPost, "/api/tally/test-connection", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = b.do(t, http.MethodPost, "/api/tally/test-company", map[string]string{"company": "Unknown"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = b.do(t, http.MethodPost, "/api/tally/test-company", map[string]string{"company": "acme"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme", body["company"])
}

func TestConfigRoundTrip(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, body := b.do(t, http.MethodPost, "/api/tally/config", map[string]interface{}{
		"companyName":  "Acme",
		"syncInterval": 10,
		"unknownField": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = b.do(t, http.MethodGet, "/api/tally/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme", body["companyName"])
	assert.Equal(t, float64(10), body["syncInterval"])
	assert.Equal(t, "http://localhost:9000", body["tallyUrl"])
	assert.Equal(t, "realtime", body["syncMode"])

	resp, _ = b.do(t, http.MethodPost, "/api/tally/config", map[string]interface{}{"syncMode": "hourly"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = b.do(t, http.MethodGet, "/api/tally/config", nil)
	assert.Equal(t, "realtime", body["syncMode"])
}

func TestSyncControl(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, body := b.do(t, http.MethodPost, "/api/tally/sync/start", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_connected", body["error"])

	b.do(t, http.MethodPost, "/api/tally/register", map[string]string{"clientId": "W1"})
	resp, body = b.do(t, http.MethodPost, "/api/tally/sync/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "syncing", body["status"].(map[string]interface{})["status"])

	resp, _ = b.do(t, http.MethodPost, "/api/tally/sync/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/tally/sync/manual", map[string]interface{}{"dataTypes": []string{"stock"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = b.do(t, http.MethodPost, "/api/tally/sync/manual", map[string]interface{}{"dataTypes": []string{"ledgers"}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []interface{}{"client"}, body["dataTypes"])
	b.orch.Wait()

	resp, _ = b.do(t, http.MethodPost, "/api/tally/sync/manual", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestIngestLedgers(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, body := b.do(t, http.MethodPost, "/api/tally/sync/ledgers", map[string]interface{}{
		"entities": []map[string]interface{}{
			{"externalId": "L-1", "name": "Acme"},
			{"externalId": "L-2", "email": "not-an-email", "name": "Beta"},
			{"externalId": "L-3", "name": "Gamma"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := body["results"].([]interface{})
	require.Len(t, results, 3)
	var got []string
	for _, r := range results {
		got = append(got, r.(map[string]interface{})["action"].(string))
	}
	assert.Equal(t, []string{"created", "error", "created"}, got)

	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(1), summary["errors"])

	resp, _ = b.do(t, http.MethodPost, "/api/tally/sync/ledgers", map[string]interface{}{"clientId": "W1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "entities is required")

	_, logs := b.getList(t, "/api/tally/logs")
	assert.NotEmpty(t, logs)
}

func TestRejectsWithoutStore(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())
	resp, recs := b.getList(t, "/api/tally/sync/rejects")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, recs)
}

type brokenStore struct {
	*memory.Repository
}

func (brokenStore) CountRows(ctx context.Context, entity domain.EntityType) (domain.RowCount, error) {
	return domain.RowCount{}, errors.New("pq: connection refused")
}

func (brokenStore) Ping(ctx context.Context) error {
	return errors.New("pq: connection refused")
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	b := newTestBridge(t, brokenStore{memory.NewRepository()})

	resp, body := b.do(t, http.MethodGet, "/api/tally/sync/status", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["message"])

	resp, _ = b.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthProbes(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	resp, _ := b.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := b.do(t, http.MethodGet, "/api/health/detailed", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = b.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	b := newTestBridge(t, memory.NewRepository())

	body := `{"clientId":"W1","entities":["` + strings.Repeat("x", maxBodyBytes) + `"]}`
	resp, out := b.do(t, http.MethodPost, "/api/tally/sync/ledgers", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "payload_too_large", out["error"])
	assert.Contains(t, out["message"], "request body too large")
}

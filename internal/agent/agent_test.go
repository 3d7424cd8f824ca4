package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tally.bridge/internal/core/domain"
)

type fakeBridge struct {
	mu         sync.Mutex
	registers  int
	heartbeats int
	forget     atomic.Bool
	lastBatch  map[string]any
	lastAPIKey string
}

func (b *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tally/register", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.registers++
		b.mu.Unlock()
		b.forget.Store(false)
		writeTestJSON(w, http.StatusOK, map[string]any{
			"success": true, "clientId": req["clientId"], "apiKey": "key-1", "message": "registered",
		})
	})
	mux.HandleFunc("POST /api/tally/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.heartbeats++
		b.lastAPIKey = r.Header.Get("X-API-Key")
		b.mu.Unlock()
		if b.forget.Load() {
			writeTestJSON(w, http.StatusNotFound, map[string]any{
				"success": false, "error": "not_found", "message": "client not registered",
			})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/tally/sync/ledgers", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.lastBatch = req
		b.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"results": []map[string]any{{"externalId": "L1", "entityType": "client", "action": "created"}},
			"summary": map[string]int{"total": 1, "created": 1},
		})
	})
	mux.HandleFunc("POST /api/tally/sync/companies", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "validation_error", "message": "entities is required",
		})
	})
	return mux
}

func (b *fakeBridge) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registers, b.heartbeats
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestAgent(t *testing.T, bridge *fakeBridge, interval time.Duration) *Agent {
	t.Helper()
	srv := httptest.NewServer(bridge.handler())
	t.Cleanup(srv.Close)
	a, err := New(Options{ServerURL: srv.URL + "/", ClientID: "desk-01", HeartbeatInterval: interval})
	require.NoError(t, err)
	return a
}

func TestNew_RequiresServerAndClient(t *testing.T) {
	_, err := New(Options{ClientID: "x"})
	assert.Error(t, err)
	_, err = New(Options{ServerURL: "http://localhost"})
	assert.Error(t, err)
}

func TestAgent_RegisterStoresAPIKey(t *testing.T) {
	bridge := &fakeBridge{}
	a := newTestAgent(t, bridge, time.Hour)

	require.NoError(t, a.Register(context.Background()))
	assert.Equal(t, "key-1", a.apiKey)

	require.NoError(t, a.Heartbeat(context.Background()))
	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	assert.Equal(t, "key-1", bridge.lastAPIKey)
}

func TestAgent_RunHeartbeatsAndReregisters(t *testing.T) {
	bridge := &fakeBridge{}
	a := newTestAgent(t, bridge, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, hb := bridge.counts()
		return hb >= 2
	}, time.Second, 5*time.Millisecond)

	bridge.forget.Store(true)
	require.Eventually(t, func() bool {
		reg, _ := bridge.counts()
		return reg >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAgent_PushLedgers(t *testing.T) {
	bridge := &fakeBridge{}
	a := newTestAgent(t, bridge, time.Hour)

	res, err := a.PushLedgers(context.Background(), []domain.LedgerPayload{{ExternalID: "L1", Name: "Acme"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Results, 1)
	assert.Equal(t, domain.ActionCreated, res.Results[0].Action)
	assert.Equal(t, 1, res.Summary.Created)

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	assert.Equal(t, "desk-01", bridge.lastBatch["clientId"])
	assert.Len(t, bridge.lastBatch["entities"], 1)
}

func TestAgent_ClientErrorsDoNotTripBreaker(t *testing.T) {
	bridge := &fakeBridge{}
	a := newTestAgent(t, bridge, time.Hour)

	for i := 0; i < 5; i++ {
		_, err := a.PushCompanies(context.Background(), nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Equal(t, "validation_error", apiErr.Code)
	}
	assert.Equal(t, "closed", a.breaker.State().String())
}

func TestAgent_ServerErrorsTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := New(Options{ServerURL: srv.URL, ClientID: "desk-02"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_ = a.Heartbeat(context.Background())
	}
	assert.Equal(t, int32(3), calls.Load(), "breaker opens after the minimum failing requests")

	err = a.Heartbeat(context.Background())
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestDecodeAPIError_PlainBody(t *testing.T) {
	apiErr := decodeAPIError(http.StatusBadGateway, []byte("upstream down\n"))
	assert.Equal(t, "Bad Gateway", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
}

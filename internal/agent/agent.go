package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tally.bridge/internal/core/circuitbreaker"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	registerRetryDelay       = 5 * time.Second
	maxResponseBytes         = 10 << 20
)

// APIError is a non-2xx reply from the bridge, decoded from its error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the bridge, e.g. a heartbeat for a session it no longer knows.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Options struct {
	ServerURL         string
	ClientID          string
	CompanyName       string
	Version           string
	HeartbeatInterval time.Duration
	HTTPClient        *http.Client
}

// Agent is the on-premises side of the bridge: it registers, keeps the session alive and pushes exports.
type Agent struct {
	baseURL  string
	clientID string
	company  string
	version  string
	interval time.Duration
	http     *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	apiKey   string
}

func New(opts Options) (*Agent, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Agent{
		baseURL:  strings.TrimRight(opts.ServerURL, "/"),
		clientID: opts.ClientID,
		company:  opts.CompanyName,
		version:  opts.Version,
		interval: opts.HeartbeatInterval,
		http:     opts.HTTPClient,
		breaker:  circuitbreaker.New("bridge-" + opts.ClientID),
	}, nil
}

type registerRequest struct {
	ClientID    string `json:"clientId"`
	CompanyName string `json:"companyName,omitempty"`
	Version     string `json:"version,omitempty"`
}

type registerResponse struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
	Message  string `json:"message"`
}

// Register opens a session on the bridge.
func (a *Agent) Register(ctx context.Context) error {
	var resp registerResponse
	req := registerRequest{ClientID: a.clientID, CompanyName: a.company, Version: a.version}
	if err := a.call(ctx, http.MethodPost, "/api/tally/register", req, &resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.apiKey = resp.APIKey
	logger.Info("Registered with bridge", "client_id", a.clientID, "message", resp.Message)
	return nil
}

// Heartbeat refreshes the session.
func (a *Agent) Heartbeat(ctx context.Context) error {
	body := map[string]string{"clientId": a.clientID}
	if err := a.call(ctx, http.MethodPost, "/api/tally/heartbeat", body, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Run registers, retrying until it succeeds, then heartbeats until ctx is cancelled.
// A heartbeat the bridge rejects with 404 triggers a fresh registration.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.registerWithRetry(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Agent stopping", "client_id", a.clientID)
			return nil
		case <-ticker.C:
			err := a.Heartbeat(ctx)
			switch {
			case err == nil:
			case IsNotFound(err):
				logger.Warn("Bridge lost our session, registering again", "client_id", a.clientID)
				if err := a.registerWithRetry(ctx); err != nil {
					return err
				}
			default:
				logger.Warn("Heartbeat failed", "client_id", a.clientID, "error", err)
			}
		}
	}
}

func (a *Agent) registerWithRetry(ctx context.Context) error {
	for {
		err := a.Register(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("Registration failed, retrying", "error", err, "delay", registerRetryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerRetryDelay):
		}
	}
}

type batchRequest struct {
	ClientID string `json:"clientId"`
	Entities any    `json:"entities"`
}

// BatchResult mirrors the bridge's batch reply.
type BatchResult struct {
	Success bool                          `json:"success"`
	Results []domain.ReconciliationRecord `json:"results"`
	Summary domain.ReconcileSummary       `json:"summary"`
}

func (a *Agent) PushLedgers(ctx context.Context, ledgers []domain.LedgerPayload) (*BatchResult, error) {
	return a.push(ctx, "ledgers", ledgers)
}

func (a *Agent) PushVouchers(ctx context.Context, vouchers []domain.VoucherPayload) (*BatchResult, error) {
	return a.push(ctx, "vouchers", vouchers)
}

func (a *Agent) PushOrders(ctx context.Context, orders []domain.OrderPayload) (*BatchResult, error) {
	return a.push(ctx, "orders", orders)
}

func (a *Agent) PushCompanies(ctx context.Context, companies []domain.CompanyPayload) (*BatchResult, error) {
	return a.push(ctx, "companies", companies)
}

func (a *Agent) push(ctx context.Context, path string, entities any) (*BatchResult, error) {
	var res BatchResult
	req := batchRequest{ClientID: a.clientID, Entities: entities}
	if err := a.call(ctx, http.MethodPost, "/api/tally/sync/"+path, req, &res); err != nil {
		return nil, fmt.Errorf("push %s: %w", path, err)
	}
	return &res, nil
}

// call sends one JSON request through the breaker. Only transport failures and 5xx count against it.
func (a *Agent) call(ctx context.Context, method, path string, in, out any) error {
	var apiErr *APIError
	err := a.breaker.Execute(ctx, func() error {
		status, body, err := a.do(ctx, method, path, in)
		if err != nil {
			return err
		}
		if status >= 300 {
			apiErr = decodeAPIError(status, body)
			if status >= 500 {
				return apiErr
			}
			return nil
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if apiErr != nil {
		return apiErr
	}
	return nil
}

func (a *Agent) do(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

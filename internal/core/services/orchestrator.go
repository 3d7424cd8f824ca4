package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/metrics"
	"tally.bridge/internal/core/ports"
	"tally.bridge/internal/core/tracing"
)

// Orchestrator is the sync control plane. It owns the bridge SyncStatus.
type Orchestrator struct {
	registry *Registry
	engine   *ReconcileEngine
	store    ports.Storage
	config   *ConfigService
	activity *ActivityLog
	events   ports.EventPublisher

	strictWindow time.Duration

	mu     sync.Mutex
	status domain.SyncStatus
	// gen increments on every state transition; a manual sync only settles the state it set.
	gen uint64

	manualInFlight atomic.Bool
	wg             sync.WaitGroup
}

type OrchestratorDeps struct {
	Registry *Registry
	Engine   *ReconcileEngine
	Store    ports.Storage
	Config   *ConfigService
	Activity *ActivityLog
	Events   ports.EventPublisher

	// StrictWindow gates Companies and the connectivity probes; zero means StrictTimeout.
	StrictWindow time.Duration
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	metrics.SetSyncState(string(domain.SyncStateIdle))
	strict := deps.StrictWindow
	if strict <= 0 {
		strict = StrictTimeout
	}
	return &Orchestrator{
		registry:     deps.Registry,
		engine:       deps.Engine,
		store:        deps.Store,
		config:       deps.Config,
		activity:     deps.Activity,
		events:       deps.Events,
		strictWindow: strict,
		status:       domain.SyncStatus{State: domain.SyncStateIdle},
	}
}

// Start moves the bridge into syncing; an agent must be connected.
func (o *Orchestrator) Start(ctx context.Context) (domain.SyncStatus, error) {
	if !o.registry.IsConnected() {
		return domain.SyncStatus{}, &domain.ConnectivityError{Reason: "no Tally agent connected"}
	}
	st := o.transition(ctx, domain.SyncStateSyncing, nil)
	o.registry.SetStatus(domain.SessionStatusSyncing)
	o.activity.Info("", "Sync started")
	return st, nil
}

func (o *Orchestrator) Stop(ctx context.Context) domain.SyncStatus {
	st := o.transition(ctx, domain.SyncStateIdle, nil)
	o.registry.SetStatus(domain.SessionStatusIdle)
	o.activity.Info("", "Sync stopped")
	return st
}

// AutoStart starts syncing after an agent registers when the config asks for it.
func (o *Orchestrator) AutoStart(ctx context.Context) {
	if !o.config.Get().AutoStart {
		return
	}
	o.mu.Lock()
	idle := o.status.State == domain.SyncStateIdle
	o.mu.Unlock()
	if !idle {
		return
	}
	if _, err := o.Start(ctx); err != nil {
		logger.WarnContext(ctx, "Auto start skipped", "error", err)
	}
}

// ManualAck acknowledges an accepted manual sync.
type ManualAck struct {
	Accepted     bool                `json:"accepted"`
	DataTypes    []domain.EntityType `json:"dataTypes"`
	TotalRecords int64               `json:"totalRecords"`
	StartedAt    time.Time           `json:"startedAt"`
}

// Manual triggers a one-off sync of dataTypes. Only one manual sync runs at a time; a
// trigger while another is in flight fails with a ConflictError.
func (o *Orchestrator) Manual(ctx context.Context, dataTypes []string) (ManualAck, error) {
	types, err := o.resolveTypes(dataTypes)
	if err != nil {
		return ManualAck{}, err
	}

	if !o.manualInFlight.CompareAndSwap(false, true) {
		return ManualAck{}, &domain.ConflictError{Reason: "manual sync already in progress"}
	}

	total, _, err := o.countRows(ctx, types)
	if err != nil {
		o.manualInFlight.Store(false)
		return ManualAck{}, err
	}

	started := o.registry.Now()
	_, gen := o.transitionGen(ctx, domain.SyncStateSyncing, func(s *domain.SyncStatus) {
		s.TotalRecords = total
	})
	o.registry.SetStatus(domain.SessionStatusSyncing)
	o.activity.Info("", fmt.Sprintf("Manual sync requested for %s", joinTypes(types)))
	publish(ctx, o.events, domain.Event{
		Type:      domain.EventManualRequested,
		Payload:   map[string]interface{}{"dataTypes": types},
		Timestamp: started,
	})

	o.wg.Add(1)
	go o.completeManual(context.WithoutCancel(ctx), gen, types)

	return ManualAck{Accepted: true, DataTypes: types, TotalRecords: total, StartedAt: started}, nil
}

func (o *Orchestrator) completeManual(ctx context.Context, gen uint64, types []domain.EntityType) {
	defer o.wg.Done()
	defer o.manualInFlight.Store(false)

	total, synced, err := o.countRows(ctx, types)
	if err != nil {
		o.settleManual(ctx, gen, domain.SyncStateError, func(s *domain.SyncStatus) { s.Errors++ })
		o.activity.Error("", fmt.Sprintf("Manual sync failed: %v", err))
		return
	}

	now := o.registry.Now()
	owned := o.settleManual(ctx, gen, domain.SyncStateSuccess, func(s *domain.SyncStatus) {
		s.TotalRecords = total
		s.SyncedRecords = synced
		s.LastSync = &now
	})
	if owned {
		o.registry.SetStatus(domain.SessionStatusConnected)
	}
	o.activity.Info("", fmt.Sprintf("Manual sync completed: %d of %d records synced", synced, total))
}

// settleManual records a manual sync outcome. The state only moves when no other
// transition happened since the manual sync started at gen; mutate always applies.
func (o *Orchestrator) settleManual(ctx context.Context, gen uint64, state domain.SyncState, mutate func(*domain.SyncStatus)) bool {
	connected := o.registry.IsConnected()

	o.mu.Lock()
	mutate(&o.status)
	o.status.IsConnected = connected
	owned := o.gen == gen
	prev := o.status.State
	if owned {
		o.status.State = state
		o.gen++
	}
	o.mu.Unlock()

	if !owned {
		logger.InfoContext(ctx, "Manual sync finished after a state change; keeping current state", "state", prev)
		return false
	}
	o.stateChanged(ctx, prev, state)
	return true
}

// Wait blocks until in-flight manual syncs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status combines live registry connectivity, the sync status and storage coverage.
func (o *Orchestrator) Status(ctx context.Context) (domain.SyncStatusView, error) {
	connected := o.registry.IsConnected()
	clients := o.registry.ConnectedCount()

	total, synced, err := o.countRows(ctx, domain.CoverageEntityTypes)
	if err != nil {
		return domain.SyncStatusView{}, err
	}
	coverage := 0.0
	if total > 0 {
		coverage = float64(synced) / float64(total)
	}

	o.mu.Lock()
	o.status.IsConnected = connected
	st := o.status
	o.mu.Unlock()

	return domain.SyncStatusView{
		SyncStatus:       st,
		ConnectedClients: clients,
		Coverage:         coverage,
		Message:          statusMessage(st.State, clients),
	}, nil
}

// IngestResult is the response to a pushed batch.
type IngestResult struct {
	Results []domain.ReconciliationRecord `json:"results"`
	Summary domain.ReconcileSummary       `json:"summary"`
}

// Ingest reconciles a batch pushed by an agent and folds the outcome into the sync status.
// A non-empty clientID counts as a heartbeat from that agent.
func (o *Orchestrator) Ingest(ctx context.Context, clientID string, entity domain.EntityType, batch []json.RawMessage) (IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.ingest")
	defer span.End()

	if clientID != "" {
		if _, err := o.registry.Heartbeat(ctx, clientID); err != nil {
			return IngestResult{}, err
		}
	}

	results, err := o.engine.Reconcile(ctx, entity, batch)
	if err != nil {
		return IngestResult{}, err
	}
	summary := domain.Summarize(results)

	total, synced, err := o.countRows(ctx, domain.CoverageEntityTypes)
	if err != nil {
		return IngestResult{}, err
	}
	now := o.registry.Now()
	o.mu.Lock()
	o.status.TotalRecords = total
	o.status.SyncedRecords = synced
	o.status.Errors += int64(summary.Errors)
	o.status.LastSync = &now
	o.mu.Unlock()

	level := domain.LogLevelInfo
	if summary.Errors > 0 {
		level = domain.LogLevelWarn
	}
	o.activity.Add(level, clientID, fmt.Sprintf("Reconciled %d %s records: %d created, %d updated, %d errors",
		summary.Total, entity, summary.Created, summary.Updated, summary.Errors))
	publish(ctx, o.events, domain.Event{
		Type:      domain.EventBatchReconciled,
		ClientID:  clientID,
		Payload:   map[string]interface{}{"entityType": entity, "summary": summary},
		Timestamp: now,
	})

	return IngestResult{Results: results, Summary: summary}, nil
}

// CompanyView is a synced Tally company as served by /companies.
type CompanyView struct {
	Name      string `json:"name"`
	GUID      string `json:"guid"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Companies returns the synced companies. It requires a real heartbeat inside the strict
// window and never returns an empty success: no synced rows is a NotFoundError.
func (o *Orchestrator) Companies(ctx context.Context) ([]CompanyView, error) {
	if !o.registry.IsRealLive(o.strictWindow) {
		return nil, &domain.ConnectivityError{Reason: "no Tally agent connected"}
	}

	rows, err := o.store.ListSyncedCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.NotFoundError{Resource: "synced companies"}
	}

	out := make([]CompanyView, 0, len(rows))
	for _, c := range rows {
		v := CompanyView{Name: c.Name}
		if c.ExternalID != nil {
			v.GUID = *c.ExternalID
		}
		if c.StartDate != nil {
			v.StartDate = c.StartDate.Format("2006-01-02")
		}
		if c.EndDate != nil {
			v.EndDate = c.EndDate.Format("2006-01-02")
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ConnectionReport answers connectivity probes.
type ConnectionReport struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	ConnectedClients int    `json:"connectedClients"`
	Company          string `json:"company,omitempty"`
}

func (o *Orchestrator) TestConnection(ctx context.Context) (ConnectionReport, error) {
	live := o.registry.CountRealLive(o.strictWindow)
	if live == 0 {
		return ConnectionReport{}, &domain.ConnectivityError{Reason: "no Tally agent connected"}
	}
	return ConnectionReport{
		Success:          true,
		Message:          fmt.Sprintf("%d Tally agent(s) connected", live),
		ConnectedClients: live,
	}, nil
}

func (o *Orchestrator) TestCompany(ctx context.Context, company string) (ConnectionReport, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return ConnectionReport{}, domain.NewValidationError("company", "is required")
	}
	companies, err := o.Companies(ctx)
	if err != nil {
		return ConnectionReport{}, err
	}
	for _, c := range companies {
		if strings.EqualFold(c.Name, company) {
			return ConnectionReport{
				Success:          true,
				Message:          fmt.Sprintf("Company %q is available", c.Name),
				ConnectedClients: o.registry.CountRealLive(o.strictWindow),
				Company:          c.Name,
			}, nil
		}
	}
	return ConnectionReport{}, &domain.NotFoundError{Resource: "company", ID: company}
}

// transition sets the sync state, applies mutate under the lock and returns the new status.
func (o *Orchestrator) transition(ctx context.Context, state domain.SyncState, mutate func(*domain.SyncStatus)) domain.SyncStatus {
	st, _ := o.transitionGen(ctx, state, mutate)
	return st
}

// transitionGen is transition that also returns the generation it produced.
func (o *Orchestrator) transitionGen(ctx context.Context, state domain.SyncState, mutate func(*domain.SyncStatus)) (domain.SyncStatus, uint64) {
	connected := o.registry.IsConnected()

	o.mu.Lock()
	prev := o.status.State
	o.status.State = state
	o.status.IsConnected = connected
	if mutate != nil {
		mutate(&o.status)
	}
	o.gen++
	gen := o.gen
	st := o.status
	o.mu.Unlock()

	o.stateChanged(ctx, prev, state)
	return st, gen
}

func (o *Orchestrator) stateChanged(ctx context.Context, prev, state domain.SyncState) {
	metrics.SetSyncState(string(state))
	if prev != state {
		publish(ctx, o.events, domain.Event{
			Type:      domain.EventSyncStateChanged,
			Payload:   map[string]domain.SyncState{"from": prev, "to": state},
			Timestamp: o.registry.Now(),
		})
	}
}

func (o *Orchestrator) resolveTypes(names []string) ([]domain.EntityType, error) {
	if len(names) == 0 {
		return o.config.EnabledEntityTypes(), nil
	}
	for _, n := range names {
		if _, err := domain.ParseEntityType(n); err != nil {
			return nil, err
		}
	}
	return uniqueEntityTypes(names), nil
}

func (o *Orchestrator) countRows(ctx context.Context, types []domain.EntityType) (total, synced int64, err error) {
	for _, t := range types {
		c, err := o.store.CountRows(ctx, t)
		if err != nil {
			return 0, 0, fmt.Errorf("counting %s rows: %w", t, err)
		}
		total += c.Total
		synced += c.Synced
	}
	return total, synced, nil
}

func statusMessage(state domain.SyncState, clients int) string {
	if clients == 0 {
		return "No Tally agent connected"
	}
	switch state {
	case domain.SyncStateSyncing:
		return fmt.Sprintf("Sync in progress with %d agent(s)", clients)
	case domain.SyncStateError:
		return "Last sync failed"
	}
	return fmt.Sprintf("%d Tally agent(s) connected", clients)
}

func joinTypes(types []domain.EntityType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

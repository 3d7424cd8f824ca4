package domain

import "time"

type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSuccess SyncState = "success"
	SyncStateError   SyncState = "error"
)

// SyncStatus is the bridge-wide sync state owned by the orchestrator.
type SyncStatus struct {
	IsConnected   bool       `json:"isConnected"`
	LastSync      *time.Time `json:"lastSync"`
	TotalRecords  int64      `json:"totalRecords"`
	SyncedRecords int64      `json:"syncedRecords"`
	Errors        int64      `json:"errors"`
	State         SyncState  `json:"status"`
}

// SyncStatusView is SyncStatus enriched with live registry data.
type SyncStatusView struct {
	SyncStatus
	ConnectedClients int     `json:"connectedClients"`
	Coverage         float64 `json:"coverage"`
	Message          string  `json:"message"`
}

type EventType string

const (
	EventAgentRegistered  EventType = "agent_registered"
	EventAgentStale       EventType = "agent_stale"
	EventSyncStateChanged EventType = "sync_state_changed"
	EventBatchReconciled  EventType = "batch_reconciled"
	EventManualRequested  EventType = "manual_sync_requested"
)

// Event is published on the bridge event bus and fanned out to websocket and MQTT subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	ClientID  string      `json:"clientId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

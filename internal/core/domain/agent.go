package domain

import "time"

type SessionStatus string

const (
	SessionStatusConnected SessionStatus = "connected"
	SessionStatusSyncing   SessionStatus = "syncing"
	SessionStatusIdle      SessionStatus = "idle"
)

// AgentSession is the registry's record of one desktop agent.
type AgentSession struct {
	ClientID      string        `json:"clientId"`
	CompanyName   string        `json:"companyName"`
	Version       string        `json:"version"`
	IPAddress     string        `json:"ipAddress"`
	LastHeartbeat time.Time     `json:"lastHeartbeat"`
	Status        SessionStatus `json:"status"`
	RegisteredAt  time.Time     `json:"registeredAt"`

	// LastRealHeartbeat excludes heartbeats synthesized by the keeper.
	LastRealHeartbeat time.Time `json:"lastRealHeartbeat"`
	Extensions        int       `json:"extensions"`
}

// AgentMetadata is what an agent reports about itself on registration.
type AgentMetadata struct {
	CompanyName string
	Version     string
	IPAddress   string
}

// SessionHandle is returned to an agent after registration.
type SessionHandle struct {
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

type EntityType string

const (
	EntityClient  EntityType = "client"
	EntityPayment EntityType = "payment"
	EntityOrder   EntityType = "order"
	EntityCompany EntityType = "company"
)

// CoverageEntityTypes are the business entities counted by the coverage metric.
var CoverageEntityTypes = []EntityType{EntityClient, EntityPayment, EntityOrder}

// ParseEntityType accepts entity names as well as the Tally vocabulary
// ("ledgers", "vouchers", ...) used by agents and the config UI.
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client", "clients", "ledger", "ledgers":
		return EntityClient, nil
	case "payment", "payments", "voucher", "vouchers":
		return EntityPayment, nil
	case "order", "orders":
		return EntityOrder, nil
	case "company", "companies":
		return EntityCompany, nil
	}
	return "", NewValidationError("dataTypes", fmt.Sprintf("unknown data type %q", s))
}

type ReconcileAction string

const (
	ActionCreated ReconcileAction = "created"
	ActionUpdated ReconcileAction = "updated"
	ActionError   ReconcileAction = "error"
)

// ReconciliationRecord is the outcome for one item of a batch.
type ReconciliationRecord struct {
	ExternalID   string          `json:"externalId"`
	EntityType   EntityType      `json:"entityType"`
	LocalID      string          `json:"localId,omitempty"`
	Action       ReconcileAction `json:"action"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type ReconcileSummary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

func Summarize(records []ReconciliationRecord) ReconcileSummary {
	s := ReconcileSummary{Total: len(records)}
	for _, r := range records {
		switch r.Action {
		case ActionCreated:
			s.Created++
		case ActionUpdated:
			s.Updated++
		case ActionError:
			s.Errors++
		}
	}
	return s
}

// RejectedRecord is a failed batch item kept for inspection.
type RejectedRecord struct {
	EntityType EntityType `json:"entityType"`
	ExternalID string     `json:"externalId"`
	Reason     string     `json:"reason"`
	Payload    string     `json:"payload"`
	RejectedAt time.Time  `json:"rejectedAt"`
}

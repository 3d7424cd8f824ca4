package domain

import "time"

// Rows owned by the storage collaborator. ExternalID is nil for rows created locally
// and never touched by a sync; it is the reconciliation key otherwise.

type Client struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	GSTIN          string     `json:"gstin"`
	Address        string     `json:"address"`
	ParentGroup    string     `json:"parentGroup"`
	OpeningBalance float64    `json:"openingBalance"`
	ExternalID     *string    `json:"externalId" gorm:"uniqueIndex"`
	LastSynced     *time.Time `json:"lastSynced"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (Client) TableName() string {
	return "clients"
}

type Payment struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	VoucherNumber   string     `json:"voucherNumber"`
	PaidAt          time.Time  `json:"paidAt"`
	Amount          float64    `json:"amount"`
	PartyExternalID string     `json:"partyExternalId"`
	Mode            string     `json:"mode"`
	Reference       string     `json:"reference"`
	ExternalID      *string    `json:"externalId" gorm:"uniqueIndex"`
	LastSynced      *time.Time `json:"lastSynced"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (Payment) TableName() string {
	return "payments"
}

type Order struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	OrderNumber     string     `json:"orderNumber"`
	OrderedAt       time.Time  `json:"orderedAt"`
	PartyExternalID string     `json:"partyExternalId"`
	Total           float64    `json:"total"`
	Status          string     `json:"status"`
	ExternalID      *string    `json:"externalId" gorm:"uniqueIndex"`
	LastSynced      *time.Time `json:"lastSynced"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (Order) TableName() string {
	return "orders"
}

// Company is a Tally company as reported by an agent.
type Company struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	Name       string     `json:"name"`
	StartDate  *time.Time `json:"startDate"`
	EndDate    *time.Time `json:"endDate"`
	ExternalID *string    `json:"externalId" gorm:"uniqueIndex"`
	LastSynced *time.Time `json:"lastSynced"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (Company) TableName() string {
	return "companies"
}

// RowCount is the coverage input for one entity type.
type RowCount struct {
	Total  int64 `json:"total"`
	Synced int64 `json:"synced"`
}

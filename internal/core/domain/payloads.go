package domain

import (
	"fmt"
	"strings"
	"time"
)

// Payload is a decoded batch item for one entity type.
type Payload interface {
	Key() string
}

// LedgerPayload is a Tally ledger, reconciled into a Client.
type LedgerPayload struct {
	ExternalID     string  `json:"externalId" validate:"required,max=128"`
	Name           string  `json:"name" validate:"required,max=255"`
	Email          string  `json:"email" validate:"omitempty,email"`
	Phone          string  `json:"phone" validate:"omitempty,max=32"`
	GSTIN          string  `json:"gstin" validate:"omitempty,len=15,alphanum"`
	Address        string  `json:"address"`
	ParentGroup    string  `json:"parentGroup"`
	OpeningBalance float64 `json:"openingBalance"`
}

func (p *LedgerPayload) Key() string { return p.ExternalID }

func (p *LedgerPayload) ApplyTo(c *Client) {
	c.Name = strings.TrimSpace(p.Name)
	c.Email = p.Email
	c.Phone = p.Phone
	c.GSTIN = strings.ToUpper(p.GSTIN)
	c.Address = p.Address
	c.ParentGroup = p.ParentGroup
	c.OpeningBalance = p.OpeningBalance
}

// VoucherPayload is a Tally receipt/payment voucher, reconciled into a Payment.
type VoucherPayload struct {
	ExternalID      string  `json:"externalId" validate:"required,max=128"`
	VoucherNumber   string  `json:"voucherNumber" validate:"required"`
	Date            string  `json:"date" validate:"required,tallydate"`
	Amount          float64 `json:"amount" validate:"gt=0"`
	PartyExternalID string  `json:"partyExternalId"`
	Mode            string  `json:"mode"`
	Reference       string  `json:"reference"`
}

func (p *VoucherPayload) Key() string { return p.ExternalID }

func (p *VoucherPayload) ApplyTo(pay *Payment) error {
	paidAt, err := ParseTallyDate(p.Date)
	if err != nil {
		return err
	}
	pay.VoucherNumber = p.VoucherNumber
	pay.PaidAt = paidAt
	pay.Amount = p.Amount
	pay.PartyExternalID = p.PartyExternalID
	pay.Mode = p.Mode
	pay.Reference = p.Reference
	return nil
}

type OrderPayload struct {
	ExternalID      string  `json:"externalId" validate:"required,max=128"`
	OrderNumber     string  `json:"orderNumber" validate:"required"`
	Date            string  `json:"date" validate:"required,tallydate"`
	PartyExternalID string  `json:"partyExternalId"`
	Total           float64 `json:"total" validate:"gte=0"`
	Status          string  `json:"status" validate:"omitempty,oneof=pending confirmed shipped delivered cancelled"`
}

func (p *OrderPayload) Key() string { return p.ExternalID }

func (p *OrderPayload) ApplyTo(o *Order) error {
	orderedAt, err := ParseTallyDate(p.Date)
	if err != nil {
		return err
	}
	o.OrderNumber = p.OrderNumber
	o.OrderedAt = orderedAt
	o.PartyExternalID = p.PartyExternalID
	o.Total = p.Total
	o.Status = p.Status
	if o.Status == "" {
		o.Status = "pending"
	}
	return nil
}

// CompanyPayload accepts the Tally GUID under either "guid" or "externalId".
type CompanyPayload struct {
	GUID       string `json:"guid" validate:"required_without=ExternalID,max=128"`
	ExternalID string `json:"externalId" validate:"required_without=GUID,max=128"`
	Name       string `json:"name" validate:"required,max=255"`
	StartDate  string `json:"startDate" validate:"omitempty,tallydate"`
	EndDate    string `json:"endDate" validate:"omitempty,tallydate"`
}

func (p *CompanyPayload) Key() string {
	if p.GUID != "" {
		return p.GUID
	}
	return p.ExternalID
}

func (p *CompanyPayload) ApplyTo(c *Company) error {
	c.Name = strings.TrimSpace(p.Name)
	c.StartDate, c.EndDate = nil, nil
	if p.StartDate != "" {
		t, err := ParseTallyDate(p.StartDate)
		if err != nil {
			return err
		}
		c.StartDate = &t
	}
	if p.EndDate != "" {
		t, err := ParseTallyDate(p.EndDate)
		if err != nil {
			return err
		}
		c.EndDate = &t
	}
	return nil
}

var tallyDateLayouts = []string{time.RFC3339, "2006-01-02", "20060102", "2-Jan-2006"}

// ParseTallyDate accepts RFC3339, ISO dates and Tally's native YYYYMMDD form.
func ParseTallyDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range tallyDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

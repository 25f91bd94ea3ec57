package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeRFQCreated       Type = "rfq_created"
	TypeRFQStatusChanged Type = "rfq_status_changed"
	TypeQuoteSubmitted   Type = "quote_submitted"
	TypeQuoteRejected    Type = "quote_rejected"
	TypeQuoteUpdated     Type = "quote_updated"
)

type RFQCreated struct {
	RFQID        string          `json:"rfq_id"`
	CustomerID   string          `json:"customer_id"`
	RFQType      string          `json:"rfq_type"`
	Network      string          `json:"network"`
	Amount       decimal.Decimal `json:"amount"`
	ExpiresAt    time.Time       `json:"expires_at"`
	SplitAllowed bool            `json:"split_allowed"`
}

func (RFQCreated) EventType() Type { return TypeRFQCreated }

type RFQStatusChanged struct {
	RFQID  string `json:"rfq_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (RFQStatusChanged) EventType() Type { return TypeRFQStatusChanged }

// QuoteRecorded snapshots a quote. Kind selects submitted, rejected or
// updated.
type QuoteRecorded struct {
	Kind          Type             `json:"-"`
	QuoteID       string           `json:"quote_id"`
	RFQID         string           `json:"rfq_id"`
	ProviderID    int64            `json:"provider_id"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	Capacity      decimal.Decimal  `json:"capacity"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	Accepted      *bool            `json:"accepted"`
	AwardedAmount *decimal.Decimal `json:"awarded_amount"`
	Reason        string           `json:"reason,omitempty"`
}

func (q QuoteRecorded) EventType() Type {
	if q.Kind == "" {
		return TypeQuoteSubmitted
	}
	return q.Kind
}

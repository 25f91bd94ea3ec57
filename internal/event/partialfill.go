package event

import "github.com/shopspring/decimal"

const (
	TypePartialFillStarted     Type = "partial_fill_started"
	TypePartialFillReallocated Type = "partial_fill_reallocated"
	TypePartialFillCancelled   Type = "partial_fill_cancelled"
)

type PartialLegRef struct {
	LegID      string          `json:"leg_id"`
	QuoteID    string          `json:"quote_id"`
	ProviderID int64           `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type PartialFillStarted struct {
	RFQID        string          `json:"rfq_id"`
	AwardID      string          `json:"award_id"`
	TotalAwarded decimal.Decimal `json:"total_awarded"`
	Legs         []PartialLegRef `json:"legs"`
}

func (PartialFillStarted) EventType() Type { return TypePartialFillStarted }

type PartialFillReallocated struct {
	RFQID           string          `json:"rfq_id"`
	AwardID         string          `json:"award_id"`
	FromQuoteID     string          `json:"from_quote_id"`
	FromLegStatus   string          `json:"from_leg_status"`
	ToProviderID    int64           `json:"to_provider_id"`
	NewLegID        string          `json:"new_leg_id"`
	Amount          decimal.Decimal `json:"amount"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
}

func (PartialFillReallocated) EventType() Type { return TypePartialFillReallocated }

type PartialFillCancelled struct {
	RFQID           string          `json:"rfq_id"`
	AwardID         string          `json:"award_id"`
	QuoteID         string          `json:"quote_id"`
	LegID           string          `json:"leg_id"`
	Reason          string          `json:"reason"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
}

func (PartialFillCancelled) EventType() Type { return TypePartialFillCancelled }

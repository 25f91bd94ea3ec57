package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const TypeAwardCreated Type = "award_created"

// AwardLeg is one winning quote as recorded in the award log.
type AwardLeg struct {
	QuoteID       string          `json:"quote_id"`
	ProviderID    int64           `json:"provider_id"`
	AwardedAmount decimal.Decimal `json:"awarded_amount"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// AwardCreated records an auto-award decision.
type AwardCreated struct {
	AwardID         string          `json:"award_id"`
	RFQID           string          `json:"rfq_id"`
	SelectionMode   string          `json:"selection_mode"`
	TieBreakRule    string          `json:"tie_break_rule"`
	DecisionReason  string          `json:"decision_reason"`
	Reviewer        string          `json:"reviewer"`
	Approver        string          `json:"approver"`
	TotalAwarded    decimal.Decimal `json:"total_awarded"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Legs            []AwardLeg      `json:"legs"`
}

func (AwardCreated) EventType() Type { return TypeAwardCreated }

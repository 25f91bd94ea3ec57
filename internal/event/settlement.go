package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeSettlementStarted   Type = "settlement_started"
	TypeEvidenceSubmitted   Type = "evidence_submitted"
	TypeEvidenceRejected    Type = "evidence_rejected"
	TypeLegVerified         Type = "leg_verified"
	TypeSettlementEscalated Type = "settlement_escalated"
)

type SettlementLegRef struct {
	LegID      string          `json:"leg_id"`
	ProviderID int64           `json:"provider_id"`
	LegType    string          `json:"leg_type"`
	Amount     decimal.Decimal `json:"amount"`
	Deadline   time.Time       `json:"deadline"`
}

type SettlementStarted struct {
	SettlementID string             `json:"settlement_id"`
	RFQID        string             `json:"rfq_id"`
	AwardID      string             `json:"award_id"`
	Status       string             `json:"status"`
	Legs         []SettlementLegRef `json:"legs"`
}

func (SettlementStarted) EventType() Type { return TypeSettlementStarted }

// EvidenceSubmitted carries evidence metadata only, never file content.
type EvidenceSubmitted struct {
	SettlementID string           `json:"settlement_id"`
	LegID        string           `json:"leg_id"`
	EvidenceHash string           `json:"evidence_hash"`
	TxID         string           `json:"tx_id"`
	Network      string           `json:"network"`
	FileSizeMB   *decimal.Decimal `json:"file_size_mb,omitempty"`
	Attempts     int              `json:"attempts"`
	Status       string           `json:"status"`
}

func (EvidenceSubmitted) EventType() Type { return TypeEvidenceSubmitted }

type EvidenceRejected struct {
	SettlementID string `json:"settlement_id"`
	LegID        string `json:"leg_id"`
	Attempts     int    `json:"attempts"`
	LegStatus    string `json:"leg_status"`
	Reason       string `json:"reason"`
	Detail       string `json:"detail"`
}

func (EvidenceRejected) EventType() Type { return TypeEvidenceRejected }

type LegVerified struct {
	SettlementID string `json:"settlement_id"`
	LegID        string `json:"leg_id"`
	Verified     bool   `json:"verified"`
	LegStatus    string `json:"leg_status"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
}

func (LegVerified) EventType() Type { return TypeLegVerified }

// SettlementEscalated is the bridge event written to both the settlement
// and dispute logs. It is not a dispute record.
type SettlementEscalated struct {
	SettlementID string          `json:"settlement_id"`
	RFQID        string          `json:"rfq_id"`
	AwardID      string          `json:"award_id"`
	LegID        string          `json:"leg_id"`
	ProviderID   int64           `json:"provider_id"`
	LegType      string          `json:"leg_type"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	Note         string          `json:"note,omitempty"`
	Attempts     int             `json:"attempts"`
}

func (SettlementEscalated) EventType() Type { return TypeSettlementEscalated }

package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeDisputeFiled             Type = "dispute_filed"
	TypeDisputeEvidenceSubmitted Type = "dispute_evidence_submitted"
	TypeDecisionMade             Type = "decision_made"
	TypeDisputeEscalated         Type = "dispute_escalated"
	TypeDisputeAction            Type = "dispute_action"
)

type DisputeFiled struct {
	DisputeID        string    `json:"dispute_id"`
	SettlementID     string    `json:"settlement_id"`
	ClaimantID       int64     `json:"claimant_id"`
	RespondentID     int64     `json:"respondent_id"`
	Reason           string    `json:"reason"`
	OpenedAt         time.Time `json:"opened_at"`
	EvidenceDeadline time.Time `json:"evidence_deadline"`
	ReviewDeadline   time.Time `json:"review_deadline"`
	DecisionDeadline time.Time `json:"decision_deadline"`
}

func (DisputeFiled) EventType() Type { return TypeDisputeFiled }

// DisputeEvidenceSubmitted records the hash of a party's proof, never the file.
type DisputeEvidenceSubmitted struct {
	DisputeID    string `json:"dispute_id"`
	EvidenceID   string `json:"evidence_id"`
	SubmitterID  int64  `json:"submitter_id"`
	EvidenceType string `json:"evidence_type"`
	EvidenceHash string `json:"evidence_hash"`
}

func (DisputeEvidenceSubmitted) EventType() Type { return TypeDisputeEvidenceSubmitted }

type DecisionMade struct {
	DisputeID           string           `json:"dispute_id"`
	AdminID             int64            `json:"admin_id"`
	Decision            string           `json:"decision"`
	DecisionReason      string           `json:"decision_reason"`
	AwardedToClaimant   *decimal.Decimal `json:"awarded_to_claimant"`
	AwardedToRespondent *decimal.Decimal `json:"awarded_to_respondent"`
	EvidenceReviewed    []string         `json:"evidence_reviewed"`
	DecisionAt          time.Time        `json:"decision_at"`
}

func (DecisionMade) EventType() Type { return TypeDecisionMade }

type DisputeEscalated struct {
	DisputeID      string `json:"dispute_id"`
	AdminID        int64  `json:"admin_id"`
	PreviousStatus string `json:"previous_status"`
	Reason         string `json:"reason"`
}

func (DisputeEscalated) EventType() Type { return TypeDisputeEscalated }

// DisputeAction goes to the dispute_action log. AdminID 0 is the system.
type DisputeAction struct {
	ActionID      string `json:"action_id"`
	DisputeID     string `json:"dispute_id"`
	AdminID       int64  `json:"admin_id"`
	ActionType    string `json:"action_type"`
	Notes         string `json:"notes,omitempty"`
	EvidenceCount *int   `json:"evidence_count,omitempty"`
	Decision      string `json:"decision,omitempty"`
}

func (DisputeAction) EventType() Type { return TypeDisputeAction }

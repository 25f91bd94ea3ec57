package dispute

import (
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
)

type Status string

const (
	StatusOpen             Status = "open"
	StatusAwaitingEvidence Status = "awaiting_evidence"
	StatusUnderReview      Status = "under_review"
	StatusResolved         Status = "resolved"
	StatusEscalated        Status = "escalated"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusAwaitingEvidence, StatusUnderReview, StatusResolved, StatusEscalated:
		return st, nil
	}
	return "", core.Errorf(core.ErrInvalidRequest, "unknown dispute status %q", s)
}

type Decision string

const (
	FavorClaimant   Decision = "favor_claimant"
	FavorRespondent Decision = "favor_respondent"
	PartialFavor    Decision = "partial_favor"
	Inconclusive    Decision = "inconclusive"
)

type EvidenceType string

const (
	BankReceipt EvidenceType = "bank_receipt"
	TxProof     EvidenceType = "tx_proof"
	Screenshot  EvidenceType = "screenshot"
	OtherProof  EvidenceType = "other"
)

type ActionType string

const (
	ActionRequestEvidence ActionType = "request_evidence"
	ActionReviewStart     ActionType = "review_start"
	ActionDecision        ActionType = "decision"
	ActionEscalate        ActionType = "escalate"
)

// SystemActor is the admin id recorded for automated actions.
const SystemActor int64 = 0

// Windows are measured from the filing time.
type Windows struct {
	Evidence time.Duration
	Review   time.Duration
	Decision time.Duration
}

func DefaultWindows() Windows {
	return Windows{Evidence: 30 * time.Minute, Review: 90 * time.Minute, Decision: 4 * time.Hour}
}

// Evidence is the hash and metadata of a party's proof. The file stays with
// the party.
type Evidence struct {
	EvidenceID   string            `json:"evidence_id"`
	DisputeID    string            `json:"dispute_id"`
	SubmitterID  int64             `json:"submitter_id"`
	EvidenceType EvidenceType      `json:"evidence_type"`
	StorageURL   string            `json:"storage_url"`
	Hash         string            `json:"hash"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
}

type Action struct {
	ActionID   string     `json:"action_id"`
	DisputeID  string     `json:"dispute_id"`
	AdminID    int64      `json:"admin_id"`
	ActionType ActionType `json:"action_type"`
	Notes      string     `json:"notes,omitempty"`
	ActionAt   time.Time  `json:"action_at"`
}

type Dispute struct {
	DisputeID        string     `json:"dispute_id"`
	SettlementID     string     `json:"settlement_id"`
	ClaimantID       int64      `json:"claimant_id"`
	RespondentID     int64      `json:"respondent_id"`
	Reason           string     `json:"reason"`
	Status           Status     `json:"status"`
	Decision         Decision   `json:"decision,omitempty"`
	DecisionReason   string     `json:"decision_reason,omitempty"`
	OpenedAt         time.Time  `json:"opened_at"`
	EvidenceDeadline time.Time  `json:"evidence_deadline"`
	ReviewDeadline   time.Time  `json:"review_deadline"`
	DecisionDeadline time.Time  `json:"decision_deadline"`
	DecisionAt       *time.Time `json:"decision_at,omitempty"`
	EvidenceCount    int        `json:"evidence_count"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Evidence         []Evidence `json:"-"`
	Actions          []Action   `json:"actions"`
}

func (d Dispute) clone() Dispute {
	d.Evidence = append([]Evidence(nil), d.Evidence...)
	d.Actions = append([]Action(nil), d.Actions...)
	d.EvidenceCount = len(d.Evidence)
	return d
}

type FileRequest struct {
	SettlementID           string `json:"settlement_id"`
	ClaimantID             int64  `json:"claimant_id"`
	RespondentID           int64  `json:"respondent_id"`
	Reason                 string `json:"reason"`
	InitialEvidenceSummary string `json:"initial_evidence_summary,omitempty"`
}

func (r FileRequest) validate() error {
	if r.SettlementID == "" {
		return core.Errorf(core.ErrInvalidRequest, "settlement_id is required")
	}
	return lengthBetween("reason", r.Reason, 10, 2000)
}

type EvidenceSubmission struct {
	DisputeID    string            `json:"dispute_id"`
	SubmitterID  int64             `json:"submitter_id"`
	EvidenceType EvidenceType      `json:"evidence_type"`
	StorageURL   string            `json:"storage_url"`
	Hash         string            `json:"hash"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Notes        string            `json:"notes,omitempty"`
}

func (s EvidenceSubmission) validate() error {
	switch s.EvidenceType {
	case BankReceipt, TxProof, Screenshot, OtherProof:
	default:
		return core.Errorf(core.ErrInvalidRequest, "unknown evidence_type %q", s.EvidenceType)
	}
	if s.StorageURL == "" {
		return core.Errorf(core.ErrInvalidRequest, "storage_url is required")
	}
	if len(s.Hash) < 16 {
		return core.Errorf(core.ErrInvalidRequest, "hash must be at least 16 characters")
	}
	return lengthBetween("notes", s.Notes, 0, 1000)
}

type DecisionRequest struct {
	DisputeID           string           `json:"dispute_id"`
	AdminID             int64            `json:"admin_id"`
	Decision            Decision         `json:"decision"`
	DecisionReason      string           `json:"decision_reason"`
	AwardedToClaimant   *decimal.Decimal `json:"awarded_to_claimant,omitempty"`
	AwardedToRespondent *decimal.Decimal `json:"awarded_to_respondent,omitempty"`
	EvidenceReviewed    []string         `json:"evidence_reviewed,omitempty"`
	Notes               string           `json:"notes,omitempty"`
}

func (r DecisionRequest) validate() error {
	switch r.Decision {
	case FavorClaimant, FavorRespondent, PartialFavor, Inconclusive:
	default:
		return core.Errorf(core.ErrInvalidRequest, "unknown decision %q", r.Decision)
	}
	for _, amt := range []*decimal.Decimal{r.AwardedToClaimant, r.AwardedToRespondent} {
		if amt != nil && amt.IsNegative() {
			return core.Errorf(core.ErrInvalidRequest, "awarded amounts must not be negative")
		}
	}
	if err := lengthBetween("decision_reason", r.DecisionReason, 20, 3000); err != nil {
		return err
	}
	return lengthBetween("notes", r.Notes, 0, 1000)
}

func lengthBetween(field, s string, min, max int) error {
	n := utf8.RuneCountInString(s)
	if n < min || n > max {
		return core.Errorf(core.ErrInvalidRequest, "%s must be %d-%d characters, got %d", field, min, max, n)
	}
	return nil
}

package settlement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	fpmath "github.com/hosneyuusef-create/usdt-trading-assistant/internal/math"
)

type LegType string

const (
	LegFiat LegType = "fiat"
	LegUSDT LegType = "usdt"
)

type LegStatus string

const (
	LegPending   LegStatus = "pending"
	LegSubmitted LegStatus = "submitted"
	LegVerified  LegStatus = "verified"
	LegEscalated LegStatus = "escalated"
)

// Closed legs accept no further evidence.
func (s LegStatus) Closed() bool {
	return s == LegVerified || s == LegEscalated
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSettled    Status = "settled"
	StatusDisputed   Status = "disputed"
)

// LegReason says why a leg left the happy path. Free text from the verifier
// goes to Leg.Note.
type LegReason string

const (
	ReasonNone            LegReason = ""
	ReasonInvalidEvidence LegReason = "invalid_evidence"
	ReasonRejected        LegReason = "rejected"
	ReasonDeadlineMissed  LegReason = "deadline_missed"
)

// Escalation reasons written to the bridge event.
const (
	EscalationInvalidEvidence  = "invalid_evidence"
	EscalationEvidenceRejected = "evidence_rejected"
	EscalationDeadlineMissed   = "deadline_missed"
)

type Amounts struct {
	Fiat decimal.Decimal `json:"fiat"`
	USDT decimal.Decimal `json:"usdt"`
}

// Evidence is the metadata of an off-platform receipt. The file itself is
// never held.
type Evidence struct {
	Hash                 string            `json:"hash"`
	Issuer               string            `json:"issuer"`
	Payer                string            `json:"payer"`
	Payee                string            `json:"payee"`
	Amounts              Amounts           `json:"amounts"`
	TxID                 string            `json:"txId"`
	Network              string            `json:"network"`
	ClaimedConfirmations int               `json:"claimedConfirmations"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	FileName             string            `json:"file_name,omitempty"`
	FileSizeMB           *decimal.Decimal  `json:"file_size_mb,omitempty"`
}

// CheckShape validates the request structure. It runs at the transport
// boundary and never counts as an attempt; hash length and file size are
// the registry's business.
func (e Evidence) CheckShape() error {
	var problems []string
	if len(e.Hash) > 128 {
		problems = append(problems, "hash longer than 128")
	}
	if len(e.Issuer) < 3 {
		problems = append(problems, "issuer shorter than 3")
	}
	if len(e.Payer) < 3 {
		problems = append(problems, "payer shorter than 3")
	}
	if len(e.Payee) < 3 {
		problems = append(problems, "payee shorter than 3")
	}
	if !fpmath.Positive(e.Amounts.Fiat) || !fpmath.Positive(e.Amounts.USDT) {
		problems = append(problems, "amounts must be positive")
	}
	if len(e.TxID) < 6 {
		problems = append(problems, "txId shorter than 6")
	}
	if len(e.Network) < 3 {
		problems = append(problems, "network shorter than 3")
	}
	if e.ClaimedConfirmations < 0 {
		problems = append(problems, "claimedConfirmations negative")
	}
	if len(e.FileName) > 128 {
		problems = append(problems, "file_name longer than 128")
	}
	if e.FileSizeMB != nil && !fpmath.Positive(*e.FileSizeMB) {
		problems = append(problems, "file_size_mb must be positive")
	}
	if len(problems) > 0 {
		return core.Errorf(core.ErrInvalidRequest, "%s", strings.Join(problems, "; "))
	}
	return nil
}

type Leg struct {
	LegID        string          `json:"leg_id"`
	ProviderID   int64           `json:"provider_id"`
	LegType      LegType         `json:"leg_type"`
	Amount       decimal.Decimal `json:"amount"`
	Status       LegStatus       `json:"status"`
	Deadline     time.Time       `json:"deadline"`
	Evidence     *Evidence       `json:"-"`
	EvidenceHash string          `json:"evidence_hash,omitempty"`
	Attempts     int             `json:"attempts"`
	Reason       LegReason       `json:"reason,omitempty"`
	Note         string          `json:"note,omitempty"`
}

type Record struct {
	SettlementID string    `json:"settlement_id"`
	RFQID        string    `json:"rfq_id"`
	AwardID      string    `json:"award_id"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Legs         []Leg     `json:"legs"`
}

func (r Record) clone() Record {
	r.Legs = append([]Leg(nil), r.Legs...)
	return r
}

func (r *Record) leg(legID string) (*Leg, error) {
	for i := range r.Legs {
		if r.Legs[i].LegID == legID {
			return &r.Legs[i], nil
		}
	}
	return nil, core.Errorf(core.ErrUnknown, "leg %s not found in settlement %s", legID, r.SettlementID)
}

// DeriveStatus is the only source of a record's status. Rules apply in
// order: all verified, any escalated, any pending or submitted.
func DeriveStatus(legs []Leg) Status {
	if len(legs) == 0 {
		return StatusPending
	}
	allVerified := true
	open := false
	for _, l := range legs {
		if l.Status == LegEscalated {
			return StatusDisputed
		}
		if l.Status != LegVerified {
			allVerified = false
		}
		if l.Status == LegPending || l.Status == LegSubmitted {
			open = true
		}
	}
	switch {
	case allVerified:
		return StatusSettled
	case open:
		return StatusInProgress
	}
	return StatusPending
}

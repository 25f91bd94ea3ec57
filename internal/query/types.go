package query

import "github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"

// ReplayResponse is one filtered slice of a domain log.
type ReplayResponse struct {
	Domain  event.Domain     `json:"domain"`
	Count   int              `json:"count"`
	Skipped int              `json:"skipped_lines"`
	Events  []event.Envelope `json:"events"`
}

// IntegrityReport is the result of walking a domain's hash chain.
type IntegrityReport struct {
	Domain       event.Domain `json:"domain"`
	IsHealthy    bool         `json:"is_healthy"`
	Checked      int64        `json:"checked"`
	LastSequence int64        `json:"last_sequence"`
	FirstBreak   *ChainBreak  `json:"first_break,omitempty"`
}

// ChainBreak describes the first line whose hash or sequence does not
// follow from its predecessor.
type ChainBreak struct {
	Sequence int64  `json:"sequence"`
	Line     int    `json:"line"`
	Reason   string `json:"reason"`
}

// MirrorStatus compares a domain file with its Postgres mirror.
type MirrorStatus struct {
	Domain         event.Domain `json:"domain"`
	FileSequence   int64        `json:"file_sequence"`
	MirrorSequence int64        `json:"mirror_sequence"`
	Lag            int64        `json:"lag"`
	// Sequences whose prev_hash does not match the mirrored predecessor.
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}

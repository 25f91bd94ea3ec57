package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is stamped on every log line.
const SchemaVersion = 1

// Domain names one append-only log file.
type Domain string

const (
	DomainAward         Domain = "award"
	DomainSettlement    Domain = "settlement"
	DomainPartialFill   Domain = "partial_fill"
	DomainDispute       Domain = "dispute"
	DomainDisputeAction Domain = "dispute_action"
	DomainQuote         Domain = "quote"
	DomainRFQ           Domain = "rfq"
	DomainNotification  Domain = "notification"
	DomainAccess        Domain = "access"
	DomainConfig        Domain = "config"
)

// AllDomains lists every log domain in a stable order.
func AllDomains() []Domain {
	return []Domain{
		DomainAward, DomainSettlement, DomainPartialFill, DomainDispute,
		DomainDisputeAction, DomainQuote, DomainRFQ, DomainNotification,
		DomainAccess, DomainConfig,
	}
}

// ParseDomain validates a domain name taken from user input.
func ParseDomain(s string) (Domain, error) {
	for _, d := range AllDomains() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown event domain %q", s)
}

// Type is the event discriminator written in the "event" field.
type Type string

// Payload is implemented by every event body. Bodies marshal to a flat JSON
// object whose fields sit next to the envelope fields on the same line.
type Payload interface {
	EventType() Type
}

// Reserved envelope field names. Payloads must not use them.
const (
	FieldEvent         = "event"
	FieldSchemaVersion = "schema_version"
	FieldSequence      = "sequence"
	FieldTimestamp     = "timestamp"
	FieldPrevHash      = "prev_hash"
	FieldHash          = "hash_chain"
)

// Envelope is one decoded log line.
type Envelope struct {
	Domain        Domain
	Event         Type
	SchemaVersion int
	Sequence      int64
	Timestamp     time.Time
	PrevHash      string
	Hash          string

	// Fields holds the payload fields exactly as written.
	Fields map[string]json.RawMessage
}

// Field returns a payload field decoded as a string, or "" when it is
// absent or not a JSON string.
func (e *Envelope) Field(name string) string {
	raw, ok := e.Fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// MarshalJSON renders the flat wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	flat, err := e.flat(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(flat)
}

// CanonicalBody is the byte string the chain hash commits to: the flat
// object without the hash field, keys sorted.
func (e Envelope) CanonicalBody() ([]byte, error) {
	flat, err := e.flat(false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(flat)
}

func (e Envelope) flat(withHash bool) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(e.Fields)+6)
	for k, v := range e.Fields {
		out[k] = v
	}
	put := func(k string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", k, err)
		}
		out[k] = b
		return nil
	}
	if err := put(FieldEvent, e.Event); err != nil {
		return nil, err
	}
	if err := put(FieldSchemaVersion, e.SchemaVersion); err != nil {
		return nil, err
	}
	if err := put(FieldSequence, e.Sequence); err != nil {
		return nil, err
	}
	if err := put(FieldTimestamp, e.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if err := put(FieldPrevHash, e.PrevHash); err != nil {
		return nil, err
	}
	if withHash {
		if err := put(FieldHash, e.Hash); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnmarshalJSON parses the flat wire form. Domain is not on the wire and is
// left for the caller to set.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(k string, dst any) error {
		v, ok := raw[k]
		if !ok {
			return nil
		}
		delete(raw, k)
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		return nil
	}
	var ts string
	if err := take(FieldEvent, &e.Event); err != nil {
		return err
	}
	if err := take(FieldSchemaVersion, &e.SchemaVersion); err != nil {
		return err
	}
	if err := take(FieldSequence, &e.Sequence); err != nil {
		return err
	}
	if err := take(FieldTimestamp, &ts); err != nil {
		return err
	}
	if err := take(FieldPrevHash, &e.PrevHash); err != nil {
		return err
	}
	if err := take(FieldHash, &e.Hash); err != nil {
		return err
	}
	if ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("field timestamp: %w", err)
		}
		e.Timestamp = t
	}
	e.Fields = raw
	return nil
}

// Fields flattens a payload into its JSON fields.
func Fields(p Payload) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", p.EventType(), err)
	}
	for _, reserved := range []string{FieldEvent, FieldSchemaVersion, FieldSequence, FieldTimestamp, FieldPrevHash, FieldHash} {
		if _, ok := fields[reserved]; ok {
			return nil, fmt.Errorf("%s payload uses reserved field %q", p.EventType(), reserved)
		}
	}
	return fields, nil
}

package quote

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	fpmath "github.com/hosneyuusef-create/usdt-trading-assistant/internal/math"
)

type RFQType string

const (
	RFQBuy  RFQType = "buy"
	RFQSell RFQType = "sell"
)

type Network string

const (
	NetworkTRC20 Network = "TRC20"
	NetworkBEP20 Network = "BEP20"
	NetworkERC20 Network = "ERC20"
)

type RFQStatus string

const (
	RFQOpen      RFQStatus = "open"
	RFQAwarded   RFQStatus = "awarded"
	RFQCancelled RFQStatus = "cancelled"
	RFQExpired   RFQStatus = "expired"
)

// SpecialTerms are optional customer conditions. Only SplitAllowed affects
// auto-award; the rest are carried for manual review.
type SpecialTerms struct {
	SplitAllowed      bool             `json:"split_allowed"`
	PriceCeiling      *decimal.Decimal `json:"price_ceiling,omitempty"`
	SpecificProviders []int64          `json:"specific_providers,omitempty"`
}

type RFQ struct {
	RFQID        string          `json:"rfq_id"`
	CustomerID   string          `json:"customer_id"`
	RFQType      RFQType         `json:"rfq_type"`
	Network      Network         `json:"network"`
	Amount       decimal.Decimal `json:"amount"`
	Status       RFQStatus       `json:"status"`
	ExpiresAt    time.Time       `json:"expires_at"`
	SpecialTerms SpecialTerms    `json:"special_terms"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CreateRFQRequest struct {
	CustomerID   string          `json:"customer_id"`
	RFQType      RFQType         `json:"rfq_type"`
	Network      Network         `json:"network"`
	Amount       decimal.Decimal `json:"amount"`
	ExpiresAt    time.Time       `json:"expires_at"`
	SpecialTerms SpecialTerms    `json:"special_terms"`
}

// Appender is the audit sink. Implemented by persistence.EventLog.
type Appender interface {
	Append(domain event.Domain, payload event.Payload) (event.Envelope, error)
}

// RFQRegistry is the minimal RFQ store the award engine reads from.
type RFQRegistry struct {
	store  core.Store[RFQ]
	locks  *core.KeyedMutex
	clock  core.Clock
	audit  Appender
	logger zerolog.Logger
}

func NewRFQRegistry(audit Appender, logger zerolog.Logger) *RFQRegistry {
	return &RFQRegistry{
		store:  core.NewMemoryStore[RFQ](),
		locks:  core.NewKeyedMutex(),
		clock:  core.SystemClock,
		audit:  audit,
		logger: logger,
	}
}

// WithClock replaces the time source.
func (r *RFQRegistry) WithClock(clock core.Clock) *RFQRegistry {
	r.clock = clock
	return r
}

func (r *RFQRegistry) Create(req CreateRFQRequest) (RFQ, error) {
	now := r.clock()
	if len(req.CustomerID) < 5 {
		return RFQ{}, core.Errorf(core.ErrInvalidRequest, "customer_id must be at least 5 characters")
	}
	if req.RFQType != RFQBuy && req.RFQType != RFQSell {
		return RFQ{}, core.Errorf(core.ErrInvalidRequest, "rfq_type must be buy or sell")
	}
	switch req.Network {
	case NetworkTRC20, NetworkBEP20, NetworkERC20:
	default:
		return RFQ{}, core.Errorf(core.ErrInvalidRequest, "unsupported network %q", req.Network)
	}
	if !fpmath.Positive(req.Amount) {
		return RFQ{}, core.Errorf(core.ErrInvalidRequest, "amount must be positive")
	}
	if !req.ExpiresAt.After(now) {
		return RFQ{}, core.Errorf(core.ErrInvalidRequest, "expires_at must be in the future")
	}

	rfq := RFQ{
		RFQID:        core.NewID(),
		CustomerID:   req.CustomerID,
		RFQType:      req.RFQType,
		Network:      req.Network,
		Amount:       req.Amount,
		Status:       RFQOpen,
		ExpiresAt:    req.ExpiresAt.UTC(),
		SpecialTerms: req.SpecialTerms,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.store.Put(rfq.RFQID, rfq)

	r.record(event.RFQCreated{
		RFQID:        rfq.RFQID,
		CustomerID:   rfq.CustomerID,
		RFQType:      string(rfq.RFQType),
		Network:      string(rfq.Network),
		Amount:       rfq.Amount,
		ExpiresAt:    rfq.ExpiresAt,
		SplitAllowed: rfq.SpecialTerms.SplitAllowed,
	})
	r.logger.Info().Str("rfq_id", rfq.RFQID).Str("amount", rfq.Amount.String()).Msg("rfq created")
	return rfq, nil
}

// Get returns the RFQ with expiry applied lazily.
func (r *RFQRegistry) Get(id string) (RFQ, error) {
	rfq, ok := r.store.Get(id)
	if !ok {
		return RFQ{}, core.Errorf(core.ErrUnknown, "rfq %s not found", id)
	}
	return r.touchExpiry(rfq), nil
}

func (r *RFQRegistry) List() []RFQ {
	keys := r.store.Keys()
	out := make([]RFQ, 0, len(keys))
	for _, k := range keys {
		if rfq, ok := r.store.Get(k); ok {
			out = append(out, r.touchExpiry(rfq))
		}
	}
	return out
}

// MarkAwarded sets the RFQ status to awarded. Re-awarding is allowed.
func (r *RFQRegistry) MarkAwarded(id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	rfq, ok := r.store.Get(id)
	if !ok {
		return core.Errorf(core.ErrUnknown, "rfq %s not found", id)
	}
	rfq.Status = RFQAwarded
	rfq.UpdatedAt = r.clock()
	r.store.Put(id, rfq)
	r.record(event.RFQStatusChanged{RFQID: id, Status: string(RFQAwarded)})
	return nil
}

// Cancel closes an open RFQ.
func (r *RFQRegistry) Cancel(id, reason string) (RFQ, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rfq, ok := r.store.Get(id)
	if !ok {
		return RFQ{}, core.Errorf(core.ErrUnknown, "rfq %s not found", id)
	}
	rfq = r.touchExpiry(rfq)
	if rfq.Status != RFQOpen {
		return RFQ{}, core.Errorf(core.ErrInvalidStatus, "only open rfqs can be cancelled, rfq %s is %s", id, rfq.Status)
	}
	rfq.Status = RFQCancelled
	rfq.UpdatedAt = r.clock()
	r.store.Put(id, rfq)
	r.record(event.RFQStatusChanged{RFQID: id, Status: string(RFQCancelled), Reason: reason})
	return rfq, nil
}

func (r *RFQRegistry) touchExpiry(rfq RFQ) RFQ {
	if rfq.Status == RFQOpen && !rfq.ExpiresAt.After(r.clock()) {
		rfq.Status = RFQExpired
	}
	return rfq
}

func (r *RFQRegistry) record(p event.Payload) {
	if _, err := r.audit.Append(event.DomainRFQ, p); err != nil {
		r.logger.Error().Err(err).Str("event", string(p.EventType())).Msg("rfq audit degraded")
	}
}

// Package partialfill tracks how an award's volume is spread across
// providers after the award, as legs are reallocated or cancelled.
package partialfill

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/award"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	fpmath "github.com/hosneyuusef-create/usdt-trading-assistant/internal/math"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
)

const (
	ReconciliationWorkbook = "Order_Reconciliation.xlsx"
	ReconciliationSheet    = "Order Reconciliation"

	DefaultCancelReason = "cancelled"
)

type LegStatus string

const (
	LegActive      LegStatus = "active"
	LegPartial     LegStatus = "partial"
	LegReallocated LegStatus = "reallocated"
	LegCancelled   LegStatus = "cancelled"
)

// Live legs still carry volume.
func (s LegStatus) Live() bool {
	return s == LegActive || s == LegPartial
}

type Status string

const (
	StatusActive    Status = "active"
	StatusAdjusting Status = "adjusting"
)

type Leg struct {
	LegID      string          `json:"leg_id"`
	QuoteID    string          `json:"quote_id"`
	ProviderID int64           `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     LegStatus       `json:"status"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Reason     string          `json:"reason,omitempty"`
}

type Record struct {
	RFQID           string          `json:"rfq_id"`
	AwardID         string          `json:"award_id"`
	TotalAwarded    decimal.Decimal `json:"total_awarded"`
	Status          Status          `json:"status"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Legs            []Leg           `json:"legs"`
}

// Remaining is total_awarded minus the volume on live legs.
func (r Record) Remaining() decimal.Decimal {
	live := decimal.Zero
	for _, l := range r.Legs {
		if l.Status.Live() {
			live = live.Add(l.Amount)
		}
	}
	return r.TotalAwarded.Sub(live)
}

func (r Record) clone() Record {
	r.Legs = append([]Leg(nil), r.Legs...)
	r.RemainingAmount = r.Remaining()
	return r
}

func (r *Record) refreshStatus() {
	r.Status = StatusActive
	for _, l := range r.Legs {
		if l.Status != LegActive {
			r.Status = StatusAdjusting
			return
		}
	}
}

func (r *Record) legByQuote(quoteID string) (*Leg, error) {
	for i := range r.Legs {
		if r.Legs[i].QuoteID == quoteID {
			return &r.Legs[i], nil
		}
	}
	return nil, core.Errorf(core.ErrUnknown, "quote %s not found for rfq %s", quoteID, r.RFQID)
}

type ReallocateRequest struct {
	FromQuoteID       string          `json:"from_quote_id"`
	ToProviderID      int64           `json:"to_provider_id"`
	ReallocatedAmount decimal.Decimal `json:"reallocated_amount"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

type CancelRequest struct {
	QuoteID string `json:"quote_id"`
	Reason  string `json:"reason,omitempty"`
}

type Appender interface {
	Append(domain event.Domain, payload event.Payload) (event.Envelope, error)
}

type Exporter interface {
	Export(name string, sheets ...persistence.Sheet) error
}

// Registry keeps one record per RFQ. Every mutation rewrites the
// reconciliation workbook from the full registry.
type Registry struct {
	store    core.Store[Record]
	locks    *core.KeyedMutex
	exportMu sync.Mutex
	clock    core.Clock
	audit    Appender
	exporter Exporter
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewRegistry wires the registry. exporter may be nil.
func NewRegistry(audit Appender, exporter Exporter, logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		store:    core.NewMemoryStore[Record](),
		locks:    core.NewKeyedMutex(),
		clock:    core.SystemClock,
		audit:    audit,
		exporter: exporter,
		logger:   logger,
		metrics:  metrics,
	}
}

// WithClock replaces the time source.
func (r *Registry) WithClock(clock core.Clock) *Registry {
	r.clock = clock
	return r
}

// Start tracks an award. Starting the same RFQ again replaces its record.
func (r *Registry) Start(res award.Result) Record {
	unlock := r.locks.Lock(res.RFQID)
	now := r.clock()
	rec := Record{RFQID: res.RFQID, AwardID: res.AwardID, Legs: make([]Leg, 0, len(res.Legs))}
	for _, al := range res.Legs {
		rec.TotalAwarded = rec.TotalAwarded.Add(al.AwardedAmount)
		rec.Legs = append(rec.Legs, Leg{
			LegID:      al.QuoteID + "-partial",
			QuoteID:    al.QuoteID,
			ProviderID: al.ProviderID,
			Amount:     al.AwardedAmount,
			Status:     LegActive,
			UpdatedAt:  now,
		})
	}
	rec.refreshStatus()
	r.store.Put(rec.RFQID, rec)
	unlock()

	refs := make([]event.PartialLegRef, len(rec.Legs))
	for i, l := range rec.Legs {
		refs[i] = event.PartialLegRef{LegID: l.LegID, QuoteID: l.QuoteID, ProviderID: l.ProviderID, Amount: l.Amount}
	}
	r.record(event.PartialFillStarted{
		RFQID:        rec.RFQID,
		AwardID:      rec.AwardID,
		TotalAwarded: rec.TotalAwarded,
		Legs:         refs,
	})
	r.count("start")
	r.exportReconciliation()
	return rec.clone()
}

// Reallocate moves amount from a live leg to a new leg owned by another
// provider. The source drops to partial, or reallocated when emptied.
func (r *Registry) Reallocate(rfqID string, req ReallocateRequest) (Record, error) {
	if !fpmath.Positive(req.UnitPrice) {
		return Record{}, core.Errorf(core.ErrInvalidRequest, "unit_price must be positive")
	}

	unlock := r.locks.Lock(rfqID)
	rec, err := r.load(rfqID)
	if err != nil {
		unlock()
		return Record{}, err
	}
	source, err := rec.legByQuote(req.FromQuoteID)
	if err != nil {
		unlock()
		return Record{}, err
	}
	if !source.Status.Live() {
		unlock()
		return Record{}, core.Errorf(core.ErrSourceLegNotAvailable, "leg %s is %s", source.LegID, source.Status)
	}
	amount := req.ReallocatedAmount
	if !fpmath.Positive(amount) || amount.GreaterThan(source.Amount) {
		unlock()
		return Record{}, core.Errorf(core.ErrInvalidReallocationAmount, "amount %s outside (0, %s]", amount, source.Amount)
	}

	now := r.clock()
	source.Amount = source.Amount.Sub(amount)
	source.UpdatedAt = now
	if source.Amount.IsZero() {
		source.Status = LegReallocated
	} else {
		source.Status = LegPartial
	}
	fromStatus := source.Status

	fresh := Leg{
		LegID:      "realloc-" + core.ShortID(),
		QuoteID:    "realloc-" + core.ShortID(),
		ProviderID: req.ToProviderID,
		Amount:     amount,
		Status:     LegActive,
		UpdatedAt:  now,
	}
	rec.Legs = append(rec.Legs, fresh)
	rec.refreshStatus()
	r.store.Put(rfqID, rec)
	unlock()

	out := rec.clone()
	r.record(event.PartialFillReallocated{
		RFQID:           rfqID,
		AwardID:         rec.AwardID,
		FromQuoteID:     req.FromQuoteID,
		FromLegStatus:   string(fromStatus),
		ToProviderID:    req.ToProviderID,
		NewLegID:        fresh.LegID,
		Amount:          amount,
		UnitPrice:       req.UnitPrice,
		RemainingAmount: out.RemainingAmount,
		Status:          string(out.Status),
	})
	r.count("reallocate")
	r.logger.Info().
		Str("rfq_id", rfqID).
		Str("from_quote_id", req.FromQuoteID).
		Int64("to_provider_id", req.ToProviderID).
		Str("amount", amount.String()).
		Msg("partial fill reallocated")
	r.exportReconciliation()
	return out, nil
}

// CancelLeg zeroes a leg. An empty reason becomes "cancelled".
func (r *Registry) CancelLeg(rfqID string, req CancelRequest) (Record, error) {
	reason := req.Reason
	if reason == "" {
		reason = DefaultCancelReason
	}

	unlock := r.locks.Lock(rfqID)
	rec, err := r.load(rfqID)
	if err != nil {
		unlock()
		return Record{}, err
	}
	leg, err := rec.legByQuote(req.QuoteID)
	if err != nil {
		unlock()
		return Record{}, err
	}
	leg.Status = LegCancelled
	leg.Amount = decimal.Zero
	leg.Reason = reason
	leg.UpdatedAt = r.clock()
	legID := leg.LegID
	rec.refreshStatus()
	r.store.Put(rfqID, rec)
	unlock()

	out := rec.clone()
	r.record(event.PartialFillCancelled{
		RFQID:           rfqID,
		AwardID:         rec.AwardID,
		QuoteID:         req.QuoteID,
		LegID:           legID,
		Reason:          reason,
		RemainingAmount: out.RemainingAmount,
		Status:          string(out.Status),
	})
	r.count("cancel")
	r.exportReconciliation()
	return out, nil
}

func (r *Registry) Get(rfqID string) (Record, error) {
	rec, err := r.load(rfqID)
	if err != nil {
		return Record{}, err
	}
	return rec.clone(), nil
}

func (r *Registry) List() []Record {
	keys := r.store.Keys()
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := r.store.Get(k); ok {
			out = append(out, rec.clone())
		}
	}
	return out
}

func (r *Registry) load(rfqID string) (Record, error) {
	rec, ok := r.store.Get(rfqID)
	if !ok {
		return Record{}, core.Errorf(core.ErrUnknown, "rfq %s not found", rfqID)
	}
	return rec.clone(), nil
}

func (r *Registry) record(p event.Payload) {
	if _, err := r.audit.Append(event.DomainPartialFill, p); err != nil {
		r.logger.Error().Err(err).Str("event", string(p.EventType())).Msg("partial fill audit degraded")
	}
}

func (r *Registry) count(op string) {
	if r.metrics != nil {
		r.metrics.PartialFillOps.WithLabelValues(op).Inc()
	}
}

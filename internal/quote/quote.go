package quote

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	fpmath "github.com/hosneyuusef-create/usdt-trading-assistant/internal/math"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
)

// Rejection reasons stored on quotes.
const (
	ReasonRFQExpired  = "rfq_expired"
	ReasonRFQClosed   = "rfq_closed"
	ReasonRateLimited = "rate_limited"
	ReasonNotSelected = "not_selected"
)

type Quote struct {
	QuoteID       string           `json:"quote_id"`
	RFQID         string           `json:"rfq_id"`
	ProviderID    int64            `json:"provider_id"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	Capacity      decimal.Decimal  `json:"capacity"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	Accepted      bool             `json:"accepted"`
	AwardedAmount *decimal.Decimal `json:"awarded_amount"`
	Reason        string           `json:"reason,omitempty"`
}

// Rejected reports whether the quote was refused at submission time.
func (q Quote) Rejected() bool {
	switch q.Reason {
	case ReasonRFQExpired, ReasonRFQClosed, ReasonRateLimited:
		return true
	}
	return false
}

type SubmitRequest struct {
	RFQID      string          `json:"rfq_id"`
	ProviderID int64           `json:"provider_id"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Capacity   decimal.Decimal `json:"capacity"`
}

type RateLimit struct {
	Window time.Duration
	Burst  int
}

// DefaultRateLimit allows one quote per provider per RFQ every 45s.
func DefaultRateLimit() RateLimit {
	return RateLimit{Window: 45 * time.Second, Burst: 1}
}

// Registry holds quotes per RFQ.
type Registry struct {
	rfqs    *RFQRegistry
	store   core.Store[[]Quote]
	locks   *core.KeyedMutex
	clock   core.Clock
	audit   Appender
	logger  zerolog.Logger
	metrics *observability.Metrics

	limit    RateLimit
	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRegistry(rfqs *RFQRegistry, limit RateLimit, audit Appender, logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		rfqs:     rfqs,
		store:    core.NewMemoryStore[[]Quote](),
		locks:    core.NewKeyedMutex(),
		clock:    core.SystemClock,
		audit:    audit,
		logger:   logger,
		metrics:  metrics,
		limit:    limit,
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock replaces the time source. The rate limiter reads it too.
func (r *Registry) WithClock(clock core.Clock) *Registry {
	r.clock = clock
	return r
}

// Submit records a provider's bid. Submissions refused because the RFQ is
// expired, closed or the provider is rate limited are stored with their
// reason and returned as validation errors.
func (r *Registry) Submit(req SubmitRequest) (Quote, error) {
	if !fpmath.Positive(req.UnitPrice) || !fpmath.Positive(req.Capacity) {
		return Quote{}, core.Errorf(core.ErrInvalidRequest, "unit_price and capacity must be positive")
	}
	rfq, err := r.rfqs.Get(req.RFQID)
	if err != nil {
		return Quote{}, err
	}

	unlock := r.locks.Lock(req.RFQID)
	defer unlock()

	now := r.clock()
	q := Quote{
		QuoteID:     core.NewID(),
		RFQID:       req.RFQID,
		ProviderID:  req.ProviderID,
		UnitPrice:   req.UnitPrice,
		Capacity:    req.Capacity,
		SubmittedAt: now,
		Accepted:    true,
	}

	reject := func(base *core.Error, reason string) (Quote, error) {
		q.Accepted = false
		q.Reason = reason
		r.append(q)
		r.record(event.TypeQuoteRejected, q)
		r.count("rejected_" + reason)
		return q, core.Errorf(base, "quote for rfq %s", req.RFQID)
	}

	switch {
	case rfq.Status == RFQExpired:
		return reject(core.ErrRFQExpired, ReasonRFQExpired)
	case rfq.Status != RFQOpen:
		return reject(core.ErrRFQClosed, ReasonRFQClosed)
	}
	if req.Capacity.GreaterThan(rfq.Amount) {
		r.count("rejected_capacity")
		return Quote{}, core.Errorf(core.ErrCapacityExceedsAmount, "capacity %s exceeds rfq amount %s", req.Capacity, rfq.Amount)
	}
	if !r.limiter(req.ProviderID, req.RFQID).AllowN(now, 1) {
		return reject(core.ErrRateLimited, ReasonRateLimited)
	}

	r.append(q)
	r.record(event.TypeQuoteSubmitted, q)
	r.count("accepted")
	r.logger.Info().
		Str("quote_id", q.QuoteID).
		Str("rfq_id", q.RFQID).
		Int64("provider_id", q.ProviderID).
		Str("unit_price", q.UnitPrice.String()).
		Str("capacity", q.Capacity.String()).
		Msg("quote submitted")
	return q, nil
}

// List returns every quote stored for the RFQ, including rejected ones.
func (r *Registry) List(rfqID string) []Quote {
	quotes, _ := r.store.Get(rfqID)
	out := make([]Quote, len(quotes))
	copy(out, quotes)
	return out
}

// Eligible returns the quotes the award engine may rank: everything not
// refused at submission.
func (r *Registry) Eligible(rfqID string) ([]Quote, error) {
	if _, err := r.rfqs.Get(rfqID); err != nil {
		return nil, err
	}
	var out []Quote
	for _, q := range r.List(rfqID) {
		if !q.Rejected() {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// MarkAwards sets accepted and awarded_amount on winners. Every other quote
// becomes not accepted, with reason not_selected unless it already has one.
func (r *Registry) MarkAwards(rfqID string, awards map[string]decimal.Decimal) error {
	unlock := r.locks.Lock(rfqID)
	defer unlock()

	quotes, _ := r.store.Get(rfqID)
	updated := make([]Quote, len(quotes))
	for i, q := range quotes {
		if amount, ok := awards[q.QuoteID]; ok {
			a := amount
			q.Accepted = true
			q.AwardedAmount = &a
			q.Reason = ""
		} else {
			q.Accepted = false
			q.AwardedAmount = nil
			if q.Reason == "" {
				q.Reason = ReasonNotSelected
			}
		}
		updated[i] = q
	}
	for id := range awards {
		if !containsQuote(updated, id) {
			return core.Errorf(core.ErrUnknown, "quote %s not found for rfq %s", id, rfqID)
		}
	}
	r.store.Put(rfqID, updated)
	for _, q := range updated {
		r.record(event.TypeQuoteUpdated, q)
	}
	return nil
}

func containsQuote(quotes []Quote, id string) bool {
	for _, q := range quotes {
		if q.QuoteID == id {
			return true
		}
	}
	return false
}

func (r *Registry) append(q Quote) {
	existing, _ := r.store.Get(q.RFQID)
	next := make([]Quote, len(existing), len(existing)+1)
	copy(next, existing)
	r.store.Put(q.RFQID, append(next, q))
}

func (r *Registry) limiter(providerID int64, rfqID string) *rate.Limiter {
	key := fmt.Sprintf("%d:%s", providerID, rfqID)
	r.limitMu.Lock()
	defer r.limitMu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		every := r.limit.Window / time.Duration(r.limit.Burst)
		l = rate.NewLimiter(rate.Every(every), r.limit.Burst)
		r.limiters[key] = l
	}
	return l
}

func (r *Registry) count(outcome string) {
	if r.metrics != nil {
		r.metrics.QuoteSubmitted.WithLabelValues(outcome).Inc()
	}
}

func (r *Registry) record(kind event.Type, q Quote) {
	payload := event.QuoteRecorded{
		Kind:          kind,
		QuoteID:       q.QuoteID,
		RFQID:         q.RFQID,
		ProviderID:    q.ProviderID,
		UnitPrice:     q.UnitPrice,
		Capacity:      q.Capacity,
		SubmittedAt:   q.SubmittedAt,
		Accepted:      &q.Accepted,
		AwardedAmount: q.AwardedAmount,
		Reason:        q.Reason,
	}
	if _, err := r.audit.Append(event.DomainQuote, payload); err != nil {
		r.logger.Error().Err(err).Str("quote_id", q.QuoteID).Msg("quote audit degraded")
	}
}

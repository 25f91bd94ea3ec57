package award

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	fpmath "github.com/hosneyuusef-create/usdt-trading-assistant/internal/math"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
)

const (
	TieBreakRule   = "price_then_submission_time"
	SelectionMode  = "auto"
	DecisionReason = "auto_selection"
	AutoActor      = "auto_engine"

	AuditWorkbook = "Award_Audit.xlsx"
)

// Leg is one winning quote.
type Leg struct {
	QuoteID       string          `json:"quote_id"`
	ProviderID    int64           `json:"provider_id"`
	AwardedAmount decimal.Decimal `json:"awarded_amount"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// Result is the immutable outcome of one auto-award. Settlement and
// partial-fill take it by value.
type Result struct {
	AwardID         string          `json:"award_id"`
	RFQID           string          `json:"rfq_id"`
	TieBreakRule    string          `json:"tie_break_rule"`
	TotalAwarded    decimal.Decimal `json:"total_awarded"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Legs            []Leg           `json:"legs"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Validate checks a result supplied by a client before settlement or
// partial-fill tracking starts from it. Results built by the engine always
// pass.
func (r Result) Validate() error {
	if r.RFQID == "" {
		return core.Errorf(core.ErrInvalidRequest, "rfq_id is required")
	}
	if len(r.Legs) == 0 {
		return core.Errorf(core.ErrInvalidRequest, "award has no legs")
	}
	if !fpmath.Positive(r.TotalAwarded) {
		return core.Errorf(core.ErrInvalidRequest, "total_awarded must be positive")
	}
	seen := make(map[string]bool, len(r.Legs))
	for _, leg := range r.Legs {
		if leg.QuoteID == "" {
			return core.Errorf(core.ErrInvalidRequest, "leg quote_id is required")
		}
		if seen[leg.QuoteID] {
			return core.Errorf(core.ErrInvalidRequest, "duplicate leg for quote %s", leg.QuoteID)
		}
		seen[leg.QuoteID] = true
		if !fpmath.Positive(leg.AwardedAmount) {
			return core.Errorf(core.ErrInvalidRequest, "leg %s: awarded_amount must be positive", leg.QuoteID)
		}
		if !fpmath.Positive(leg.UnitPrice) {
			return core.Errorf(core.ErrInvalidRequest, "leg %s: unit_price must be positive", leg.QuoteID)
		}
	}
	return nil
}

func (r Result) clone() Result {
	r.Legs = append([]Leg(nil), r.Legs...)
	return r
}

type RFQSource interface {
	Get(id string) (quote.RFQ, error)
	MarkAwarded(id string) error
}

type QuoteBook interface {
	Eligible(rfqID string) ([]quote.Quote, error)
	MarkAwards(rfqID string, awards map[string]decimal.Decimal) error
}

type Appender interface {
	Append(domain event.Domain, payload event.Payload) (event.Envelope, error)
}

type Exporter interface {
	Export(name string, sheets ...persistence.Sheet) error
}

// Engine runs auto-award. Calls for the same RFQ are serialized.
type Engine struct {
	rfqs     RFQSource
	quotes   QuoteBook
	audit    Appender
	exporter Exporter
	logDir   string
	locks    *core.KeyedMutex
	clock    core.Clock
	awards   core.Store[Result]
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewEngine wires the engine. exporter may be nil to skip the audit
// workbook; logDir is where the award log lives for that workbook.
func NewEngine(rfqs RFQSource, quotes QuoteBook, audit Appender, exporter Exporter, logDir string, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		rfqs:     rfqs,
		quotes:   quotes,
		audit:    audit,
		exporter: exporter,
		logDir:   logDir,
		locks:    core.NewKeyedMutex(),
		clock:    core.SystemClock,
		awards:   core.NewMemoryStore[Result](),
		logger:   logger,
		metrics:  metrics,
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(clock core.Clock) *Engine {
	e.clock = clock
	return e
}

// AutoAward ranks the RFQ's quotes and awards the winners.
func (e *Engine) AutoAward(rfqID string) (Result, error) {
	unlock := e.locks.Lock(rfqID)
	defer unlock()

	rfq, err := e.rfqs.Get(rfqID)
	if err != nil {
		e.count("not_found")
		return Result{}, err
	}
	quotes, err := e.quotes.Eligible(rfqID)
	if err != nil {
		e.count("not_found")
		return Result{}, err
	}
	if len(quotes) == 0 {
		e.count("no_quotes")
		return Result{}, core.Errorf(core.ErrNoQuotesSubmitted, "rfq %s", rfqID)
	}

	legs := Select(rfq.RFQType, rfq.Amount, rfq.SpecialTerms.SplitAllowed, quotes)
	if len(legs) == 0 {
		e.count("no_suitable_quote")
		return Result{}, core.Errorf(core.ErrNoSuitableQuote, "rfq %s amount %s", rfqID, rfq.Amount)
	}

	total := decimal.Zero
	awards := make(map[string]decimal.Decimal, len(legs))
	for _, l := range legs {
		total = total.Add(l.AwardedAmount)
		awards[l.QuoteID] = l.AwardedAmount
	}

	result := Result{
		AwardID:         core.NewID(),
		RFQID:           rfqID,
		TieBreakRule:    TieBreakRule,
		TotalAwarded:    total,
		RemainingAmount: fpmath.FloorZero(rfq.Amount.Sub(total)),
		Legs:            legs,
		GeneratedAt:     e.clock(),
	}

	if err := e.quotes.MarkAwards(rfqID, awards); err != nil {
		return Result{}, err
	}
	if err := e.rfqs.MarkAwarded(rfqID); err != nil {
		return Result{}, err
	}
	e.awards.Put(result.AwardID, result)

	e.record(result)
	e.exportAudit()

	e.count("awarded")
	if e.metrics != nil {
		e.metrics.AwardLegs.Observe(float64(len(legs)))
	}
	e.logger.Info().
		Str("award_id", result.AwardID).
		Str("rfq_id", rfqID).
		Int("legs", len(legs)).
		Str("total_awarded", total.String()).
		Str("remaining", result.RemainingAmount.String()).
		Msg("rfq awarded")
	return result.clone(), nil
}

// Get returns an award produced by this process.
func (e *Engine) Get(awardID string) (Result, error) {
	r, ok := e.awards.Get(awardID)
	if !ok {
		return Result{}, core.Errorf(core.ErrUnknown, "award %s not found", awardID)
	}
	return r.clone(), nil
}

func (e *Engine) List() []Result {
	keys := e.awards.Keys()
	out := make([]Result, 0, len(keys))
	for _, k := range keys {
		if r, ok := e.awards.Get(k); ok {
			out = append(out, r.clone())
		}
	}
	return out
}

// Select ranks quotes and walks them greedily.
//
// Buy RFQs rank by ascending price, sell RFQs by descending price; equal
// prices go to the earlier submission. Without split only the first quote
// able to cover the whole amount wins. With split each quote takes
// min(capacity, remaining) until the amount is funded.
func Select(rfqType quote.RFQType, amount decimal.Decimal, split bool, quotes []quote.Quote) []Leg {
	ranked := append([]quote.Quote(nil), quotes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := ranked[i].UnitPrice, ranked[j].UnitPrice
		if !pi.Equal(pj) {
			if rfqType == quote.RFQBuy {
				return pi.LessThan(pj)
			}
			return pi.GreaterThan(pj)
		}
		return ranked[i].SubmittedAt.Before(ranked[j].SubmittedAt)
	})

	needed := amount
	var legs []Leg
	for _, q := range ranked {
		if needed.Sign() <= 0 {
			break
		}
		if !split && q.Capacity.LessThan(needed) {
			continue
		}
		awarded := fpmath.Min(q.Capacity, needed)
		legs = append(legs, Leg{
			QuoteID:       q.QuoteID,
			ProviderID:    q.ProviderID,
			AwardedAmount: awarded,
			UnitPrice:     q.UnitPrice,
			SubmittedAt:   q.SubmittedAt,
		})
		needed = needed.Sub(awarded)
		if !split {
			break
		}
	}
	return legs
}

func (e *Engine) record(r Result) {
	legs := make([]event.AwardLeg, len(r.Legs))
	for i, l := range r.Legs {
		legs[i] = event.AwardLeg(l)
	}
	_, err := e.audit.Append(event.DomainAward, event.AwardCreated{
		AwardID:         r.AwardID,
		RFQID:           r.RFQID,
		SelectionMode:   SelectionMode,
		TieBreakRule:    r.TieBreakRule,
		DecisionReason:  DecisionReason,
		Reviewer:        AutoActor,
		Approver:        AutoActor,
		TotalAwarded:    r.TotalAwarded,
		RemainingAmount: r.RemainingAmount,
		Legs:            legs,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("award_id", r.AwardID).Msg("award audit degraded")
	}
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.AwardsTotal.WithLabelValues(outcome).Inc()
	}
}

package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/award"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
)

// Policy holds the settlement SLA and evidence limits.
type Policy struct {
	LegDeadline           time.Duration
	MaxEvidenceSizeMB     decimal.Decimal
	MinHashLength         int
	EscalateAfterAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		LegDeadline:           45 * time.Minute,
		MaxEvidenceSizeMB:     decimal.NewFromInt(5),
		MinHashLength:         16,
		EscalateAfterAttempts: 2,
	}
}

type Appender interface {
	Append(domain event.Domain, payload event.Payload) (event.Envelope, error)
}

// Registry owns settlement records. Writers hold the settlement's lock for
// the whole read-modify-write, including the deadline sweep.
type Registry struct {
	policy  Policy
	store   core.Store[Record]
	locks   *core.KeyedMutex
	clock   core.Clock
	audit   Appender
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewRegistry(policy Policy, audit Appender, logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		policy:  policy,
		store:   core.NewMemoryStore[Record](),
		locks:   core.NewKeyedMutex(),
		clock:   core.SystemClock,
		audit:   audit,
		logger:  logger,
		metrics: metrics,
	}
}

// WithClock replaces the time source.
func (r *Registry) WithClock(clock core.Clock) *Registry {
	r.clock = clock
	return r
}

// Start opens a settlement for an award: a fiat and a usdt leg per award
// leg, each due LegDeadline from now.
func (r *Registry) Start(res award.Result) Record {
	now := r.clock()
	rec := Record{
		SettlementID: core.NewID(),
		RFQID:        res.RFQID,
		AwardID:      res.AwardID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Legs:         make([]Leg, 0, 2*len(res.Legs)),
	}
	deadline := now.Add(r.policy.LegDeadline)
	for _, al := range res.Legs {
		for _, lt := range []LegType{LegFiat, LegUSDT} {
			rec.Legs = append(rec.Legs, Leg{
				LegID:      fmt.Sprintf("%s-%s", al.QuoteID, lt),
				ProviderID: al.ProviderID,
				LegType:    lt,
				Amount:     al.AwardedAmount,
				Status:     LegPending,
				Deadline:   deadline,
			})
		}
	}
	rec.Status = DeriveStatus(rec.Legs)
	r.store.Put(rec.SettlementID, rec)

	refs := make([]event.SettlementLegRef, len(rec.Legs))
	for i, l := range rec.Legs {
		refs[i] = event.SettlementLegRef{
			LegID:      l.LegID,
			ProviderID: l.ProviderID,
			LegType:    string(l.LegType),
			Amount:     l.Amount,
			Deadline:   l.Deadline,
		}
	}
	r.record(event.DomainSettlement, event.SettlementStarted{
		SettlementID: rec.SettlementID,
		RFQID:        rec.RFQID,
		AwardID:      rec.AwardID,
		Status:       string(rec.Status),
		Legs:         refs,
	})
	r.logger.Info().
		Str("settlement_id", rec.SettlementID).
		Str("award_id", rec.AwardID).
		Int("legs", len(rec.Legs)).
		Msg("settlement started")
	return rec.clone()
}

// SubmitEvidence attaches evidence to an open leg. Every call on an open leg
// counts as an attempt. Invalid evidence leaves the leg pending until the
// escalation threshold, then escalates it; either way the caller gets
// ErrInvalidEvidence and the record keeps the new state.
func (r *Registry) SubmitEvidence(settlementID, legID string, ev Evidence) (Record, error) {
	unlock := r.locks.Lock(settlementID)
	defer unlock()

	rec, err := r.load(settlementID)
	if err != nil {
		return Record{}, err
	}
	leg, err := rec.leg(legID)
	if err != nil {
		return Record{}, err
	}
	if leg.Status.Closed() {
		return Record{}, core.Errorf(core.ErrLegAlreadyClosed, "leg %s is %s", legID, leg.Status)
	}

	leg.Attempts++
	if problems := r.checkEvidence(ev); len(problems) > 0 {
		leg.Reason = ReasonInvalidEvidence
		escalate := leg.Attempts >= r.policy.EscalateAfterAttempts
		if escalate {
			leg.Status = LegEscalated
		} else {
			leg.Status = LegPending
		}
		snapshot := *leg
		r.commit(&rec)

		detail := strings.Join(problems, ",")
		r.record(event.DomainSettlement, event.EvidenceRejected{
			SettlementID: settlementID,
			LegID:        legID,
			Attempts:     snapshot.Attempts,
			LegStatus:    string(snapshot.Status),
			Reason:       string(ReasonInvalidEvidence),
			Detail:       detail,
		})
		if escalate {
			r.escalate(rec, snapshot, EscalationInvalidEvidence)
		}
		r.countLeg(snapshot.Status)
		return Record{}, core.Errorf(core.ErrInvalidEvidence, "%s (attempt %d)", detail, snapshot.Attempts)
	}

	stored := ev
	leg.Evidence = &stored
	leg.EvidenceHash = ev.Hash
	leg.Status = LegSubmitted
	leg.Reason = ReasonNone
	leg.Note = ""
	snapshot := *leg
	r.commit(&rec)

	r.record(event.DomainSettlement, event.EvidenceSubmitted{
		SettlementID: settlementID,
		LegID:        legID,
		EvidenceHash: ev.Hash,
		TxID:         ev.TxID,
		Network:      ev.Network,
		FileSizeMB:   ev.FileSizeMB,
		Attempts:     snapshot.Attempts,
		Status:       string(rec.Status),
	})
	r.countLeg(LegSubmitted)
	r.logger.Info().
		Str("settlement_id", settlementID).
		Str("leg_id", legID).
		Int("attempts", snapshot.Attempts).
		Msg("evidence submitted")
	return rec.clone(), nil
}

// checkEvidence returns the violated limits. A missing file size fails.
func (r *Registry) checkEvidence(ev Evidence) []string {
	var problems []string
	if ev.FileSizeMB == nil || ev.FileSizeMB.GreaterThan(r.policy.MaxEvidenceSizeMB) {
		problems = append(problems, "file_size_exceeds_limit")
	}
	if len(ev.Hash) < r.policy.MinHashLength {
		problems = append(problems, "hash_too_short")
	}
	return problems
}

// VerifyLeg records the operator's verdict on submitted evidence. A negative
// verdict escalates the leg; note is kept as free text.
func (r *Registry) VerifyLeg(settlementID, legID string, verified bool, note string) (Record, error) {
	unlock := r.locks.Lock(settlementID)
	defer unlock()

	rec, err := r.load(settlementID)
	if err != nil {
		return Record{}, err
	}
	leg, err := rec.leg(legID)
	if err != nil {
		return Record{}, err
	}
	if leg.Evidence == nil {
		return Record{}, core.Errorf(core.ErrNoEvidenceSubmitted, "leg %s", legID)
	}

	if verified {
		leg.Status = LegVerified
		leg.Reason = ReasonNone
		leg.Note = note
	} else {
		leg.Status = LegEscalated
		leg.Reason = ReasonRejected
		leg.Note = note
	}
	snapshot := *leg
	r.commit(&rec)

	r.record(event.DomainSettlement, event.LegVerified{
		SettlementID: settlementID,
		LegID:        legID,
		Verified:     verified,
		LegStatus:    string(snapshot.Status),
		Status:       string(rec.Status),
		Note:         note,
	})
	if !verified {
		r.escalate(rec, snapshot, EscalationEvidenceRejected)
	}
	r.countLeg(snapshot.Status)
	return rec.clone(), nil
}

// CheckDeadlines escalates every pending or submitted leg whose deadline has
// been reached and returns the records that changed.
func (r *Registry) CheckDeadlines() []Record {
	start := time.Now()
	var changed []Record
	for _, id := range r.store.Keys() {
		if rec, ok := r.sweep(id); ok {
			changed = append(changed, rec)
		}
	}
	if r.metrics != nil {
		r.metrics.DeadlineSweepDuration.Observe(time.Since(start).Seconds())
		r.metrics.DeadlineSweepChanged.Add(float64(len(changed)))
	}
	if len(changed) > 0 {
		r.logger.Warn().Int("settlements", len(changed)).Msg("deadline sweep escalated legs")
	}
	return changed
}

func (r *Registry) sweep(id string) (Record, bool) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.load(id)
	if err != nil {
		return Record{}, false
	}
	now := r.clock()
	var missed []Leg
	for i := range rec.Legs {
		l := &rec.Legs[i]
		if (l.Status == LegPending || l.Status == LegSubmitted) && !l.Deadline.After(now) {
			l.Status = LegEscalated
			l.Reason = ReasonDeadlineMissed
			missed = append(missed, *l)
		}
	}
	if len(missed) == 0 {
		return Record{}, false
	}
	r.commit(&rec)
	for _, l := range missed {
		r.escalate(rec, l, EscalationDeadlineMissed)
		r.countLeg(LegEscalated)
	}
	return rec.clone(), true
}

func (r *Registry) Get(settlementID string) (Record, error) {
	rec, err := r.load(settlementID)
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

// load returns a private copy safe to mutate under the settlement lock.
func (r *Registry) load(id string) (Record, error) {
	rec, ok := r.store.Get(id)
	if !ok {
		return Record{}, core.Errorf(core.ErrUnknown, "settlement %s not found", id)
	}
	return rec.clone(), nil
}

func (r *Registry) commit(rec *Record) {
	rec.Status = DeriveStatus(rec.Legs)
	rec.UpdatedAt = r.clock()
	r.store.Put(rec.SettlementID, *rec)
}

// escalate writes the bridge event to the settlement and dispute logs. It
// does not open a dispute.
func (r *Registry) escalate(rec Record, leg Leg, reason string) {
	payload := event.SettlementEscalated{
		SettlementID: rec.SettlementID,
		RFQID:        rec.RFQID,
		AwardID:      rec.AwardID,
		LegID:        leg.LegID,
		ProviderID:   leg.ProviderID,
		LegType:      string(leg.LegType),
		Amount:       leg.Amount,
		Reason:       reason,
		Note:         leg.Note,
		Attempts:     leg.Attempts,
	}
	r.record(event.DomainSettlement, payload)
	r.record(event.DomainDispute, payload)

	if r.metrics != nil {
		r.metrics.SettlementEscalations.WithLabelValues(reason).Inc()
	}
	r.logger.Warn().
		Str("settlement_id", rec.SettlementID).
		Str("leg_id", leg.LegID).
		Int64("provider_id", leg.ProviderID).
		Str("reason", reason).
		Msg("settlement leg escalated")
}

func (r *Registry) record(domain event.Domain, p event.Payload) {
	if _, err := r.audit.Append(domain, p); err != nil {
		r.logger.Error().Err(err).
			Str("domain", string(domain)).
			Str("event", string(p.EventType())).
			Msg("settlement audit degraded")
	}
}

func (r *Registry) countLeg(s LegStatus) {
	if r.metrics != nil {
		r.metrics.SettlementLegTransitions.WithLabelValues(string(s)).Inc()
	}
}

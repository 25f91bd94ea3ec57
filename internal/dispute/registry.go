// Package dispute runs the arbitration workflow for settlement disputes:
// filing, an evidence window, review and a decision, each gated by a fixed
// deadline measured from filing.
package dispute

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
)

type Appender interface {
	Append(domain event.Domain, payload event.Payload) (event.Envelope, error)
}

type Registry struct {
	windows Windows
	store   core.Store[Dispute]
	locks   *core.KeyedMutex
	clock   core.Clock
	audit   Appender
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewRegistry(windows Windows, audit Appender, logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		windows: windows,
		store:   core.NewMemoryStore[Dispute](),
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

// FileDispute opens a dispute and immediately requests evidence from both
// parties. Several disputes may exist for one settlement.
func (r *Registry) FileDispute(req FileRequest) (Dispute, error) {
	if err := req.validate(); err != nil {
		return Dispute{}, err
	}
	now := r.clock()
	d := Dispute{
		DisputeID:        core.NewID(),
		SettlementID:     req.SettlementID,
		ClaimantID:       req.ClaimantID,
		RespondentID:     req.RespondentID,
		Reason:           req.Reason,
		Status:           StatusOpen,
		OpenedAt:         now,
		EvidenceDeadline: now.Add(r.windows.Evidence),
		ReviewDeadline:   now.Add(r.windows.Review),
		DecisionDeadline: now.Add(r.windows.Decision),
		UpdatedAt:        now,
	}
	action := r.newAction(d.DisputeID, SystemActor, ActionRequestEvidence,
		fmt.Sprintf("Evidence requested from both parties. Deadline: %s", d.EvidenceDeadline.Format(time.RFC3339)))
	d.Actions = append(d.Actions, action)
	d.Status = StatusAwaitingEvidence
	r.store.Put(d.DisputeID, d)

	r.record(event.DomainDispute, event.DisputeFiled{
		DisputeID:        d.DisputeID,
		SettlementID:     d.SettlementID,
		ClaimantID:       d.ClaimantID,
		RespondentID:     d.RespondentID,
		Reason:           d.Reason,
		OpenedAt:         d.OpenedAt,
		EvidenceDeadline: d.EvidenceDeadline,
		ReviewDeadline:   d.ReviewDeadline,
		DecisionDeadline: d.DecisionDeadline,
	})

	r.recordAction(action, event.DisputeAction{})
	r.transition(StatusAwaitingEvidence)
	r.logger.Info().
		Str("dispute_id", d.DisputeID).
		Str("settlement_id", d.SettlementID).
		Int64("claimant_id", d.ClaimantID).
		Msg("dispute filed")
	return d.clone(), nil
}

// SubmitEvidence attaches a party's proof while the evidence window is open.
// The dispute status does not change.
func (r *Registry) SubmitEvidence(sub EvidenceSubmission) (Evidence, error) {
	if err := sub.validate(); err != nil {
		return Evidence{}, err
	}
	unlock := r.locks.Lock(sub.DisputeID)
	defer unlock()

	d, err := r.load(sub.DisputeID)
	if err != nil {
		return Evidence{}, err
	}
	now := r.clock()
	if now.After(d.EvidenceDeadline) {
		r.breach("evidence_window", d.DisputeID)
		return Evidence{}, core.Errorf(core.ErrEvidenceWindowClosed, "deadline was %s", d.EvidenceDeadline.Format(time.RFC3339))
	}

	ev := Evidence{
		EvidenceID:   core.NewID(),
		DisputeID:    d.DisputeID,
		SubmitterID:  sub.SubmitterID,
		EvidenceType: sub.EvidenceType,
		StorageURL:   sub.StorageURL,
		Hash:         sub.Hash,
		Metadata:     sub.Metadata,
		Notes:        sub.Notes,
		SubmittedAt:  now,
	}
	d.Evidence = append(d.Evidence, ev)
	d.UpdatedAt = now
	r.store.Put(d.DisputeID, d)

	r.record(event.DomainDispute, event.DisputeEvidenceSubmitted{
		DisputeID:    d.DisputeID,
		EvidenceID:   ev.EvidenceID,
		SubmitterID:  ev.SubmitterID,
		EvidenceType: string(ev.EvidenceType),
		EvidenceHash: ev.Hash,
	})
	return ev, nil
}

// StartReview moves the dispute to review once the evidence window has
// closed and before the review deadline. Any status may be reopened,
// including resolved and escalated.
func (r *Registry) StartReview(disputeID string, adminID int64) (Action, error) {
	unlock := r.locks.Lock(disputeID)
	defer unlock()

	d, err := r.load(disputeID)
	if err != nil {
		return Action{}, err
	}
	now := r.clock()
	if now.Before(d.EvidenceDeadline) {
		return Action{}, core.Errorf(core.ErrEvidenceWindowStillOpen, "deadline %s", d.EvidenceDeadline.Format(time.RFC3339))
	}
	if now.After(d.ReviewDeadline) {
		r.breach("review_deadline", disputeID)
		return Action{}, core.Errorf(core.ErrReviewDeadlinePassed, "deadline was %s", d.ReviewDeadline.Format(time.RFC3339))
	}

	count := len(d.Evidence)
	action := r.newAction(disputeID, adminID, ActionReviewStart, fmt.Sprintf("Review started. Evidence count: %d", count))
	d.Actions = append(d.Actions, action)
	d.Status = StatusUnderReview
	d.UpdatedAt = now
	r.store.Put(disputeID, d)

	r.recordAction(action, event.DisputeAction{EvidenceCount: &count})
	r.transition(StatusUnderReview)
	return action, nil
}

// MakeDecision resolves a dispute that is awaiting evidence or under review.
// The decision deadline is checked before the status.
func (r *Registry) MakeDecision(req DecisionRequest) (Dispute, error) {
	if err := req.validate(); err != nil {
		return Dispute{}, err
	}
	unlock := r.locks.Lock(req.DisputeID)
	defer unlock()

	d, err := r.load(req.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	now := r.clock()
	if now.After(d.DecisionDeadline) {
		r.breach("decision_deadline", d.DisputeID)
		return Dispute{}, core.Errorf(core.ErrDecisionDeadlinePassed, "deadline was %s", d.DecisionDeadline.Format(time.RFC3339))
	}
	if d.Status != StatusUnderReview && d.Status != StatusAwaitingEvidence {
		return Dispute{}, core.Errorf(core.ErrInvalidStatus, "cannot decide a dispute that is %s", d.Status)
	}

	d.Decision = req.Decision
	d.DecisionReason = req.DecisionReason
	d.DecisionAt = &now
	d.Status = StatusResolved
	d.UpdatedAt = now
	action := r.newAction(d.DisputeID, req.AdminID, ActionDecision,
		fmt.Sprintf("Decision: %s. Evidence reviewed: %d", req.Decision, len(req.EvidenceReviewed)))
	d.Actions = append(d.Actions, action)
	r.store.Put(d.DisputeID, d)

	reviewed := req.EvidenceReviewed
	if reviewed == nil {
		reviewed = []string{}
	}
	r.record(event.DomainDispute, event.DecisionMade{
		DisputeID:           d.DisputeID,
		AdminID:             req.AdminID,
		Decision:            string(req.Decision),
		DecisionReason:      req.DecisionReason,
		AwardedToClaimant:   req.AwardedToClaimant,
		AwardedToRespondent: req.AwardedToRespondent,
		EvidenceReviewed:    reviewed,
		DecisionAt:          now,
	})
	r.recordAction(action, event.DisputeAction{Decision: string(req.Decision)})
	r.transition(StatusResolved)
	r.logger.Info().
		Str("dispute_id", d.DisputeID).
		Int64("admin_id", req.AdminID).
		Str("decision", string(req.Decision)).
		Msg("dispute resolved")
	return d.clone(), nil
}

// Escalate hands the dispute to a higher authority. It is allowed from any
// status and ignores every deadline.
func (r *Registry) Escalate(disputeID string, adminID int64, reason string) (Action, error) {
	unlock := r.locks.Lock(disputeID)
	defer unlock()

	d, err := r.load(disputeID)
	if err != nil {
		return Action{}, err
	}
	previous := d.Status
	action := r.newAction(disputeID, adminID, ActionEscalate, reason)
	d.Actions = append(d.Actions, action)
	d.Status = StatusEscalated
	d.UpdatedAt = r.clock()
	r.store.Put(disputeID, d)

	r.record(event.DomainDispute, event.DisputeEscalated{
		DisputeID:      disputeID,
		AdminID:        adminID,
		PreviousStatus: string(previous),
		Reason:         reason,
	})
	r.recordAction(action, event.DisputeAction{})
	r.transition(StatusEscalated)
	r.logger.Warn().
		Str("dispute_id", disputeID).
		Int64("admin_id", adminID).
		Str("previous_status", string(previous)).
		Msg("dispute escalated")
	return action, nil
}

func (r *Registry) GetDispute(disputeID string) (Dispute, error) {
	d, err := r.load(disputeID)
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// ListDisputes returns disputes ordered by opened_at then id. An empty
// status returns all of them.
func (r *Registry) ListDisputes(status Status) []Dispute {
	out := []Dispute{}
	for _, k := range r.store.Keys() {
		d, ok := r.store.Get(k)
		if !ok || (status != "" && d.Status != status) {
			continue
		}
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].DisputeID < out[j].DisputeID
	})
	return out
}

func (r *Registry) GetEvidence(disputeID string) ([]Evidence, error) {
	d, err := r.load(disputeID)
	if err != nil {
		return nil, err
	}
	if d.Evidence == nil {
		return []Evidence{}, nil
	}
	return d.Evidence, nil
}

func (r *Registry) load(id string) (Dispute, error) {
	d, ok := r.store.Get(id)
	if !ok {
		return Dispute{}, core.Errorf(core.ErrUnknown, "dispute %s not found", id)
	}
	return d.clone(), nil
}

func (r *Registry) newAction(disputeID string, adminID int64, kind ActionType, notes string) Action {
	return Action{
		ActionID:   core.NewID(),
		DisputeID:  disputeID,
		AdminID:    adminID,
		ActionType: kind,
		Notes:      notes,
		ActionAt:   r.clock(),
	}
}

// recordAction writes a to the action log; extra carries the per-type
// fields.
func (r *Registry) recordAction(a Action, extra event.DisputeAction) {
	extra.ActionID = a.ActionID
	extra.DisputeID = a.DisputeID
	extra.AdminID = a.AdminID
	extra.ActionType = string(a.ActionType)
	extra.Notes = a.Notes
	r.record(event.DomainDisputeAction, extra)
}

func (r *Registry) record(domain event.Domain, p event.Payload) {
	if _, err := r.audit.Append(domain, p); err != nil {
		r.logger.Error().Err(err).
			Str("domain", string(domain)).
			Str("event", string(p.EventType())).
			Msg("dispute audit degraded")
	}
}

func (r *Registry) breach(check, disputeID string) {
	if r.metrics != nil {
		r.metrics.SLABreaches.WithLabelValues(check).Inc()
	}
	r.logger.Warn().Str("dispute_id", disputeID).Str("check", check).Msg("dispute sla breached")
}

func (r *Registry) transition(s Status) {
	if r.metrics != nil {
		r.metrics.DisputeTransitions.WithLabelValues(string(s)).Inc()
	}
}

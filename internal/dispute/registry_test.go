package dispute_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/dispute"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/testutil"
)

type fixture struct {
	clock *testutil.ManualClock
	log   *testutil.RecordingLog
	reg   *dispute.Registry
}

func newFixture() *fixture {
	clock := testutil.NewManualClock()
	log := testutil.NewRecordingLog()
	reg := dispute.NewRegistry(dispute.DefaultWindows(), log, zerolog.Nop(), nil).WithClock(clock.Now)
	return &fixture{clock: clock, log: log, reg: reg}
}

func (f *fixture) file(t *testing.T) dispute.Dispute {
	t.Helper()
	d, err := f.reg.FileDispute(dispute.FileRequest{
		SettlementID: "settle-1",
		ClaimantID:   1001,
		RespondentID: 2002,
		Reason:       "Fiat transfer never arrived",
	})
	require.NoError(t, err)
	return d
}

func evidence(disputeID string) dispute.EvidenceSubmission {
	return dispute.EvidenceSubmission{
		DisputeID:    disputeID,
		SubmitterID:  1001,
		EvidenceType: dispute.BankReceipt,
		StorageURL:   "s3://bucket/receipt.pdf",
		Hash:         "9f86d081884c7d659a2feaa0c55ad015",
	}
}

func decision(disputeID string) dispute.DecisionRequest {
	return dispute.DecisionRequest{
		DisputeID:      disputeID,
		AdminID:        7,
		Decision:       dispute.FavorClaimant,
		DecisionReason: "Bank receipt matches the settlement amount",
	}
}

func TestFileDispute(t *testing.T) {
	f := newFixture()
	d := f.file(t)

	assert.Equal(t, dispute.StatusAwaitingEvidence, d.Status)
	assert.Equal(t, d.OpenedAt.Add(30*time.Minute), d.EvidenceDeadline)
	assert.Equal(t, d.OpenedAt.Add(90*time.Minute), d.ReviewDeadline)
	assert.Equal(t, d.OpenedAt.Add(4*time.Hour), d.DecisionDeadline)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, dispute.ActionRequestEvidence, d.Actions[0].ActionType)
	assert.Equal(t, dispute.SystemActor, d.Actions[0].AdminID)

	assert.Equal(t, []event.Type{event.TypeDisputeFiled}, f.log.Types(event.DomainDispute))
	assert.Equal(t, []event.Type{event.TypeDisputeAction}, f.log.Types(event.DomainDisputeAction))
}

func TestFileDispute_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.reg.FileDispute(dispute.FileRequest{SettlementID: "s", Reason: "short"})
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = f.reg.FileDispute(dispute.FileRequest{SettlementID: "s", Reason: strings.Repeat("x", 2001)})
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = f.reg.FileDispute(dispute.FileRequest{Reason: "a valid reason here"})
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))
}

func TestSubmitEvidence_WindowEnforced(t *testing.T) {
	f := newFixture()
	d := f.file(t)

	ev, err := f.reg.SubmitEvidence(evidence(d.DisputeID))
	require.NoError(t, err)
	assert.Equal(t, d.DisputeID, ev.DisputeID)

	f.clock.Advance(30 * time.Minute)
	_, err = f.reg.SubmitEvidence(evidence(d.DisputeID))
	require.NoError(t, err, "the deadline instant itself is still inside the window")

	f.clock.Advance(time.Second)
	_, err = f.reg.SubmitEvidence(evidence(d.DisputeID))
	assert.True(t, errors.Is(err, core.ErrEvidenceWindowClosed))

	got, err := f.reg.GetDispute(d.DisputeID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EvidenceCount)
	assert.Equal(t, dispute.StatusAwaitingEvidence, got.Status)

	list, err := f.reg.GetEvidence(d.DisputeID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSubmitEvidence_Validation(t *testing.T) {
	f := newFixture()
	d := f.file(t)

	bad := evidence(d.DisputeID)
	bad.Hash = "abc"
	_, err := f.reg.SubmitEvidence(bad)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	bad = evidence(d.DisputeID)
	bad.EvidenceType = "selfie"
	_, err = f.reg.SubmitEvidence(bad)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	bad = evidence(d.DisputeID)
	bad.Notes = strings.Repeat("n", 1001)
	_, err = f.reg.SubmitEvidence(bad)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = f.reg.SubmitEvidence(evidence("unknown"))
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestStartReview_Windows(t *testing.T) {
	f := newFixture()
	d := f.file(t)

	_, err := f.reg.StartReview(d.DisputeID, 7)
	assert.True(t, errors.Is(err, core.ErrEvidenceWindowStillOpen))

	f.clock.Advance(30 * time.Minute)
	action, err := f.reg.StartReview(d.DisputeID, 7)
	require.NoError(t, err)
	assert.Equal(t, dispute.ActionReviewStart, action.ActionType)
	assert.Equal(t, "Review started. Evidence count: 0", action.Notes)

	got, _ := f.reg.GetDispute(d.DisputeID)
	assert.Equal(t, dispute.StatusUnderReview, got.Status)

	logged := f.log.Of(event.DomainDisputeAction)
	require.Len(t, logged, 2)
	count := logged[1].(event.DisputeAction).EvidenceCount
	require.NotNil(t, count)
	assert.Equal(t, 0, *count)

	late := f.file(t)
	f.clock.Advance(90*time.Minute + time.Second)
	_, err = f.reg.StartReview(late.DisputeID, 7)
	assert.True(t, errors.Is(err, core.ErrReviewDeadlinePassed))
}

func TestMakeDecision(t *testing.T) {
	f := newFixture()
	d := f.file(t)
	ev, err := f.reg.SubmitEvidence(evidence(d.DisputeID))
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)
	_, err = f.reg.StartReview(d.DisputeID, 7)
	require.NoError(t, err)

	amount := decimal.RequireFromString("1500000")
	req := decision(d.DisputeID)
	req.Decision = dispute.PartialFavor
	req.AwardedToClaimant = &amount
	req.EvidenceReviewed = []string{ev.EvidenceID}

	got, err := f.reg.MakeDecision(req)
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusResolved, got.Status)
	assert.Equal(t, dispute.PartialFavor, got.Decision)
	require.NotNil(t, got.DecisionAt)
	assert.Equal(t, f.clock.Now(), *got.DecisionAt)

	payloads := f.log.Of(event.DomainDispute)
	made := payloads[len(payloads)-1].(event.DecisionMade)
	assert.Equal(t, []string{ev.EvidenceID}, made.EvidenceReviewed)
	assert.True(t, made.AwardedToClaimant.Equal(amount))
	assert.Nil(t, made.AwardedToRespondent)

	_, err = f.reg.MakeDecision(decision(d.DisputeID))
	assert.True(t, errors.Is(err, core.ErrInvalidStatus), "resolved disputes cannot be decided again")
}

func TestMakeDecision_FromAwaitingEvidence(t *testing.T) {
	f := newFixture()
	d := f.file(t)

	got, err := f.reg.MakeDecision(decision(d.DisputeID))
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusResolved, got.Status)
}

func TestMakeDecision_DeadlinePassedThenEscalate(t *testing.T) {
	f := newFixture()
	d := f.file(t)
	f.clock.Advance(4*time.Hour + time.Second)

	_, err := f.reg.MakeDecision(decision(d.DisputeID))
	assert.True(t, errors.Is(err, core.ErrDecisionDeadlinePassed))

	action, err := f.reg.Escalate(d.DisputeID, 7, "decision SLA breached")
	require.NoError(t, err)
	assert.Equal(t, dispute.ActionEscalate, action.ActionType)
	assert.Equal(t, "decision SLA breached", action.Notes)

	got, _ := f.reg.GetDispute(d.DisputeID)
	assert.Equal(t, dispute.StatusEscalated, got.Status)

	esc := f.log.Of(event.DomainDispute)[1].(event.DisputeEscalated)
	assert.Equal(t, "awaiting_evidence", esc.PreviousStatus)
}

func TestMakeDecision_Validation(t *testing.T) {
	f := newFixture()
	d := f.file(t)

	req := decision(d.DisputeID)
	req.DecisionReason = "too short"
	_, err := f.reg.MakeDecision(req)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	req = decision(d.DisputeID)
	req.Decision = "coin_flip"
	_, err = f.reg.MakeDecision(req)
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = f.reg.MakeDecision(decision("unknown"))
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestEscalate_FromResolved(t *testing.T) {
	f := newFixture()
	d := f.file(t)
	_, err := f.reg.MakeDecision(decision(d.DisputeID))
	require.NoError(t, err)

	_, err = f.reg.Escalate(d.DisputeID, 7, "appeal")
	require.NoError(t, err)

	_, err = f.reg.Escalate("unknown", 7, "x")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestStartReview_ReopensClosedDispute(t *testing.T) {
	f := newFixture()
	d := f.file(t)
	_, err := f.reg.MakeDecision(decision(d.DisputeID))
	require.NoError(t, err)
	_, err = f.reg.Escalate(d.DisputeID, 7, "appeal")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	_, err = f.reg.StartReview(d.DisputeID, 8)
	require.NoError(t, err)
	got, _ := f.reg.GetDispute(d.DisputeID)
	assert.Equal(t, dispute.StatusUnderReview, got.Status)

	req := decision(d.DisputeID)
	req.Decision = dispute.FavorRespondent
	got, err = f.reg.MakeDecision(req)
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusResolved, got.Status)
	assert.Equal(t, dispute.FavorRespondent, got.Decision)
	assert.Equal(t, []event.Type{event.TypeDisputeFiled, event.TypeDecisionMade, event.TypeDisputeEscalated, event.TypeDecisionMade},
		f.log.Types(event.DomainDispute))
}

func TestListDisputes(t *testing.T) {
	f := newFixture()
	first := f.file(t)
	f.clock.Advance(time.Second)
	second := f.file(t)
	_, err := f.reg.Escalate(second.DisputeID, 7, "manual")
	require.NoError(t, err)

	all := f.reg.ListDisputes("")
	require.Len(t, all, 2)
	assert.Equal(t, first.DisputeID, all[0].DisputeID)

	escalated := f.reg.ListDisputes(dispute.StatusEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, second.DisputeID, escalated[0].DisputeID)

	_, err = dispute.ParseStatus("bogus")
	assert.Error(t, err)
}

// Property: once the evidence deadline has passed, SubmitEvidence fails with
// EvidenceWindowClosed; once the decision deadline has passed, MakeDecision
// fails with DecisionDeadlinePassed whatever the status.
func TestDeadlinesAlwaysEnforced(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("late evidence is refused", prop.ForAll(
		func(lateSeconds int) bool {
			f := newFixture()
			d, err := f.reg.FileDispute(dispute.FileRequest{SettlementID: "s", Reason: "a valid reason"})
			if err != nil {
				return false
			}
			f.clock.Advance(30*time.Minute + time.Duration(lateSeconds)*time.Second)
			_, err = f.reg.SubmitEvidence(evidence(d.DisputeID))
			return errors.Is(err, core.ErrEvidenceWindowClosed)
		},
		gen.IntRange(1, 100000),
	))

	properties.Property("late decisions are refused in any status", prop.ForAll(
		func(lateSeconds int, review, escalate bool) bool {
			f := newFixture()
			d, err := f.reg.FileDispute(dispute.FileRequest{SettlementID: "s", Reason: "a valid reason"})
			if err != nil {
				return false
			}
			if review {
				f.clock.Advance(45 * time.Minute)
				if _, err := f.reg.StartReview(d.DisputeID, 1); err != nil {
					return false
				}
			}
			if escalate {
				if _, err := f.reg.Escalate(d.DisputeID, 1, "x"); err != nil {
					return false
				}
			}
			f.clock.Set(d.DecisionDeadline.Add(time.Duration(lateSeconds) * time.Second))
			_, err = f.reg.MakeDecision(decision(d.DisputeID))
			return errors.Is(err, core.ErrDecisionDeadlinePassed)
		},
		gen.IntRange(1, 100000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

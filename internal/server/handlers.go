package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/award"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/dispute"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/partialfill"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/query"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/settlement"
)

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, core.Errorf(core.ErrInvalidRequest, "missing query parameter %s", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.Errorf(core.ErrInvalidRequest, "%s: %v", name, err)
	}
	return v, nil
}

// ============================================================================
// RFQ & quotes
// ============================================================================

func (s *Server) createRFQ(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req quote.CreateRFQRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rfq, err := s.deps.RFQs.Create(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rfq)
}

func (s *Server) listRFQs(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.writeJSON(w, http.StatusOK, s.deps.RFQs.List())
}

func (s *Server) getRFQ(w http.ResponseWriter, r *http.Request, p map[string]string) {
	rfq, err := s.deps.RFQs.Get(p["rfq_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rfq)
}

func (s *Server) cancelRFQ(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	rfq, err := s.deps.RFQs.Cancel(p["rfq_id"], body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rfq)
}

func (s *Server) submitQuote(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req quote.SubmitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.RFQID = p["rfq_id"]
	q, err := s.deps.Quotes.Submit(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) listQuotes(w http.ResponseWriter, r *http.Request, p map[string]string) {
	quotes, err := s.deps.Quotes.Eligible(p["rfq_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if quotes == nil {
		quotes = []quote.Quote{}
	}
	s.writeJSON(w, http.StatusOK, quotes)
}

// ============================================================================
// Award
// ============================================================================

func (s *Server) autoAward(w http.ResponseWriter, r *http.Request, p map[string]string) {
	res, err := s.deps.Awards.AutoAward(p["rfq_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) getAward(w http.ResponseWriter, r *http.Request, p map[string]string) {
	res, err := s.deps.Awards.Get(p["award_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAwards(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.writeJSON(w, http.StatusOK, s.deps.Awards.List())
}

// ============================================================================
// Settlement
// ============================================================================

func (s *Server) startSettlement(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var res award.Result
	if err := decode(r, &res); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := res.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Settlements.Start(res))
}

type submitEvidenceRequest struct {
	Evidence *settlement.Evidence `json:"evidence"`
}

func (s *Server) submitSettlementEvidence(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req submitEvidenceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Evidence == nil {
		s.writeError(w, r, core.Errorf(core.ErrInvalidRequest, "evidence is required"))
		return
	}
	// Structural problems never reach the registry and do not count as
	// attempts.
	if err := req.Evidence.CheckShape(); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Settlements.SubmitEvidence(p["settlement_id"], p["leg_id"], *req.Evidence)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type verifyLegRequest struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) verifyLeg(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req verifyLegRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Settlements.VerifyLeg(p["settlement_id"], p["leg_id"], req.Verified, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) checkDeadlines(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	changed := s.deps.Settlements.CheckDeadlines()
	if changed == nil {
		changed = []settlement.Record{}
	}
	s.writeJSON(w, http.StatusOK, changed)
}

func (s *Server) getSettlement(w http.ResponseWriter, r *http.Request, p map[string]string) {
	rec, err := s.deps.Settlements.Get(p["settlement_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listSettlements(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.writeJSON(w, http.StatusOK, s.deps.Settlements.List())
}

// ============================================================================
// Partial fill
// ============================================================================

func (s *Server) startPartialFill(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var res award.Result
	if err := decode(r, &res); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := res.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.PartialFills.Start(res))
}

func (s *Server) reallocate(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req partialfill.ReallocateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.PartialFills.Reallocate(p["rfq_id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) cancelPartialLeg(w http.ResponseWriter, r *http.Request, p map[string]string) {
	var req partialfill.CancelRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.PartialFills.CancelLeg(p["rfq_id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getPartialFill(w http.ResponseWriter, r *http.Request, p map[string]string) {
	rec, err := s.deps.PartialFills.Get(p["rfq_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listPartialFills(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.writeJSON(w, http.StatusOK, s.deps.PartialFills.List())
}

// ============================================================================
// Dispute
// ============================================================================

func (s *Server) fileDispute(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req dispute.FileRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	// The respondent may also be named in the query string.
	if req.RespondentID == 0 && r.URL.Query().Has("respondent_id") {
		id, err := queryInt64(r, "respondent_id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.RespondentID = id
	}
	d, err := s.deps.Disputes.FileDispute(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) submitDisputeEvidence(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var sub dispute.EvidenceSubmission
	if err := decode(r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.deps.Disputes.SubmitEvidence(sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

func (s *Server) startReview(w http.ResponseWriter, r *http.Request, p map[string]string) {
	adminID, err := queryInt64(r, "admin_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.deps.Disputes.StartReview(p["dispute_id"], adminID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, action)
}

func (s *Server) makeDecision(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req dispute.DecisionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Disputes.MakeDecision(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) escalateDispute(w http.ResponseWriter, r *http.Request, p map[string]string) {
	adminID, err := queryInt64(r, "admin_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.deps.Disputes.Escalate(p["dispute_id"], adminID, r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, action)
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request, p map[string]string) {
	d, err := s.deps.Disputes.GetDispute(p["dispute_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var status dispute.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := dispute.ParseStatus(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status = st
	}
	s.writeJSON(w, http.StatusOK, s.deps.Disputes.ListDisputes(status))
}

func (s *Server) getDisputeEvidence(w http.ResponseWriter, r *http.Request, p map[string]string) {
	ev, err := s.deps.Disputes.GetEvidence(p["dispute_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

// ============================================================================
// Events
// ============================================================================

func (s *Server) domain(p map[string]string) (event.Domain, error) {
	d, err := event.ParseDomain(p["domain"])
	if err != nil {
		return "", core.Errorf(core.ErrUnknown, "%v", err)
	}
	return d, nil
}

func (s *Server) replayEvents(w http.ResponseWriter, r *http.Request, p map[string]string) {
	d, err := s.domain(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 0
	filter := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		if k == "limit" {
			n, err := strconv.Atoi(vs[0])
			if err != nil || n < 0 {
				s.writeError(w, r, core.Errorf(core.ErrInvalidRequest, "limit must be a non-negative integer"))
				return
			}
			limit = n
			continue
		}
		filter[k] = vs[0]
	}
	resp, err := s.deps.Query.Replay(d, filter, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verifyEvents(w http.ResponseWriter, r *http.Request, p map[string]string) {
	d, err := s.domain(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.deps.Query.Verify(d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) mirrorStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	status, err := s.deps.Query.MirrorStatus(r.Context(), event.AllDomains())
	if err != nil {
		if errors.Is(err, query.ErrNoMirror) {
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "mirror_disabled", Message: err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

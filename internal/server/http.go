package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/award"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/dispute"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/partialfill"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/query"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/settlement"
)

// AuditLog is the event log as seen by the HTTP layer: access denials are
// appended to it and its degraded flag is echoed on every response.
type AuditLog interface {
	Append(domain event.Domain, payload event.Payload) (event.Envelope, error)
	Degraded() bool
}

// Deps holds everything the HTTP handlers call into.
type Deps struct {
	RFQs         *quote.RFQRegistry
	Quotes       *quote.Registry
	Awards       *award.Engine
	Settlements  *settlement.Registry
	PartialFills *partialfill.Registry
	Disputes     *dispute.Registry
	Query        *query.QueryService
	Audit        AuditLog
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Logger       zerolog.Logger

	EnforceRoles bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the JSON API on a grpc-gateway runtime mux. Routes are
// registered with HandlePath; there is no protobuf service behind them.
type Server struct {
	deps       Deps
	addr       string
	httpServer *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

// Handler builds the full HTTP handler: health probes plus every API route.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, action string
		h                       runtime.HandlerFunc
	}{
		{"POST", "/rfq", "rfq:create", s.createRFQ},
		{"GET", "/rfq", "rfq:view", s.listRFQs},
		{"GET", "/rfq/{rfq_id}", "rfq:view", s.getRFQ},
		{"POST", "/rfq/{rfq_id}/cancel", "rfq:cancel", s.cancelRFQ},
		{"POST", "/rfq/{rfq_id}/quotes", "quote:submit", s.submitQuote},
		{"GET", "/rfq/{rfq_id}/quotes", "quote:view", s.listQuotes},

		{"POST", "/award/{rfq_id}/auto", "award:execute", s.autoAward},
		{"GET", "/award", "award:view", s.listAwards},
		{"GET", "/award/{award_id}", "award:view", s.getAward},

		{"POST", "/settlement/start", "settlement:start", s.startSettlement},
		{"POST", "/settlement/{settlement_id}/legs/{leg_id}/evidence", "settlement:submit_evidence", s.submitSettlementEvidence},
		{"POST", "/settlement/{settlement_id}/legs/{leg_id}/verify", "settlement:verify", s.verifyLeg},
		{"POST", "/settlement/deadlines/check", "settlement:verify", s.checkDeadlines},
		{"GET", "/settlement", "settlement:view", s.listSettlements},
		{"GET", "/settlement/{settlement_id}", "settlement:view", s.getSettlement},

		{"POST", "/partial-fill/start", "partial_fill:reallocate", s.startPartialFill},
		{"POST", "/partial-fill/{rfq_id}/reallocate", "partial_fill:reallocate", s.reallocate},
		{"POST", "/partial-fill/{rfq_id}/cancel", "partial_fill:cancel", s.cancelPartialLeg},
		{"GET", "/partial-fill", "partial_fill:view", s.listPartialFills},
		{"GET", "/partial-fill/{rfq_id}", "partial_fill:view", s.getPartialFill},

		{"POST", "/dispute/file", "dispute:file", s.fileDispute},
		{"POST", "/dispute/evidence", "dispute:submit_evidence", s.submitDisputeEvidence},
		{"POST", "/dispute/review/{dispute_id}", "dispute:review", s.startReview},
		{"POST", "/dispute/decision", "dispute:decide", s.makeDecision},
		{"POST", "/dispute/escalate/{dispute_id}", "dispute:escalate", s.escalateDispute},
		{"GET", "/dispute", "dispute:list", s.listDisputes},
		{"GET", "/dispute/{dispute_id}", "dispute:get", s.getDispute},
		{"GET", "/dispute/{dispute_id}/evidence", "dispute:get_evidence", s.getDisputeEvidence},

		{"GET", "/events/{domain}", "audit:view", s.replayEvents},
		{"GET", "/events/{domain}/verify", "audit:view", s.verifyEvents},
		{"GET", "/mirror/status", "audit:view", s.mirrorStatus},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, s.wrap(rt.pattern, rt.action, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.deps.Health != nil {
		httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	}
	httpMux.Handle("/", trimTrailingSlash(mux))
	return httpMux, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  s.deps.ReadTimeout,
		WriteTimeout: s.deps.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// wrap applies the role check and records per-route metrics.
func (s *Server) wrap(route, action string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if s.authorize(rec, r, action) {
			h(rec, r, params)
		}
		if m := s.deps.Metrics; m != nil {
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		s.deps.Logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// trimTrailingSlash lets "/dispute/" and "/dispute" reach the same route.
func trimTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = strings.TrimRight(p, "/")
			r2.URL.RawPath = ""
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

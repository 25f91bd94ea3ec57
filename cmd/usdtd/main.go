package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/award"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/config"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/dispute"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/partialfill"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/query"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/server"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/settlement"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/stream"
)

func main() {
	configPath := flag.String("config", os.Getenv("USDT_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("usdtd", level).With().
		Str("service", cfg.ServiceName).
		Str("env", cfg.Env).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, level, logger); err != nil {
		logger.Fatal().Err(err).Msg("usdtd stopped")
	}
	logger.Info().Msg("usdtd shutdown complete")
}

func run(ctx context.Context, cfg *config.AppConfig, level zerolog.Level, logger zerolog.Logger) error {
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// --- Event log ---
	eventLog, err := persistence.NewEventLog(cfg.LogDir, core.SystemClock, component("eventlog"), metrics)
	if err != nil {
		return err
	}
	defer eventLog.Close()
	health := observability.NewHealthChecker(eventLog)

	// Sinks must be registered before the first append.
	var mirrorChan, publishChan <-chan event.Envelope
	if cfg.Postgres.DSN != "" {
		mirrorChan = eventLog.Subscribe("postgres_mirror", cfg.Fanout.Buffer)
	}
	if cfg.NATS.URL != "" {
		publishChan = eventLog.Subscribe("nats_publisher", cfg.Fanout.Buffer)
	}

	// --- Registries ---
	maxSize, err := cfg.Settlement.MaxEvidenceSize()
	if err != nil {
		return fmt.Errorf("settlement.max_evidence_size_mb: %w", err)
	}
	exporter := persistence.NewWorkbookExporter(cfg.ArtefactDir)

	rfqs := quote.NewRFQRegistry(eventLog, component("rfq"))
	quotes := quote.NewRegistry(rfqs, quote.RateLimit{
		Window: cfg.Quote.RateLimitWindow,
		Burst:  cfg.Quote.RateLimitBurst,
	}, eventLog, component("quote"), metrics)
	awards := award.NewEngine(rfqs, quotes, eventLog, exporter, cfg.LogDir, component("award"), metrics)
	settlements := settlement.NewRegistry(settlement.Policy{
		LegDeadline:           cfg.Settlement.LegDeadline,
		MaxEvidenceSizeMB:     maxSize,
		MinHashLength:         cfg.Settlement.MinHashLength,
		EscalateAfterAttempts: cfg.Settlement.EscalateAfterAttempts,
	}, eventLog, component("settlement"), metrics)
	partialFills := partialfill.NewRegistry(eventLog, exporter, component("partialfill"), metrics)
	disputes := dispute.NewRegistry(dispute.Windows{
		Evidence: cfg.Dispute.EvidenceWindow,
		Review:   cfg.Dispute.ReviewWindow,
		Decision: cfg.Dispute.DecisionWindow,
	}, eventLog, component("dispute"), metrics)

	g, gctx := errgroup.WithContext(ctx)

	// --- Postgres mirror (optional) ---
	var mirror *query.MirrorReader
	if cfg.Postgres.DSN != "" {
		db, err := openPostgres(ctx, cfg.Postgres, component("migrate"))
		if err != nil {
			return err
		}
		defer db.Close()
		mirror = query.NewMirrorReader(db)

		writer := persistence.NewEventLogWriter(db)
		n, err := persistence.Backfill(ctx, writer, cfg.LogDir, event.AllDomains(), cfg.Postgres.BatchSize)
		if err != nil {
			logger.Error().Err(err).Int("mirrored", n).Msg("mirror backfill incomplete")
		} else if n > 0 {
			logger.Info().Int("mirrored", n).Msg("mirror backfill done")
		}

		worker := persistence.NewMirrorWorker(writer, mirrorChan, cfg.Postgres.BatchSize, cfg.Postgres.FlushTimeout, metrics, component("mirror"))
		g.Go(func() error { return worker.Run(gctx) })
	}

	// --- NATS (optional) ---
	if cfg.NATS.URL != "" {
		natsLogger := component("nats")
		nc, js, err := stream.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		defer drainNATS(nc, natsLogger)

		if err := stream.EnsureStreams(ctx, js, natsLogger); err != nil {
			return err
		}

		publisher := stream.NewOutboundPublisher(js, publishChan, metrics, natsLogger)
		g.Go(func() error { return publisher.Run(gctx) })

		subscriber := stream.NewQuoteSubscriber(quotes, natsLogger)
		if err := subscriber.Subscribe(ctx, js); err != nil {
			return err
		}
		defer subscriber.Stop()
	}

	// --- Servers ---
	httpServer := server.NewServer(cfg.HTTP.Addr, server.Deps{
		RFQs:         rfqs,
		Quotes:       quotes,
		Awards:       awards,
		Settlements:  settlements,
		PartialFills: partialFills,
		Disputes:     disputes,
		Query:        query.NewQueryService(cfg.LogDir, mirror),
		Audit:        eventLog,
		Health:       health,
		Metrics:      metrics,
		Logger:       component("http"),
		EnforceRoles: cfg.Auth.EnforceRoles,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	})
	grpcServer := server.NewGRPCServer(cfg.GRPC.Addr, component("grpc"))

	g.Go(func() error { return httpServer.Start(gctx) })
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, registry, component("metrics")) })

	if cfg.Settlement.SweepInterval > 0 {
		g.Go(func() error { return settlements.RunSweeper(gctx, cfg.Settlement.SweepInterval) })
	}

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Str("http", cfg.HTTP.Addr).
		Str("grpc", cfg.GRPC.Addr).
		Str("metrics", cfg.Metrics.Addr).
		Str("log_dir", cfg.LogDir).
		Bool("postgres_mirror", mirror != nil).
		Bool("nats", cfg.NATS.URL != "").
		Msg("usdtd ready")

	<-gctx.Done()
	health.SetReady(false)
	grpcServer.SetServing(false)
	logger.Info().Msg("shutting down")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openPostgres(ctx context.Context, pg config.PostgresConfig, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", pg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, pg.MigrationsDir, logger).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func drainNATS(nc *nats.Conn, logger zerolog.Logger) {
	if err := nc.Drain(); err != nil {
		logger.Warn().Err(err).Msg("nats drain")
		nc.Close()
	}
}

package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
)

// MirrorWorker drains an event log sink and batch-writes to Postgres.
// It flushes when the batch is full or the flush timeout expires, and
// retries a failed batch with exponential backoff until ctx is done.
type MirrorWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewMirrorWorker(
	writer *EventLogWriter,
	inputChan <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *MirrorWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &MirrorWorker{
		writer:         writer,
		inputChan:      inputChan,
		batchSize:      batchSize,
		flushTimeout:   flushTimeout,
		metrics:        metrics,
		logger:         logger,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
}

// WithBackoff overrides the retry backoff bounds.
func (mw *MirrorWorker) WithBackoff(initial, max time.Duration) *MirrorWorker {
	mw.initialBackoff = initial
	mw.maxBackoff = max
	return mw
}

// Run blocks until ctx is cancelled or the input channel is closed.
func (mw *MirrorWorker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, mw.batchSize)

	timer := time.NewTimer(mw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := mw.flush(context.Background(), batch); err != nil {
					mw.logger.Error().Err(err).Int("events", len(batch)).Msg("final mirror flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-mw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := mw.flush(context.Background(), batch); err != nil {
						mw.logger.Error().Err(err).Int("events", len(batch)).Msg("final mirror flush failed")
						return err
					}
				}
				return nil
			}

			row, err := RowFromEnvelope(env)
			if err != nil {
				mw.logger.Error().Err(err).Msg("skipping unmirrorable event")
				continue
			}
			batch = append(batch, row)

			if len(batch) >= mw.batchSize {
				if err := mw.flushWithRetry(ctx, batch); err != nil {
					mw.logger.Error().Err(err).Msg("mirror batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(mw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := mw.flushWithRetry(ctx, batch); err != nil {
					mw.logger.Error().Err(err).Msg("mirror timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(mw.flushTimeout)
		}
	}
}

func (mw *MirrorWorker) flushWithRetry(ctx context.Context, rows []EventRow) error {
	backoff := mw.initialBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			mw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(rows)).
				Msg("mirror retry")
			select {
			case <-ctx.Done():
				if err := mw.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > mw.maxBackoff {
				backoff = mw.maxBackoff
			}
		}

		err := mw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				mw.logger.Info().Int("retries", attempt).Msg("mirror flush succeeded")
			}
			return nil
		}

		if mw.metrics != nil {
			mw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (mw *MirrorWorker) flush(ctx context.Context, rows []EventRow) error {
	start := time.Now()

	tx, err := mw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if mw.metrics != nil {
			mw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := mw.writer.WriteEventBatch(ctx, tx, rows); err != nil {
		if mw.metrics != nil {
			mw.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if mw.metrics != nil {
			mw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if mw.metrics != nil {
		mw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		mw.metrics.PersistBatchSize.Observe(float64(len(rows)))
		mw.metrics.PersistEventsWritten.Add(float64(len(rows)))
	}
	return nil
}

// Backfill mirrors lines already on disk that Postgres has not seen, so a
// restart after downtime closes the gap left by dropped fan-out events.
func Backfill(ctx context.Context, writer *EventLogWriter, dir string, domains []event.Domain, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	total := 0
	for _, domain := range domains {
		last, err := writer.LastSequence(ctx, domain)
		if err != nil {
			return total, err
		}

		batch := make([]EventRow, 0, batchSize)
		write := func() error {
			if len(batch) == 0 {
				return nil
			}
			tx, err := writer.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			if err := writer.WriteEventBatch(ctx, tx, batch); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
			return nil
		}

		var writeErr error
		scanErr := ScanLog(LogPath(dir, domain), func(env event.Envelope, _ []byte, err error) bool {
			if err != nil || env.Sequence <= last {
				return true
			}
			env.Domain = domain
			row, err := RowFromEnvelope(env)
			if err != nil {
				return true
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if writeErr = write(); writeErr != nil {
					return false
				}
			}
			return true
		})
		if scanErr != nil {
			return total, scanErr
		}
		if writeErr != nil {
			return total, fmt.Errorf("backfill %s: %w", domain, writeErr)
		}
		if err := write(); err != nil {
			return total, fmt.Errorf("backfill %s: %w", domain, err)
		}
	}
	return total, nil
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
)

// EventLogWriter mirrors event log lines into Postgres with multi-row
// INSERTs. Rows are keyed by (domain, sequence) so replays are idempotent.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events.
type EventRow struct {
	Domain     string
	Sequence   int64
	Event      string
	Hash       string
	PrevHash   string
	Payload    []byte // JSON object of the payload fields
	RecordedAt time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// DB returns the underlying handle.
func (w *EventLogWriter) DB() *sql.DB { return w.db }

// RowFromEnvelope converts a log line into its mirror row.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Fields)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload %s/%d: %w", env.Domain, env.Sequence, err)
	}
	return EventRow{
		Domain:     string(env.Domain),
		Sequence:   env.Sequence,
		Event:      string(env.Event),
		Hash:       env.Hash,
		PrevHash:   env.PrevHash,
		Payload:    payload,
		RecordedAt: env.Timestamp,
	}, nil
}

// WriteEventBatch inserts rows inside tx.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(domain, sequence, event, hash, prev_hash, payload, recorded_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Domain, r.Sequence, r.Event, r.Hash, r.PrevHash, r.Payload, r.RecordedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (domain, sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest mirrored sequence for domain, 0 if none.
func (w *EventLogWriter) LastSequence(ctx context.Context, domain event.Domain) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.events WHERE domain = $1`, string(domain),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last mirrored sequence for %s: %w", domain, err)
	}
	return seq.Int64, nil
}

package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
)

// ErrNoMirror is returned by MirrorStatus when Postgres is not configured.
var ErrNoMirror = errors.New("postgres mirror not configured")

// MirrorReader reads the event_log.events mirror.
type MirrorReader struct {
	db *sql.DB
}

func NewMirrorReader(db *sql.DB) *MirrorReader {
	return &MirrorReader{db: db}
}

func (m *MirrorReader) lastSequence(ctx context.Context, domain event.Domain) (int64, error) {
	var seq sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.events WHERE domain = $1`, string(domain),
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// chainBreaks returns up to 10 mirrored sequences whose prev_hash is not
// the hash of the mirrored row before them.
func (m *MirrorReader) chainBreaks(ctx context.Context, domain event.Domain) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2
		  ON e2.domain = e1.domain AND e2.sequence = e1.sequence - 1
		WHERE e1.domain = $1 AND e1.prev_hash != e2.hash
		ORDER BY e1.sequence
		LIMIT 10
	`, string(domain))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

// MirrorStatus reports, per domain, how far the mirror trails the file and
// whether the mirrored chain links up.
func (qs *QueryService) MirrorStatus(ctx context.Context, domains []event.Domain) ([]MirrorStatus, error) {
	if qs.mirror == nil {
		return nil, ErrNoMirror
	}
	out := make([]MirrorStatus, 0, len(domains))
	for _, d := range domains {
		fileSeq, err := qs.fileSequence(d)
		if err != nil {
			return nil, err
		}
		mirrorSeq, err := qs.mirror.lastSequence(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("mirror sequence %s: %w", d, err)
		}
		breaks, err := qs.mirror.chainBreaks(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("mirror chain %s: %w", d, err)
		}
		out = append(out, MirrorStatus{
			Domain:          d,
			FileSequence:    fileSeq,
			MirrorSequence:  mirrorSeq,
			Lag:             fileSeq - mirrorSeq,
			HashChainBreaks: breaks,
		})
	}
	return out, nil
}

func (qs *QueryService) fileSequence(domain event.Domain) (int64, error) {
	var last int64
	err := persistence.ScanLog(persistence.LogPath(qs.dir, domain), func(env event.Envelope, _ []byte, err error) bool {
		if err == nil && env.Sequence > last {
			last = env.Sequence
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("file sequence %s: %w", domain, err)
	}
	return last, nil
}

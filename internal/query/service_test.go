package query_test

import (
	"context"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/query"
)

func clock() time.Time {
	return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
}

// seed writes three rfq status lines and closes the log.
func seed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	l, err := persistence.NewEventLog(dir, clock, zerolog.Nop(), nil)
	require.NoError(t, err)
	for _, p := range []event.RFQStatusChanged{
		{RFQID: "r1", Status: "awarded"},
		{RFQID: "r2", Status: "cancelled", Reason: "customer"},
		{RFQID: "r1", Status: "closed"},
	} {
		_, err := l.Append(event.DomainRFQ, p)
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())
	return dir
}

func rewrite(t *testing.T, path string, fn func(lines []string) []string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines = fn(lines)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// ============================================================================
// Replay
// ============================================================================

func TestReplay_FiltersInSequenceOrder(t *testing.T) {
	dir := seed(t)
	qs := query.NewQueryService(dir, nil)

	resp, err := qs.Replay(event.DomainRFQ, map[string]string{"rfq_id": "r1"}, 0)
	require.NoError(t, err)

	require.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(1), resp.Events[0].Sequence)
	assert.Equal(t, int64(3), resp.Events[1].Sequence)
	assert.Equal(t, event.DomainRFQ, resp.Events[0].Domain)
	assert.Equal(t, "closed", resp.Events[1].Field("status"))
}

func TestReplay_EventAndSequenceFilters(t *testing.T) {
	qs := query.NewQueryService(seed(t), nil)

	resp, err := qs.Replay(event.DomainRFQ, map[string]string{"event": "rfq_status_changed", "sequence": "2"}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "r2", resp.Events[0].Field("rfq_id"))

	resp, err = qs.Replay(event.DomainRFQ, map[string]string{"reason": "customer"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count, "absent fields never match")
}

func TestReplay_Limit(t *testing.T) {
	qs := query.NewQueryService(seed(t), nil)

	resp, err := qs.Replay(event.DomainRFQ, nil, 2)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(2), resp.Events[1].Sequence)
}

func TestReplay_SkipsMalformedLines(t *testing.T) {
	dir := seed(t)
	path := persistence.LogPath(dir, event.DomainRFQ)
	rewrite(t, path, func(lines []string) []string {
		return append([]string{lines[0], "{not json"}, lines[1:]...)
	})

	resp, err := query.NewQueryService(dir, nil).Replay(event.DomainRFQ, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, 1, resp.Skipped)
}

func TestReplay_MissingDomainIsEmpty(t *testing.T) {
	resp, err := query.NewQueryService(t.TempDir(), nil).Replay(event.DomainDispute, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Events)
}

// ============================================================================
// Verify
// ============================================================================

func TestVerify_IntactChain(t *testing.T) {
	report, err := query.NewQueryService(seed(t), nil).Verify(event.DomainRFQ)
	require.NoError(t, err)

	assert.True(t, report.IsHealthy)
	assert.Equal(t, int64(3), report.Checked)
	assert.Equal(t, int64(3), report.LastSequence)
	assert.Nil(t, report.FirstBreak)
}

func TestVerify_ResumedLogStaysValid(t *testing.T) {
	dir := seed(t)
	l, err := persistence.NewEventLog(dir, clock, zerolog.Nop(), nil)
	require.NoError(t, err)
	_, err = l.Append(event.DomainRFQ, event.RFQStatusChanged{RFQID: "r3", Status: "awarded"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	report, err := query.NewQueryService(dir, nil).Verify(event.DomainRFQ)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.Equal(t, int64(4), report.LastSequence)
}

func TestVerify_DetectsEditedBody(t *testing.T) {
	dir := seed(t)
	rewrite(t, persistence.LogPath(dir, event.DomainRFQ), func(lines []string) []string {
		lines[1] = strings.Replace(lines[1], `"r2"`, `"r9"`, 1)
		return lines
	})

	report, err := query.NewQueryService(dir, nil).Verify(event.DomainRFQ)
	require.NoError(t, err)

	assert.False(t, report.IsHealthy)
	require.NotNil(t, report.FirstBreak)
	assert.Equal(t, int64(2), report.FirstBreak.Sequence)
	assert.Equal(t, 2, report.FirstBreak.Line)
	assert.Contains(t, report.FirstBreak.Reason, "hash_chain")
	assert.Equal(t, int64(1), report.Checked)
}

func TestVerify_DetectsDeletedLine(t *testing.T) {
	dir := seed(t)
	rewrite(t, persistence.LogPath(dir, event.DomainRFQ), func(lines []string) []string {
		return []string{lines[0], lines[2]}
	})

	report, err := query.NewQueryService(dir, nil).Verify(event.DomainRFQ)
	require.NoError(t, err)

	assert.False(t, report.IsHealthy)
	require.NotNil(t, report.FirstBreak)
	assert.Equal(t, int64(3), report.FirstBreak.Sequence)
	assert.Contains(t, report.FirstBreak.Reason, "follows")
}

func TestVerify_MalformedLineBreaksChain(t *testing.T) {
	dir := seed(t)
	rewrite(t, persistence.LogPath(dir, event.DomainRFQ), func(lines []string) []string {
		return append(lines, "garbage")
	})

	report, err := query.NewQueryService(dir, nil).Verify(event.DomainRFQ)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, int64(4), report.FirstBreak.Sequence)
	assert.Equal(t, 4, report.FirstBreak.Line)
}

// ============================================================================
// Mirror status
// ============================================================================

func TestMirrorStatus_NotConfigured(t *testing.T) {
	_, err := query.NewQueryService(t.TempDir(), nil).MirrorStatus(context.Background(), event.AllDomains())
	assert.ErrorIs(t, err, query.ErrNoMirror)
}

func TestMirrorStatus_ReportsLagAndBreaks(t *testing.T) {
	dir := seed(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(sequence) FROM event_log.events WHERE domain = $1`)).
		WithArgs("rfq").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(2)))
	mock.ExpectQuery(`SELECT e1.sequence`).
		WithArgs("rfq").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(2)))

	qs := query.NewQueryService(dir, query.NewMirrorReader(db))
	status, err := qs.MirrorStatus(context.Background(), []event.Domain{event.DomainRFQ})
	require.NoError(t, err)

	require.Len(t, status, 1)
	assert.Equal(t, int64(3), status[0].FileSequence)
	assert.Equal(t, int64(2), status[0].MirrorSequence)
	assert.Equal(t, int64(1), status[0].Lag)
	assert.Equal(t, []int64{2}, status[0].HashChainBreaks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package persistence_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/testutil"
)

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func TestIntegration_MirrorRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, persistence.NewMigrator(db, migrationsDir(), zerolog.Nop()).Up(ctx))

	l, _ := newLog(t, t.TempDir())
	sinkCh := l.Subscribe("mirror", 16)
	writer := persistence.NewEventLogWriter(db)
	worker := persistence.NewMirrorWorker(writer, sinkCh, 10, 10*time.Millisecond, nil, zerolog.Nop())

	_, err := l.Append(event.DomainAward, event.RFQStatusChanged{RFQID: "r1", Status: "awarded"})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, worker.Run(ctx))

	seq, err := writer.LastSequence(ctx, event.DomainAward)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

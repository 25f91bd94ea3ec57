package quote_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/testutil"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	clock  *testutil.ManualClock
	log    *testutil.RecordingLog
	rfqs   *quote.RFQRegistry
	quotes *quote.Registry
}

func newFixture() *fixture {
	clock := testutil.NewManualClock()
	log := testutil.NewRecordingLog()
	rfqs := quote.NewRFQRegistry(log, zerolog.Nop()).WithClock(clock.Now)
	quotes := quote.NewRegistry(rfqs, quote.DefaultRateLimit(), log, zerolog.Nop(), nil).WithClock(clock.Now)
	return &fixture{clock: clock, log: log, rfqs: rfqs, quotes: quotes}
}

func (f *fixture) openRFQ(t *testing.T, amount string) quote.RFQ {
	t.Helper()
	rfq, err := f.rfqs.Create(quote.CreateRFQRequest{
		CustomerID: "cust-001",
		RFQType:    quote.RFQBuy,
		Network:    quote.NetworkTRC20,
		Amount:     d(amount),
		ExpiresAt:  f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return rfq
}

// ============================================================================
// RFQ registry
// ============================================================================

func TestRFQ_CreateValidates(t *testing.T) {
	f := newFixture()
	_, err := f.rfqs.Create(quote.CreateRFQRequest{
		CustomerID: "cust-001", RFQType: "hold", Network: quote.NetworkTRC20,
		Amount: d("1"), ExpiresAt: f.clock.Now().Add(time.Hour),
	})
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.rfqs.Create(quote.CreateRFQRequest{
		CustomerID: "cust-001", RFQType: quote.RFQBuy, Network: quote.NetworkTRC20,
		Amount: d("1"), ExpiresAt: f.clock.Now(),
	})
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestRFQ_CreateRecordsCustomer(t *testing.T) {
	f := newFixture()
	rfq := f.openRFQ(t, "100")

	entries := f.log.Of(event.DomainRFQ)
	require.Len(t, entries, 1)
	created, ok := entries[0].(event.RFQCreated)
	require.True(t, ok)
	assert.Equal(t, rfq.RFQID, created.RFQID)
	assert.Equal(t, "cust-001", created.CustomerID)
	assert.True(t, created.Amount.Equal(d("100")))
}

func TestRFQ_ExpiresLazily(t *testing.T) {
	f := newFixture()
	rfq := f.openRFQ(t, "100")
	f.clock.Advance(time.Hour)

	got, err := f.rfqs.Get(rfq.RFQID)
	require.NoError(t, err)
	assert.Equal(t, quote.RFQExpired, got.Status)

	_, err = f.rfqs.Cancel(rfq.RFQID, "late")
	assert.True(t, errors.Is(err, core.ErrInvalidStatus))
}

func TestRFQ_GetUnknown(t *testing.T) {
	f := newFixture()
	_, err := f.rfqs.Get("nope")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

// ============================================================================
// Quote submission
// ============================================================================

func TestSubmit_RateLimitedPerProviderAndRFQ(t *testing.T) {
	f := newFixture()
	rfq := f.openRFQ(t, "1000")

	_, err := f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 7, UnitPrice: d("610000"), Capacity: d("500")})
	require.NoError(t, err)

	rejected, err := f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 7, UnitPrice: d("609000"), Capacity: d("500")})
	assert.True(t, errors.Is(err, core.ErrRateLimited))
	assert.Equal(t, quote.ReasonRateLimited, rejected.Reason)
	assert.False(t, rejected.Accepted)

	// Another provider is unaffected.
	_, err = f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 8, UnitPrice: d("609000"), Capacity: d("500")})
	require.NoError(t, err)

	// The window reopens once 45s have passed.
	f.clock.Advance(46 * time.Second)
	_, err = f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 7, UnitPrice: d("608000"), Capacity: d("500")})
	require.NoError(t, err)

	assert.Len(t, f.quotes.List(rfq.RFQID), 4)
	eligible, err := f.quotes.Eligible(rfq.RFQID)
	require.NoError(t, err)
	assert.Len(t, eligible, 3, "rate-limited submission is not a bid")
}

func TestSubmit_ClosedAndExpired(t *testing.T) {
	f := newFixture()
	closed := f.openRFQ(t, "100")
	_, err := f.rfqs.Cancel(closed.RFQID, "customer request")
	require.NoError(t, err)

	q, err := f.quotes.Submit(quote.SubmitRequest{RFQID: closed.RFQID, ProviderID: 1, UnitPrice: d("1"), Capacity: d("10")})
	assert.True(t, errors.Is(err, core.ErrRFQClosed))
	assert.Equal(t, quote.ReasonRFQClosed, q.Reason)

	expired := f.openRFQ(t, "100")
	f.clock.Advance(2 * time.Hour)
	q, err = f.quotes.Submit(quote.SubmitRequest{RFQID: expired.RFQID, ProviderID: 1, UnitPrice: d("1"), Capacity: d("10")})
	assert.True(t, errors.Is(err, core.ErrRFQExpired))
	assert.Equal(t, quote.ReasonRFQExpired, q.Reason)
}

func TestSubmit_CapacityExceedsAmount(t *testing.T) {
	f := newFixture()
	rfq := f.openRFQ(t, "100")
	_, err := f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 1, UnitPrice: d("1"), Capacity: d("100.01")})
	assert.True(t, errors.Is(err, core.ErrCapacityExceedsAmount))
	assert.Empty(t, f.quotes.List(rfq.RFQID), "oversized capacity is refused without a record")
}

// ============================================================================
// MarkAwards
// ============================================================================

func TestMarkAwards_KeepsSpecificRejectionReason(t *testing.T) {
	f := newFixture()
	rfq := f.openRFQ(t, "1000")
	win, err := f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 1, UnitPrice: d("1"), Capacity: d("1000")})
	require.NoError(t, err)
	lose, err := f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 2, UnitPrice: d("2"), Capacity: d("1000")})
	require.NoError(t, err)
	_, err = f.quotes.Submit(quote.SubmitRequest{RFQID: rfq.RFQID, ProviderID: 2, UnitPrice: d("2"), Capacity: d("1000")})
	require.Error(t, err)

	require.NoError(t, f.quotes.MarkAwards(rfq.RFQID, map[string]decimal.Decimal{win.QuoteID: d("1000")}))

	byID := map[string]quote.Quote{}
	reasons := []string{}
	for _, q := range f.quotes.List(rfq.RFQID) {
		byID[q.QuoteID] = q
		reasons = append(reasons, q.Reason)
	}
	assert.True(t, byID[win.QuoteID].Accepted)
	assert.True(t, byID[win.QuoteID].AwardedAmount.Equal(d("1000")))
	assert.False(t, byID[lose.QuoteID].Accepted)
	assert.Equal(t, quote.ReasonNotSelected, byID[lose.QuoteID].Reason)
	assert.Contains(t, reasons, quote.ReasonRateLimited)

	assert.Contains(t, f.log.Types(event.DomainQuote), event.TypeQuoteUpdated)
}

func TestMarkAwards_UnknownQuote(t *testing.T) {
	f := newFixture()
	rfq := f.openRFQ(t, "1000")
	err := f.quotes.MarkAwards(rfq.RFQID, map[string]decimal.Decimal{"ghost": d("1")})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophia-ai/sophia/pkg/models"
)

func newTestLedger(t *testing.T) *SQLLedger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger_test.db")
	l, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndRecords(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := models.UsageRecord{
		Timestamp: now,
		Model:     "llama3.1-8b-instruct",
		Tokens:    150,
		Cost:      0.0000105,
		LatencyMs: 420,
		UserID:    "u1",
		SessionID: "s1",
	}
	require.NoError(t, l.Append(ctx, rec))

	records, err := l.Records(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.NotZero(t, got.ID, "expected id to be assigned")
	assert.True(t, got.Timestamp.Equal(now), "expected timestamp %v, got %v", now, got.Timestamp)
	assert.Equal(t, 150, got.Tokens)
	assert.EqualValues(t, 420, got.LatencyMs)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "s1", got.SessionID)
}

func TestOptionalIdentifiers(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: now, Model: "m", Tokens: 1}))
	records, err := l.Records(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].UserID)
	assert.Empty(t, records[0].SessionID)
}

func TestStatsWindowAndGrouping(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []models.UsageRecord{
		{Timestamp: now.Add(-1 * time.Hour), Model: "a", Tokens: 100, Cost: 0.1, LatencyMs: 100, UserID: "u1"},
		{Timestamp: now.Add(-2 * time.Hour), Model: "a", Tokens: 300, Cost: 0.3, LatencyMs: 300, UserID: "u2"},
		{Timestamp: now.Add(-3 * time.Hour), Model: "a", Tokens: 50, Cost: 0.05, LatencyMs: 200, UserID: "u1"},
		{Timestamp: now.Add(-3 * time.Hour), Model: "a", Tokens: 50, Cost: 0.05, LatencyMs: 200},
		{Timestamp: now.Add(-24 * time.Hour), Model: "b", Tokens: 1000, Cost: 1, LatencyMs: 50},
		// Outside the window.
		{Timestamp: now.Add(-10 * 24 * time.Hour), Model: "a", Tokens: 9999, Cost: 9, LatencyMs: 1},
		{Timestamp: now.Add(-8 * 24 * time.Hour), Model: "c", Tokens: 9999, Cost: 9, LatencyMs: 1},
	}
	for _, r := range recs {
		require.NoError(t, l.Append(ctx, r))
	}

	stats, err := l.Stats(ctx, now.Add(-7*24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.NotContains(t, stats, "c", "model c is outside the window")

	a := stats["a"]
	assert.Equal(t, 4, a.Requests)
	assert.EqualValues(t, 500, a.Tokens)
	assert.InDelta(t, 0.5, a.Cost, 1e-9)
	assert.InDelta(t, 200, a.AvgLatencyMs, 1e-9)
	assert.Equal(t, 2, a.UniqueUsers)
	assert.Equal(t, 0, stats["b"].UniqueUsers)
}

func TestStatsEmpty(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now()
	stats, err := l.Stats(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestUserTotals(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	for _, rec := range []models.UsageRecord{
		{Timestamp: now, Model: "a", Tokens: 100, Cost: 0.25, UserID: "u1"},
		{Timestamp: now, Model: "b", Tokens: 200, Cost: 0.50, UserID: "u1"},
		{Timestamp: now, Model: "a", Tokens: 400, Cost: 1.00, UserID: "u2"},
		{Timestamp: now.Add(-48 * time.Hour), Model: "a", Tokens: 800, Cost: 2.00, UserID: "u1"},
	} {
		require.NoError(t, l.Append(ctx, rec))
	}

	total, err := l.UserTotals(ctx, "u1", "", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 300, total.Tokens)
	assert.InDelta(t, 0.75, total.Cost, 1e-9)

	total, err = l.UserTotals(ctx, "u1", "a", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 100, total.Tokens)

	total, err = l.UserTotals(ctx, "nobody", "", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total.Tokens)
	assert.Zero(t, total.Cost)
}

func TestUserTotalsAnonymous(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: now, Model: "a", Tokens: 70, Cost: 0.1}))
	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: now, Model: "b", Tokens: 30, Cost: 0.2}))
	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: now, Model: "a", Tokens: 999, UserID: "u1"}))

	total, err := l.UserTotals(ctx, "", "", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 100, total.Tokens, "empty user id should sum rows stored without a user")
	assert.InDelta(t, 0.3, total.Cost, 1e-9)

	total, err = l.UserTotals(ctx, "", "a", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 70, total.Tokens)
}

func TestDailyCost(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: day1, Model: "a", Cost: 1}))
	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: day1.Add(time.Hour), Model: "b", Cost: 2}))
	require.NoError(t, l.Append(ctx, models.UsageRecord{Timestamp: day2, Model: "a", Cost: 4}))

	days, err := l.DailyCost(ctx, day1.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.DailyCost{
		{Day: "2026-03-01", Cost: 3},
		{Day: "2026-03-02", Cost: 4},
	}, days)
}

func TestConcurrentAppends(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Append(ctx, models.UsageRecord{
				Timestamp: now, Model: "a", Tokens: 10, UserID: fmt.Sprintf("u%d", i%4),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := l.Stats(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 40, stats["a"].Requests)
	assert.EqualValues(t, 400, stats["a"].Tokens)
	assert.Equal(t, 4, stats["a"].UniqueUsers)
}

func TestMigrationIdempotentAndDurable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	now := time.Now()

	l1, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, l1.Append(context.Background(), models.UsageRecord{Timestamp: now, Model: "a", Tokens: 7}))
	_ = l1.Close()

	l2, err := New(dbPath)
	require.NoError(t, err, "second New() failed")
	defer l2.Close()

	records, err := l2.Records(context.Background(), now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1, "record should survive reopen")
	assert.Equal(t, 7, records[0].Tokens)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y >= ? AND z = ?`
	assert.Equal(t, q, rebind(DriverSQLite, q))
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y >= $2 AND z = $3`, rebind(DriverPostgres, q))
}

package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sophia-ai/sophia/pkg/ledger"
	"github.com/sophia-ai/sophia/pkg/models"
)

const scout = "llama-4-scout-17b-16e-instruct"

func setup(t *testing.T) (ledger.Ledger, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	l, err := ledger.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, context.Background()
}

func record(t *testing.T, l ledger.Ledger, rec models.UsageRecord) {
	t.Helper()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	require.NoError(t, l.Append(context.Background(), rec))
}

func TestCheckUnderBudget(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{UserID: "u1", Model: scout, Tokens: 150, Cost: 0.01})

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	assert.NoError(t, e.Check(ctx, "u1", scout))
}

func TestCheckTokensExceeded(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{UserID: "u1", Model: scout, Tokens: 1100})

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	assert.ErrorIs(t, e.Check(ctx, "u1", scout), ErrBudgetExceeded)
}

func TestCheckCostExceeded(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{UserID: "u1", Model: "hermes3-405b", Tokens: 10, Cost: 5.5})

	e := New([]models.BudgetPolicy{
		{UserID: "u1", MaxCost: 5, Period: models.BudgetMonthly},
	}, l)

	assert.ErrorIs(t, e.Check(ctx, "u1", "hermes3-405b"), ErrBudgetExceeded)
	assert.NoError(t, e.Check(ctx, "u2", "hermes3-405b"), "policy for u1 should not apply to u2")
}

func TestCheckModelScopedPolicy(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{UserID: "u1", Model: "hermes3-405b", Tokens: 600})

	e := New([]models.BudgetPolicy{
		{UserID: "*", Model: "hermes3-405b", MaxTokens: 500, Period: models.BudgetDaily},
	}, l)

	assert.NoError(t, e.Check(ctx, "u1", scout), "model-scoped policy should not block other models")
	assert.ErrorIs(t, e.Check(ctx, "u1", "hermes3-405b"), ErrBudgetExceeded)
}

func TestCheckIgnoresPreviousPeriod(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{
		UserID: "u1", Model: scout, Tokens: 5000,
		Timestamp: time.Now().UTC().Add(-72 * time.Hour),
	})

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	assert.NoError(t, e.Check(ctx, "u1", scout), "usage from previous days should not count")
}

func TestWildcardMetersAnonymousTraffic(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{Model: scout, Tokens: 800})
	record(t, l, models.UsageRecord{Model: scout, Tokens: 300})
	record(t, l, models.UsageRecord{UserID: "u1", Model: scout, Tokens: 10})

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	assert.ErrorIs(t, e.Check(ctx, "", scout), ErrBudgetExceeded)
	assert.NoError(t, e.Check(ctx, "u1", scout), "named users are metered separately")

	statuses, err := e.Status(ctx, "")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.EqualValues(t, 1100, statuses[0].UsedTokens)
}

func TestCheckLedgerFailure(t *testing.T) {
	l, ctx := setup(t)
	require.NoError(t, l.Close())

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	err := e.Check(ctx, "u1", scout)
	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.NotErrorIs(t, err, ErrBudgetExceeded)
}

func TestStatus(t *testing.T) {
	l, ctx := setup(t)
	record(t, l, models.UsageRecord{UserID: "u1", Model: scout, Tokens: 150, Cost: 0.25})

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, MaxCost: 1, Period: models.BudgetDaily},
	}, l)

	statuses, err := e.Status(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.EqualValues(t, 150, statuses[0].UsedTokens)
	assert.EqualValues(t, 850, statuses[0].RemainingTokens)
	assert.InDelta(t, 0.75, statuses[0].RemainingCost, 1e-9)
}

func TestSpecificUserPolicy(t *testing.T) {
	l, ctx := setup(t)

	e := New([]models.BudgetPolicy{
		{UserID: "u1", MaxTokens: 500, Period: models.BudgetDaily},
		{UserID: "*", MaxTokens: 10000, Period: models.BudgetDaily},
	}, l)

	// u2 should only match wildcard
	statuses, err := e.Status(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, statuses, 1)

	// u1 should match both
	statuses, err = e.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 3, 17, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), periodStart(now, models.BudgetDaily))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), periodStart(now, models.BudgetMonthly))
}

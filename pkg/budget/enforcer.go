package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sophia-ai/sophia/pkg/ledger"
	"github.com/sophia-ai/sophia/pkg/models"
)

var (
	// ErrBudgetExceeded is returned when a user has used up a policy's allowance.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrCheckFailed wraps ledger errors hit while checking a budget.
	ErrCheckFailed = errors.New("budget check failed")
)

// Enforcer checks ledger usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	ledger   ledger.Ledger
	now      func() time.Time
}

// New creates an Enforcer with the given policies and ledger.
func New(policies []models.BudgetPolicy, l ledger.Ledger) *Enforcer {
	return &Enforcer{policies: policies, ledger: l, now: time.Now}
}

// Check returns ErrBudgetExceeded if the user has exhausted any policy that
// applies to model. An empty userID is the anonymous user: only wildcard
// policies apply and they meter all anonymous traffic together.
func (e *Enforcer) Check(ctx context.Context, userID, model string) error {
	for _, p := range e.applicablePolicies(userID, model) {
		used, err := e.used(ctx, userID, p)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCheckFailed, err)
		}
		if p.MaxTokens > 0 && used.Tokens >= p.MaxTokens {
			return fmt.Errorf("%w: %d/%d tokens this %s", ErrBudgetExceeded, used.Tokens, p.MaxTokens, periodName(p.Period))
		}
		if p.MaxCost > 0 && used.Cost >= p.MaxCost {
			return fmt.Errorf("%w: $%.4f/$%.2f this %s", ErrBudgetExceeded, used.Cost, p.MaxCost, periodName(p.Period))
		}
	}
	return nil
}

// Status returns the budget status for a user across all matching policies.
func (e *Enforcer) Status(ctx context.Context, userID string) ([]models.BudgetStatus, error) {
	policies := e.policiesForUser(userID)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.used(ctx, userID, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:          p,
			UsedTokens:      used.Tokens,
			UsedCost:        used.Cost,
			RemainingTokens: max(p.MaxTokens-used.Tokens, 0),
			RemainingCost:   max(p.MaxCost-used.Cost, 0),
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, userID string, p models.BudgetPolicy) (models.UserTotals, error) {
	return e.ledger.UserTotals(ctx, userID, p.Model, periodStart(e.now(), p.Period))
}

// policiesForUser returns all policies matching a user (ignoring model filter).
func (e *Enforcer) policiesForUser(userID string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.UserID == "*" || p.UserID == userID {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) applicablePolicies(userID, model string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policiesForUser(userID) {
		if p.Model == "" || p.Model == model {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(now time.Time, period models.BudgetPeriod) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func periodName(period models.BudgetPeriod) string {
	if period == models.BudgetMonthly {
		return "month"
	}
	return "day"
}

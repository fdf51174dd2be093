package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps tokens and/or cost per user per period.
// A zero limit means the dimension is not enforced.
type BudgetPolicy struct {
	UserID    string       `json:"user_id" yaml:"user_id"`
	Model     string       `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int64        `json:"max_tokens,omitempty" yaml:"max_tokens"`
	MaxCost   float64      `json:"max_cost,omitempty" yaml:"max_cost"`
	Period    BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current usage against a policy.
type BudgetStatus struct {
	Policy          BudgetPolicy `json:"policy"`
	UsedTokens      int64        `json:"used_tokens"`
	UsedCost        float64      `json:"used_cost"`
	RemainingTokens int64        `json:"remaining_tokens"`
	RemainingCost   float64      `json:"remaining_cost"`
}

// Package reasoning converts between the canonical three-level reasoning
// effort knob and the numeric thinking-token budgets used by native
// provider APIs. The thresholds are fixed, not configurable: low=2048,
// medium=8192, high=16384, matching every wire format Toolify bridges.
package reasoning

import "github.com/toolify/toolify/internal/model"

const (
	LowBudget    = 2048
	MediumBudget = 8192
	HighBudget   = 16384
)

// EffortToBudget maps a canonical effort level to a thinking-token budget.
// Unset effort maps to zero, meaning "no thinking budget requested".
func EffortToBudget(e model.ReasoningEffort) int {
	switch e {
	case model.ReasoningLow:
		return LowBudget
	case model.ReasoningMedium:
		return MediumBudget
	case model.ReasoningHigh:
		return HighBudget
	default:
		return 0
	}
}

// BudgetToEffort buckets a numeric thinking-token budget back into the
// canonical three-level effort knob. Budgets at or below LowBudget bucket to
// low, at or below MediumBudget bucket to medium, everything else buckets to
// high.
func BudgetToEffort(budget int) model.ReasoningEffort {
	switch {
	case budget <= 0:
		return model.ReasoningNone
	case budget <= LowBudget:
		return model.ReasoningLow
	case budget <= MediumBudget:
		return model.ReasoningMedium
	default:
		return model.ReasoningHigh
	}
}

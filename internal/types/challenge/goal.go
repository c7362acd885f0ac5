package challenge

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Goal is either a CountGoal or an AmountGoal.
type Goal interface {
	Type() Type
	// Reached reports whether the running total has hit the limit.
	Reached(p Progress) bool
	isGoal()
}

// CountGoal caps the number of transactions in the category.
type CountGoal struct {
	Target int64
}

func (CountGoal) Type() Type { return TypeCount }

func (g CountGoal) Reached(p Progress) bool { return p.Count >= g.Target }

func (CountGoal) isGoal() {}

// AmountGoal caps the total spend in the category.
type AmountGoal struct {
	Target decimal.Decimal
}

func (AmountGoal) Type() Type { return TypeAmount }

func (g AmountGoal) Reached(p Progress) bool { return p.Amount.GreaterThanOrEqual(g.Target) }

func (AmountGoal) isGoal() {}

func NewGoal(t Type, targetCount int64, targetAmount decimal.Decimal) (Goal, error) {
	switch t {
	case TypeCount:
		return CountGoal{Target: targetCount}, nil
	case TypeAmount:
		return AmountGoal{Target: targetAmount}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// ParseAmount reads a used-amount string. Negative values are rejected since
// refunds arrive as cancelled transactions.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", raw)
	}
	return d, nil
}

// BaselineWeeks is how far back enrollment looks at the user's history.
func BaselineWeeks(durationWeeks int) int {
	if durationWeeks == 1 {
		return 3
	}
	return 12
}

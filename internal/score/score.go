// Package score computes the points earned by an answer.
//
// A correct answer is worth MaxPoints when given instantly and decays linearly to
// MinPoints at TimeBudget. Every answer accepted earlier in the same round costs
// OrderPenalty. The result never leaves [MinPoints, MaxPoints]. Incorrect answers are
// worth nothing.
package score

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxPoints    = 1000
	MinPoints    = 500
	TimeBudget   = 20 * time.Second
	OrderPenalty = 50
)

var (
	maxPoints    = decimal.NewFromInt(MaxPoints)
	minPoints    = decimal.NewFromInt(MinPoints)
	pointsRange  = decimal.NewFromInt(MaxPoints - MinPoints)
	budgetMillis = decimal.NewFromInt(TimeBudget.Milliseconds())
	orderPenalty = decimal.NewFromInt(OrderPenalty)
)

// Points returns the points for an answer that arrived elapsed after the question
// started, with order answers accepted before it in the same round.
func Points(correct bool, elapsed time.Duration, order int) decimal.Decimal {
	if !correct {
		return decimal.Zero
	}

	ms := max(elapsed.Milliseconds(), 0)
	ms = min(ms, TimeBudget.Milliseconds())
	order = max(order, 0)

	// ms/budget * range is always a finite decimal: budget/range = 40.
	decay := decimal.NewFromInt(ms).Mul(pointsRange).Div(budgetMillis)
	p := maxPoints.Sub(decay).Sub(orderPenalty.Mul(decimal.NewFromInt(int64(order))))

	if p.LessThan(minPoints) {
		return minPoints
	}
	if p.GreaterThan(maxPoints) {
		return maxPoints
	}
	return p
}

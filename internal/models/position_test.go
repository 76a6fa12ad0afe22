package models

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNextAverageCostBasics(t *testing.T) {
	// First purchase sets the average to the price.
	if got := NextAverageCost(decimal.Zero, decimal.Zero, d("2"), d("150")); !got.Equal(d("150")) {
		t.Errorf("first buy average = %s, want 150", got)
	}
	// 1 @ 100 then 1 @ 200 averages to 150.
	if got := NextAverageCost(d("1"), d("100"), d("1"), d("200")); !got.Equal(d("150")) {
		t.Errorf("average = %s, want 150", got)
	}
	// Larger existing holding pulls the average toward the old price.
	if got := NextAverageCost(d("3"), d("100"), d("1"), d("200")); !got.Equal(d("125")) {
		t.Errorf("average = %s, want 125", got)
	}
	// A zero-amount purchase changes nothing.
	if got := NextAverageCost(d("3"), d("100"), decimal.Zero, d("500")); !got.Equal(d("100")) {
		t.Errorf("average = %s, want 100 unchanged", got)
	}
	// A held balance with no recorded basis weighs in at zero cost:
	// 2 units at 0 plus 1 unit at 100 averages to 100/3.
	want := d("100").Div(d("3"))
	if got := NextAverageCost(d("2"), decimal.Zero, d("1"), d("100")); !got.Equal(want) {
		t.Errorf("average = %s, want %s (zero basis dilutes)", got, want)
	}
}

// The weighted average of two purchases always lies between the two prices,
// and repeating the same price leaves the average there.
func TestNextAverageCostProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)

	posDecimal := func(max float64) gopter.Gen {
		return gen.Float64Range(0.000001, max).Map(func(f float64) decimal.Decimal {
			return decimal.NewFromFloat(f)
		})
	}

	properties.Property("average stays within purchase price bounds", prop.ForAll(
		func(oldAmount, oldAvg, addAmount, price decimal.Decimal) bool {
			next := NextAverageCost(oldAmount, oldAvg, addAmount, price)
			lo, hi := oldAvg, price
			if lo.GreaterThan(hi) {
				lo, hi = hi, lo
			}
			// Allow for rounding at the division precision limit.
			slack := hi.Mul(decimal.New(1, -12))
			return next.GreaterThanOrEqual(lo.Sub(slack)) && next.LessThanOrEqual(hi.Add(slack))
		},
		posDecimal(1e6), posDecimal(1e6), posDecimal(1e6), posDecimal(1e6),
	))

	properties.Property("buying at the current average is a fixed point", prop.ForAll(
		func(oldAmount, oldAvg, addAmount decimal.Decimal) bool {
			next := NextAverageCost(oldAmount, oldAvg, addAmount, oldAvg)
			// Division can introduce bounded rounding at the last digit.
			diff := next.Sub(oldAvg).Abs()
			tolerance := oldAvg.Mul(decimal.New(1, -12))
			return diff.LessThanOrEqual(tolerance)
		},
		posDecimal(1e6), posDecimal(1e6), posDecimal(1e6),
	))

	properties.TestingRun(t)
}

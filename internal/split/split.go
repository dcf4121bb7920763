package split

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Result is the cent-level breakdown of an order amount.
type Result struct {
	PlatformFeeCents         int64
	AffiliateCommissionCents int64
	NetCents                 int64

	// Clamped reports that the rule cuts exceeded the amount and were capped.
	// The caller logs this loudly; the buyer flow is never interrupted by a
	// misconfigured split rule.
	Clamped bool
}

// Rule is the percentage configuration frozen onto an order at charge creation.
type Rule struct {
	PlatformFeePercent         decimal.Decimal
	AffiliateCommissionPercent decimal.Decimal
}

// Compute splits an amount in integer cents by the rule percentages.
// Each cut is rounded half up independently; the vendor net absorbs the
// rounding remainder so the three parts always sum to the amount. A rule
// whose cuts exceed the amount is capped: the platform fee keeps priority,
// the commission takes what is left, and the vendor net floors at zero.
func Compute(amountCents int64, rule Rule) Result {
	amount := decimal.NewFromInt(amountCents)

	fee := roundHalfUpCents(amount.Mul(rule.PlatformFeePercent).Div(oneHundred))
	commission := roundHalfUpCents(amount.Mul(rule.AffiliateCommissionPercent).Div(oneHundred))

	if fee < 0 {
		fee = 0
	}
	if commission < 0 {
		commission = 0
	}

	clamped := false
	if fee > amountCents {
		fee = amountCents
		clamped = true
	}
	if commission > amountCents-fee {
		commission = amountCents - fee
		clamped = true
	}
	net := amountCents - fee - commission

	return Result{
		PlatformFeeCents:         fee,
		AffiliateCommissionCents: commission,
		NetCents:                 net,
		Clamped:                  clamped,
	}
}

// roundHalfUpCents rounds to whole cents; for the non-negative values used
// here decimal's round-half-away-from-zero is round half up.
func roundHalfUpCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

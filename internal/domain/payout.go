package domain

import "github.com/shopspring/decimal"

// ProportionalPayout returns floor(stake * pool / winningTotal). The
// multiplication happens first so the only rounding is the final truncation.
// A non-positive winningTotal yields zero.
func ProportionalPayout(stake, winningTotal, pool decimal.Decimal) decimal.Decimal {
	if !winningTotal.IsPositive() {
		return decimal.Zero
	}
	q, _ := stake.Mul(pool).QuoRem(winningTotal, 0)
	return q
}

// Commission returns floor(stake * rate). A zero or negative rate takes no
// commission.
func Commission(stake, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return stake.Mul(rate).Floor()
}

// PayoutPlan is the settlement arithmetic for one event, computed before any
// write so that the whole plan can be applied in a single unit of work.
type PayoutPlan struct {
	Refund       bool
	WinningTotal decimal.Decimal
	Payouts      map[string]decimal.Decimal // bet id -> credited amount (winners or refunds)
	Losers       []*Bet
	Winners      []*Bet
	TotalPayout  decimal.Decimal
	Dust         decimal.Decimal // pool minus distributed payouts; never reassigned
}

// PlanPayouts partitions active bets by winningOptionIDs and computes each
// credit. With no winning stakes, every bet is refunded at face value.
func PlanPayouts(bets []*Bet, winningOptionIDs []string, pool decimal.Decimal) *PayoutPlan {
	winning := make(map[string]struct{}, len(winningOptionIDs))
	for _, id := range winningOptionIDs {
		winning[id] = struct{}{}
	}

	plan := &PayoutPlan{
		WinningTotal: decimal.Zero,
		Payouts:      make(map[string]decimal.Decimal, len(bets)),
		TotalPayout:  decimal.Zero,
		Dust:         decimal.Zero,
	}
	for _, b := range bets {
		if _, ok := winning[b.OptionID]; ok {
			plan.Winners = append(plan.Winners, b)
			plan.WinningTotal = plan.WinningTotal.Add(b.Amount)
		} else {
			plan.Losers = append(plan.Losers, b)
		}
	}

	if len(plan.Winners) == 0 || !plan.WinningTotal.IsPositive() {
		plan.Refund = true
		plan.Winners, plan.Losers = nil, nil
		for _, b := range bets {
			plan.Payouts[b.ID.String()] = b.Amount
			plan.TotalPayout = plan.TotalPayout.Add(b.Amount)
		}
		return plan
	}

	for _, b := range plan.Winners {
		p := ProportionalPayout(b.Amount, plan.WinningTotal, pool)
		plan.Payouts[b.ID.String()] = p
		plan.TotalPayout = plan.TotalPayout.Add(p)
	}
	plan.Dust = pool.Sub(plan.TotalPayout)
	return plan
}

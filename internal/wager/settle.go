package wager

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/spikebot/spike/internal/model"
)

var maxBalance = decimal.NewFromInt(math.MaxInt64)

// Plan is the arithmetic of closing a wager on one option, before any
// balance is touched.
type Plan struct {
	Pot           int64
	GrossWinnings int64
	// Shortfall is set when the creator cannot fund the advertised payout
	// even with the pot.
	Shortfall bool
	// CreatorDelta is the signed adjustment applied to the creator.
	CreatorDelta int64
	// PayoutPerWinner is credited to every bettor on the winning option.
	PayoutPerWinner int64
	Winners         []string
}

// PlanSettlement computes how a wager closes on winningKey given the
// creator's balance. The caller has already checked winningKey exists.
//
// When creatorBalance+pot covers the gross winnings, the creator takes
// pot-gross (negative when the house pays out more than it collected) and
// every winner receives the advertised payout. Otherwise the creator is
// wiped to zero and every winner receives stake+1. A pot or gross that
// does not fit a balance fails with ErrSettlementOverflow.
func PlanSettlement(w *model.Wager, winningKey string, creatorBalance int64) (Plan, error) {
	win := w.Options[winningKey]

	pot := decimal.Zero
	for _, o := range w.Options {
		pot = pot.Add(stakes(o.Bet, len(o.Bettors)))
	}
	gross := stakes(win.Win, len(win.Bettors))
	if pot.GreaterThan(maxBalance) || gross.GreaterThan(maxBalance) {
		return Plan{}, fmt.Errorf("%w: pot %s, winnings %s", ErrSettlementOverflow, pot, gross)
	}

	p := Plan{
		Pot:           pot.IntPart(),
		GrossWinnings: gross.IntPart(),
		Winners:       append([]string(nil), win.Bettors...),
	}

	if decimal.NewFromInt(creatorBalance).Add(pot).GreaterThanOrEqual(gross) {
		p.CreatorDelta = p.Pot - p.GrossWinnings
		p.PayoutPerWinner = win.Win
		return p, nil
	}

	p.Shortfall = true
	p.CreatorDelta = -creatorBalance
	p.PayoutPerWinner = win.Bet + 1
	return p, nil
}

func stakes(amount int64, n int) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(int64(n)))
}

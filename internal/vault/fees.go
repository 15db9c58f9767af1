package vault

import (
	"fmt"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
)

// targetLpAmount is the asset's share of the pool-token supply by weight.
func (t *tx) targetLpAmount(e *AssetEntry) (int64, error) {
	supply := t.shareSupply()
	if supply <= 0 || t.state.TotalWeights == 0 {
		return 0, nil
	}
	return t.mulDiv(e.Config.Weight, supply, t.state.TotalWeights)
}

// feeBasisPoints prices an action that moves lpDelta of share-denominated
// value into (increment) or out of asset id. Moves toward the target
// allocation earn a rebate off baseBps, floored at 0. Moves away pay a
// tax proportional to the average distance from target, capped at target.
func (t *tx) feeBasisPoints(id AssetID, lpDelta, baseBps, taxBps int64, increment bool) (int64, error) {
	if !t.state.Fees.HasDynamicFees {
		return baseBps, nil
	}
	e, err := t.asset(id)
	if err != nil {
		return 0, err
	}

	initial := e.LpDebtAmount
	var next int64
	if increment {
		if next, err = checkedAdd(initial, lpDelta); err != nil {
			return 0, err
		}
	} else if lpDelta < initial {
		next = initial - lpDelta
	}

	target, err := t.targetLpAmount(e)
	if err != nil {
		return 0, err
	}
	if target == 0 {
		return baseBps, nil
	}

	initialDiff := fpmath.AbsDiff(initial, target)
	nextDiff := fpmath.AbsDiff(next, target)

	if nextDiff < initialDiff {
		rebate, err := t.mulDiv(taxBps, initialDiff, target)
		if err != nil {
			return 0, err
		}
		if rebate > baseBps {
			return 0, nil
		}
		return baseBps - rebate, nil
	}

	avgDiff := initialDiff/2 + nextDiff/2 + (initialDiff%2+nextDiff%2)/2
	if avgDiff > target {
		avgDiff = target
	}
	tax, err := t.mulDiv(taxBps, avgDiff, target)
	if err != nil {
		return 0, err
	}
	return baseBps + tax, nil
}

// swapFeeBasisPoints returns the higher of the entry and exit leg fees.
// Stable pairs use the stable tier.
func (t *tx) swapFeeBasisPoints(in, out AssetID, lpAmount int64) (int64, error) {
	inEntry, err := t.asset(in)
	if err != nil {
		return 0, err
	}
	outEntry, err := t.asset(out)
	if err != nil {
		return 0, err
	}

	fees := t.state.Fees
	baseBps, taxBps := fees.SwapFeeBps, fees.TaxBps
	if inEntry.Config.IsStable && outEntry.Config.IsStable {
		baseBps, taxBps = fees.StableSwapFeeBps, fees.StableTaxBps
	}

	bpsIn, err := t.feeBasisPoints(in, lpAmount, baseBps, taxBps, true)
	if err != nil {
		return 0, err
	}
	bpsOut, err := t.feeBasisPoints(out, lpAmount, baseBps, taxBps, false)
	if err != nil {
		return 0, err
	}
	if bpsIn > bpsOut {
		return bpsIn, nil
	}
	return bpsOut, nil
}

// collectSwapFees keeps bps of amount in the asset's fee reserve and
// returns the remainder.
func (t *tx) collectSwapFees(id AssetID, amount, bps int64) (int64, error) {
	if bps < 0 || bps > fpmath.BasisPointsDivisor {
		return 0, fmt.Errorf("%w: fee %d bps", ErrOutOfRange, bps)
	}
	after, err := fpmath.ApplyBasisPoints(amount, bps)
	if err != nil {
		return 0, arith(err)
	}
	fee := amount - after
	if fee == 0 {
		return after, nil
	}

	e, err := t.asset(id)
	if err != nil {
		return 0, err
	}
	if e.FeeReserve, err = checkedAdd(e.FeeReserve, fee); err != nil {
		return 0, err
	}
	feeUsd, err := t.tokenToUsd(id, fee)
	if err != nil {
		return 0, err
	}
	t.emit(&event.SwapFeesCollected{
		Asset:      string(id),
		FeeTokens:  fee,
		FeeUsd:     feeUsd,
		FeeBps:     bps,
		FeeReserve: e.FeeReserve,
	})
	return after, nil
}

// collectMarginFees charges the position fee on sizeDelta plus funding on
// the prior size, credits the collateral asset's fee reserve and returns
// the total in USD.
func (t *tx) collectMarginFees(key PositionKey, sizeDelta, size, entryFundingRate int64) (int64, error) {
	marginFee, err := fpmath.ComputeMarginFee(sizeDelta, t.state.Positions.MarginFeeBps)
	if err != nil {
		return 0, arith(err)
	}
	e, err := t.asset(key.Collateral)
	if err != nil {
		return 0, err
	}
	fundingFee, err := fpmath.ComputeFundingFee(size, e.CumulativeFundingRate, entryFundingRate)
	if err != nil {
		return 0, arith(err)
	}
	fee, err := checkedAdd(marginFee, fundingFee)
	if err != nil {
		return 0, err
	}
	if fee == 0 {
		return 0, nil
	}

	feeTokens, err := t.usdToToken(key.Collateral, fee)
	if err != nil {
		return 0, err
	}
	if e.FeeReserve, err = checkedAdd(e.FeeReserve, feeTokens); err != nil {
		return 0, err
	}
	t.emit(&event.MarginFeesCollected{
		Asset:      string(key.Collateral),
		PositionID: key.Hex(),
		FeeTokens:  feeTokens,
		FeeUsd:     fee,
		FeeReserve: e.FeeReserve,
	})
	return fee, nil
}

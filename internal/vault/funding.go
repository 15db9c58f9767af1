package vault

import (
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
)

// accrueFunding brings the asset's cumulative funding rate up to the
// current interval bucket. The first touch only records the bucket.
// A second call within the same bucket is a no-op.
func (t *tx) accrueFunding(id AssetID) error {
	e, err := t.asset(id)
	if err != nil {
		return err
	}

	interval := t.state.Funding.Interval
	bucket := fpmath.FundingBucket(t.now, interval)

	if e.LastFundingTime == 0 {
		e.LastFundingTime = bucket
		return nil
	}
	if bucket < e.LastFundingTime+interval {
		return nil
	}

	intervals := (bucket - e.LastFundingTime) / interval
	factor := t.state.Funding.Factor
	if e.Config.IsStable {
		factor = t.state.Funding.StableFactor
	}
	rate, err := fpmath.ComputeFundingRateDelta(factor, e.ReservedAmount, intervals, e.PoolAmount)
	if err != nil {
		return arith(err)
	}
	if e.CumulativeFundingRate, err = checkedAdd(e.CumulativeFundingRate, rate); err != nil {
		return err
	}
	e.LastFundingTime = bucket

	t.emit(&event.FundingRateUpdated{
		Asset:          string(id),
		RateDelta:      rate,
		CumulativeRate: e.CumulativeFundingRate,
		Intervals:      intervals,
		BucketTime:     bucket,
	})
	return nil
}

// internal/math/funding.go
package math

// FundingBucket floors a unix timestamp (seconds) to its funding interval.
func FundingBucket(now, interval int64) int64 {
	if interval <= 0 {
		return now
	}
	return now / interval * interval
}

// ComputeFundingRateDelta returns the cumulative-rate increment for
// `intervals` elapsed funding intervals:
//
//	factor * reserved * intervals / pool   (floored)
//
// An empty pool accrues nothing.
func ComputeFundingRateDelta(factor, reserved, intervals, pool int64) (int64, error) {
	if pool == 0 || reserved == 0 || intervals == 0 {
		return 0, nil
	}
	weighted, err := MulDiv(factor, reserved, 1, RoundDown)
	if err != nil {
		return 0, err
	}
	return MulDiv(weighted, intervals, pool, RoundDown)
}

// ComputeFundingFee returns the USD funding owed by a position of `size`
// whose entry rate is `entryRate` at cumulative rate `cumulativeRate`.
func ComputeFundingFee(size, cumulativeRate, entryRate int64) (int64, error) {
	if size == 0 || cumulativeRate <= entryRate {
		return 0, nil
	}
	return MulDiv(size, cumulativeRate-entryRate, FundingRatePrecision, RoundDown)
}

// ComputeMarginFee returns the trading fee charged on a USD size change.
// The after-fee amount is floored, so the fee rounds up.
func ComputeMarginFee(sizeDelta, marginFeeBps int64) (int64, error) {
	if sizeDelta == 0 {
		return 0, nil
	}
	after, err := ApplyBasisPoints(sizeDelta, marginFeeBps)
	if err != nil {
		return 0, err
	}
	return sizeDelta - after, nil
}

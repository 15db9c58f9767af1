package vault

import (
	"fmt"

	fpmath "PerpVault/internal/math"
)

// delta returns the unrealized PnL of a position at price. While the
// position is younger than MinProfitTime, a profit of at most the index
// asset's MinProfitBps of size counts as zero.
func (t *tx) delta(index AssetID, size, averagePrice int64, isLong bool, lastIncreasedTime, price int64) (bool, int64, error) {
	if averagePrice <= 0 {
		return false, 0, fmt.Errorf("%w: average price %d", ErrInvalidState, averagePrice)
	}
	priceDelta := fpmath.AbsDiff(averagePrice, price)
	delta, err := t.mulDiv(size, priceDelta, averagePrice)
	if err != nil {
		return false, 0, err
	}

	var hasProfit bool
	if isLong {
		hasProfit = price > averagePrice
	} else {
		hasProfit = averagePrice > price
	}

	e, err := t.asset(index)
	if err != nil {
		return false, 0, err
	}
	var minBps int64
	if t.now <= lastIncreasedTime+t.state.Positions.MinProfitTime {
		minBps = e.Config.MinProfitBps
	}
	if hasProfit && fpmath.CompareProducts(delta, fpmath.BasisPointsDivisor, size, minBps) <= 0 {
		delta = 0
	}
	return hasProfit, delta, nil
}

// nextAveragePrice keeps the unrealized PnL of a position unchanged across
// a size increase of sizeDelta at price.
func (t *tx) nextAveragePrice(index AssetID, size, averagePrice int64, isLong bool, price, sizeDelta, lastIncreasedTime int64) (int64, error) {
	hasProfit, delta, err := t.delta(index, size, averagePrice, isLong, lastIncreasedTime, price)
	if err != nil {
		return 0, err
	}
	nextSize, err := checkedAdd(size, sizeDelta)
	if err != nil {
		return 0, err
	}
	var divisor int64
	if (isLong && hasProfit) || (!isLong && !hasProfit) {
		divisor = nextSize + delta
	} else {
		divisor = nextSize - delta
	}
	if divisor <= 0 {
		return 0, fmt.Errorf("%w: average price divisor %d", ErrInvalidState, divisor)
	}
	return t.mulDiv(price, nextSize, divisor)
}

// nextGlobalShortAveragePrice is the aggregate counterpart for all shorts
// on an index asset.
func (t *tx) nextGlobalShortAveragePrice(e *AssetEntry, price, sizeDelta int64) (int64, error) {
	size := e.ShortSize
	averagePrice := e.ShortAveragePrice
	if averagePrice <= 0 {
		return price, nil
	}
	priceDelta := fpmath.AbsDiff(averagePrice, price)
	delta, err := t.mulDiv(size, priceDelta, averagePrice)
	if err != nil {
		return 0, err
	}
	hasProfit := averagePrice > price

	nextSize, err := checkedAdd(size, sizeDelta)
	if err != nil {
		return 0, err
	}
	var divisor int64
	if hasProfit {
		divisor = nextSize - delta
	} else {
		divisor = nextSize + delta
	}
	if divisor <= 0 {
		return 0, fmt.Errorf("%w: short average price divisor %d", ErrInvalidState, divisor)
	}
	return t.mulDiv(price, nextSize, divisor)
}

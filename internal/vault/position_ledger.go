package vault

import (
	"fmt"

	"PerpVault/internal/event"

	"github.com/google/uuid"
)

func positionRef(key PositionKey) event.PositionRef {
	return event.PositionRef{
		ID:         key.Hex(),
		Trader:     key.Trader,
		Collateral: string(key.Collateral),
		Index:      string(key.Index),
		IsLong:     key.IsLong,
	}
}

func positionUpdated(key PositionKey, p *Position) *event.PositionUpdated {
	return &event.PositionUpdated{
		PositionRef:       positionRef(key),
		Size:              p.Size,
		Collateral:        p.Collateral,
		AveragePrice:      p.AveragePrice,
		EntryFundingRate:  p.EntryFundingRate,
		ReserveAmount:     p.ReserveAmount,
		RealisedPnl:       p.RealisedPnl,
		LastIncreasedTime: p.LastIncreasedTime,
	}
}

// validatePositionAssets enforces side eligibility. Longs use the index
// asset as collateral and it must be volatile. Shorts post stable
// collateral against a volatile, shortable index.
func (t *tx) validatePositionAssets(key PositionKey) error {
	collateral, err := t.whitelisted(key.Collateral)
	if err != nil {
		return err
	}
	index, err := t.whitelisted(key.Index)
	if err != nil {
		return err
	}
	if key.IsLong {
		if key.Collateral != key.Index {
			return fmt.Errorf("%w: long collateral %s must equal index %s", ErrInvalidState, key.Collateral, key.Index)
		}
		if collateral.Config.IsStable {
			return fmt.Errorf("%w: cannot long stable asset %s", ErrInvalidState, key.Index)
		}
		return nil
	}
	if !collateral.Config.IsStable {
		return fmt.Errorf("%w: short collateral %s must be stable", ErrInvalidState, key.Collateral)
	}
	if index.Config.IsStable {
		return fmt.Errorf("%w: cannot short stable asset %s", ErrInvalidState, key.Index)
	}
	if !index.Config.IsShortable {
		return fmt.Errorf("%w: asset %s is not shortable", ErrInvalidState, key.Index)
	}
	return nil
}

func (t *tx) accruePositionFunding(key PositionKey) error {
	if err := t.accrueFunding(key.Collateral); err != nil {
		return err
	}
	if key.Index != key.Collateral {
		return t.accrueFunding(key.Index)
	}
	return nil
}

// increasePosition opens or grows a position by sizeDelta (USD) after
// depositing collateralAmount of the collateral asset.
func (t *tx) increasePosition(key PositionKey, collateralAmount, sizeDelta int64) error {
	if collateralAmount < 0 || sizeDelta < 0 {
		return fmt.Errorf("%w: negative collateral %d or size %d", ErrInvalidState, collateralAmount, sizeDelta)
	}
	if collateralAmount == 0 && sizeDelta == 0 {
		return fmt.Errorf("%w: empty position increase", ErrInvalidState)
	}
	if err := t.validatePositionAssets(key); err != nil {
		return err
	}
	if err := t.accruePositionFunding(key); err != nil {
		return err
	}

	price, err := t.price(key.Index)
	if err != nil {
		return err
	}

	pos, ok := t.position(key)
	if !ok {
		pos = &Position{}
	}
	if pos.Size == 0 {
		pos.AveragePrice = price
	}
	if pos.Size > 0 && sizeDelta > 0 {
		pos.AveragePrice, err = t.nextAveragePrice(key.Index, pos.Size, pos.AveragePrice, key.IsLong, price, sizeDelta, pos.LastIncreasedTime)
		if err != nil {
			return err
		}
	}

	fee, err := t.collectMarginFees(key, sizeDelta, pos.Size, pos.EntryFundingRate)
	if err != nil {
		return err
	}

	var collateralDeltaUsd int64
	if collateralAmount > 0 {
		if err := t.transferIn(key.Collateral, key.Trader, collateralAmount); err != nil {
			return err
		}
		if collateralDeltaUsd, err = t.tokenToUsd(key.Collateral, collateralAmount); err != nil {
			return err
		}
	}

	if pos.Collateral, err = checkedAdd(pos.Collateral, collateralDeltaUsd); err != nil {
		return err
	}
	if pos.Collateral < fee {
		return fmt.Errorf("%w: collateral %d cannot cover fee %d", ErrInvalidState, pos.Collateral, fee)
	}
	pos.Collateral -= fee

	collateralEntry, err := t.asset(key.Collateral)
	if err != nil {
		return err
	}
	pos.EntryFundingRate = collateralEntry.CumulativeFundingRate
	if pos.Size, err = checkedAdd(pos.Size, sizeDelta); err != nil {
		return err
	}
	pos.LastIncreasedTime = t.now

	if pos.Size <= 0 {
		return fmt.Errorf("%w: position size is zero", ErrInvalidState)
	}
	if pos.Size < pos.Collateral {
		return fmt.Errorf("%w: size %d below collateral %d", ErrInvalidState, pos.Size, pos.Collateral)
	}

	reserveDelta, err := t.usdToToken(key.Collateral, sizeDelta)
	if err != nil {
		return err
	}
	pos.ReserveAmount += reserveDelta
	if err := t.increaseReserved(key.Collateral, reserveDelta); err != nil {
		return err
	}

	if key.IsLong {
		// guaranteed_usd tracks size - collateral over open longs
		if err := t.increaseGuaranteedUsd(key.Collateral, sizeDelta+fee); err != nil {
			return err
		}
		if err := t.decreaseGuaranteedUsd(key.Collateral, collateralDeltaUsd); err != nil {
			return err
		}
		if err := t.increasePool(key.Collateral, collateralAmount); err != nil {
			return err
		}
		feeTokens, err := t.usdToToken(key.Collateral, fee)
		if err != nil {
			return err
		}
		if err := t.decreasePool(key.Collateral, feeTokens); err != nil {
			return err
		}
	} else {
		index, err := t.asset(key.Index)
		if err != nil {
			return err
		}
		if index.ShortSize == 0 {
			index.ShortAveragePrice = price
		} else if index.ShortAveragePrice, err = t.nextGlobalShortAveragePrice(index, price, sizeDelta); err != nil {
			return err
		}
		if err := t.increaseShortSize(key.Index, sizeDelta); err != nil {
			return err
		}
	}

	t.putPosition(key, pos)
	t.emit(&event.PositionIncreased{
		PositionRef:      positionRef(key),
		CollateralAmount: collateralAmount,
		CollateralDelta:  collateralDeltaUsd,
		SizeDelta:        sizeDelta,
		Price:            price,
		Fee:              fee,
	})
	t.emit(positionUpdated(key, pos))
	return nil
}

// decreasePosition shrinks a position by sizeDelta (USD) and withdraws
// collateralDelta (USD). sizeDelta equal to the full size closes it.
// Returns the collateral-asset amount paid to receiver.
func (t *tx) decreasePosition(key PositionKey, collateralDelta, sizeDelta int64, receiver uuid.UUID, full bool) (int64, error) {
	pos, ok := t.position(key)
	if !ok {
		return 0, fmt.Errorf("%w: position %s", ErrNotFound, key.Hex())
	}
	if full {
		sizeDelta = pos.Size
		collateralDelta = 0
	} else if sizeDelta <= 0 || sizeDelta >= pos.Size {
		return 0, fmt.Errorf("%w: size delta %d must be in (0, %d)", ErrInvalidState, sizeDelta, pos.Size)
	}
	if collateralDelta < 0 || collateralDelta > pos.Collateral {
		return 0, fmt.Errorf("%w: collateral delta %d exceeds collateral %d", ErrInvalidState, collateralDelta, pos.Collateral)
	}

	if err := t.accruePositionFunding(key); err != nil {
		return 0, err
	}
	price, err := t.price(key.Index)
	if err != nil {
		return 0, err
	}

	reserveDelta, err := t.mulDiv(pos.ReserveAmount, sizeDelta, pos.Size)
	if err != nil {
		return 0, err
	}
	pos.ReserveAmount -= reserveDelta
	if err := t.decreaseReserved(key.Collateral, reserveDelta); err != nil {
		return 0, err
	}

	oldCollateral := pos.Collateral
	usdOut, usdOutAfterFee, fee, err := t.reduceCollateral(key, pos, collateralDelta, sizeDelta, price)
	if err != nil {
		return 0, err
	}

	closed := pos.Size == sizeDelta
	if !closed {
		collateralEntry, err := t.asset(key.Collateral)
		if err != nil {
			return 0, err
		}
		pos.EntryFundingRate = collateralEntry.CumulativeFundingRate
		pos.Size -= sizeDelta
		if pos.Size < pos.Collateral {
			return 0, fmt.Errorf("%w: size %d below collateral %d", ErrInvalidState, pos.Size, pos.Collateral)
		}
		if key.IsLong {
			if err := t.increaseGuaranteedUsd(key.Collateral, oldCollateral-pos.Collateral); err != nil {
				return 0, err
			}
			if err := t.decreaseGuaranteedUsd(key.Collateral, sizeDelta); err != nil {
				return 0, err
			}
		}
		t.putPosition(key, pos)
	} else {
		if key.IsLong {
			if err := t.increaseGuaranteedUsd(key.Collateral, oldCollateral); err != nil {
				return 0, err
			}
			if err := t.decreaseGuaranteedUsd(key.Collateral, sizeDelta); err != nil {
				return 0, err
			}
		}
		t.removePosition(key)
	}

	if !key.IsLong {
		if err := t.decreaseShortSize(key.Index, sizeDelta); err != nil {
			return 0, err
		}
	}

	var amountOut int64
	if usdOut > 0 {
		if key.IsLong {
			tokens, err := t.usdToToken(key.Collateral, usdOut)
			if err != nil {
				return 0, err
			}
			if err := t.decreasePool(key.Collateral, tokens); err != nil {
				return 0, err
			}
		}
		if amountOut, err = t.usdToToken(key.Collateral, usdOutAfterFee); err != nil {
			return 0, err
		}
		if amountOut > 0 {
			if err := t.transferOut(key.Collateral, receiver, amountOut); err != nil {
				return 0, err
			}
		}
	}

	t.emit(&event.PositionDecreased{
		PositionRef:     positionRef(key),
		Receiver:        receiver,
		CollateralDelta: collateralDelta,
		SizeDelta:       sizeDelta,
		Price:           price,
		Fee:             fee,
		UsdOut:          usdOut,
		AmountOut:       amountOut,
	})
	if closed {
		t.emit(&event.PositionClosed{
			PositionRef:   positionRef(key),
			Size:          pos.Size,
			Collateral:    pos.Collateral,
			AveragePrice:  pos.AveragePrice,
			ReserveAmount: pos.ReserveAmount,
			RealisedPnl:   pos.RealisedPnl,
		})
	} else {
		t.emit(positionUpdated(key, pos))
	}
	return amountOut, nil
}

// reduceCollateral settles fees and the proportional PnL of sizeDelta.
// It returns the USD owed to the trader before and after fees, and the fee.
func (t *tx) reduceCollateral(key PositionKey, pos *Position, collateralDelta, sizeDelta, price int64) (int64, int64, int64, error) {
	fee, err := t.collectMarginFees(key, sizeDelta, pos.Size, pos.EntryFundingRate)
	if err != nil {
		return 0, 0, 0, err
	}

	hasProfit, delta, err := t.delta(key.Index, pos.Size, pos.AveragePrice, key.IsLong, pos.LastIncreasedTime, price)
	if err != nil {
		return 0, 0, 0, err
	}
	adjustedDelta, err := t.mulDiv(sizeDelta, delta, pos.Size)
	if err != nil {
		return 0, 0, 0, err
	}

	var usdOut int64
	if adjustedDelta > 0 {
		tokens, err := t.usdToToken(key.Collateral, adjustedDelta)
		if err != nil {
			return 0, 0, 0, err
		}
		if hasProfit {
			usdOut = adjustedDelta
			pos.RealisedPnl += adjustedDelta
			// short profits are paid from the pool
			if !key.IsLong {
				if err := t.decreasePool(key.Collateral, tokens); err != nil {
					return 0, 0, 0, err
				}
			}
		} else {
			if pos.Collateral < adjustedDelta {
				return 0, 0, 0, fmt.Errorf("%w: loss %d exceeds collateral %d", ErrInvalidState, adjustedDelta, pos.Collateral)
			}
			pos.Collateral -= adjustedDelta
			// short losses are pool gains
			if !key.IsLong {
				if err := t.increasePool(key.Collateral, tokens); err != nil {
					return 0, 0, 0, err
				}
			}
			pos.RealisedPnl -= adjustedDelta
		}
	}

	if collateralDelta > 0 {
		if collateralDelta > pos.Collateral {
			return 0, 0, 0, fmt.Errorf("%w: collateral delta %d exceeds remaining collateral %d", ErrInvalidState, collateralDelta, pos.Collateral)
		}
		usdOut += collateralDelta
		pos.Collateral -= collateralDelta
	}

	if pos.Size == sizeDelta {
		usdOut += pos.Collateral
		pos.Collateral = 0
	}

	usdOutAfterFee := usdOut
	if usdOut > fee {
		usdOutAfterFee = usdOut - fee
	} else {
		if pos.Collateral < fee {
			return 0, 0, 0, fmt.Errorf("%w: collateral %d cannot cover fee %d", ErrInvalidState, pos.Collateral, fee)
		}
		pos.Collateral -= fee
		if key.IsLong {
			feeTokens, err := t.usdToToken(key.Collateral, fee)
			if err != nil {
				return 0, 0, 0, err
			}
			if err := t.decreasePool(key.Collateral, feeTokens); err != nil {
				return 0, 0, 0, err
			}
		}
	}

	t.emit(&event.PnLRealized{PositionRef: positionRef(key), HasProfit: hasProfit, Delta: adjustedDelta})
	return usdOut, usdOutAfterFee, fee, nil
}

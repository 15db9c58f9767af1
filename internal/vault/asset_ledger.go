package vault

import (
	"fmt"

	"PerpVault/internal/event"
)

// Accumulator mutations on the per-asset ledger. Zero amounts are no-ops
// and emit nothing.

func (t *tx) increasePool(id AssetID, amount int64) error {
	if amount == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	next, err := checkedAdd(e.PoolAmount, amount)
	if err != nil {
		return err
	}
	e.PoolAmount = next
	t.emit(&event.PoolAmountChanged{Asset: string(id), Delta: amount, Value: next})
	return nil
}

func (t *tx) decreasePool(id AssetID, amount int64) error {
	if amount == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	if amount > e.PoolAmount {
		return fmt.Errorf("%w: %s pool %d cannot cover %d", ErrInvalidState, id, e.PoolAmount, amount)
	}
	next := e.PoolAmount - amount
	if next < e.ReservedAmount {
		return fmt.Errorf("%w: %s pool %d would fall below reserved %d", ErrInvalidState, id, next, e.ReservedAmount)
	}
	e.PoolAmount = next
	t.emit(&event.PoolAmountChanged{Asset: string(id), Delta: -amount, Value: next})
	return nil
}

func (t *tx) increaseLpDebt(id AssetID, amount int64) error {
	if amount == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	next, err := checkedAdd(e.LpDebtAmount, amount)
	if err != nil {
		return err
	}
	e.LpDebtAmount = next
	if e.Config.MaxLpAmount > 0 && next > e.Config.MaxLpAmount {
		return fmt.Errorf("%w: %s lp debt %d exceeds max %d", ErrOutOfRange, id, next, e.Config.MaxLpAmount)
	}
	t.emit(&event.LpDebtChanged{Asset: string(id), Delta: amount, Value: next})
	return nil
}

// decreaseLpDebt floors at zero: shares minted against one asset may be
// redeemed for another.
func (t *tx) decreaseLpDebt(id AssetID, amount int64) error {
	if amount == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	delta := amount
	if delta > e.LpDebtAmount {
		delta = e.LpDebtAmount
	}
	e.LpDebtAmount -= delta
	t.emit(&event.LpDebtChanged{Asset: string(id), Delta: -delta, Value: e.LpDebtAmount})
	return nil
}

func (t *tx) increaseReserved(id AssetID, amount int64) error {
	if amount == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	next, err := checkedAdd(e.ReservedAmount, amount)
	if err != nil {
		return err
	}
	if next > e.PoolAmount {
		return fmt.Errorf("%w: %s reserve %d exceeds pool %d", ErrInvalidState, id, next, e.PoolAmount)
	}
	e.ReservedAmount = next
	t.emit(&event.ReservedAmountChanged{Asset: string(id), Delta: amount, Value: next})
	return nil
}

func (t *tx) decreaseReserved(id AssetID, amount int64) error {
	if amount == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	if amount > e.ReservedAmount {
		return fmt.Errorf("%w: %s insufficient reserve %d for %d", ErrInvalidState, id, e.ReservedAmount, amount)
	}
	e.ReservedAmount -= amount
	t.emit(&event.ReservedAmountChanged{Asset: string(id), Delta: -amount, Value: e.ReservedAmount})
	return nil
}

func (t *tx) increaseGuaranteedUsd(id AssetID, usd int64) error {
	if usd == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	next, err := checkedAdd(e.GuaranteedUsd, usd)
	if err != nil {
		return err
	}
	e.GuaranteedUsd = next
	t.emit(&event.GuaranteedUsdChanged{Asset: string(id), Delta: usd, Value: next})
	return nil
}

func (t *tx) decreaseGuaranteedUsd(id AssetID, usd int64) error {
	if usd == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	if usd > e.GuaranteedUsd {
		return fmt.Errorf("%w: %s guaranteed usd %d below %d", ErrInvalidState, id, e.GuaranteedUsd, usd)
	}
	e.GuaranteedUsd -= usd
	t.emit(&event.GuaranteedUsdChanged{Asset: string(id), Delta: -usd, Value: e.GuaranteedUsd})
	return nil
}

func (t *tx) increaseShortSize(id AssetID, usd int64) error {
	if usd == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	next, err := checkedAdd(e.ShortSize, usd)
	if err != nil {
		return err
	}
	if e.MaxShortSize > 0 && next > e.MaxShortSize {
		return fmt.Errorf("%w: %s short size %d exceeds max %d", ErrOutOfRange, id, next, e.MaxShortSize)
	}
	e.ShortSize = next
	t.emit(&event.ShortSizeChanged{Asset: string(id), Delta: usd, Value: next, AveragePrice: e.ShortAveragePrice})
	return nil
}

// decreaseShortSize floors at zero.
func (t *tx) decreaseShortSize(id AssetID, usd int64) error {
	if usd == 0 {
		return nil
	}
	e, err := t.asset(id)
	if err != nil {
		return err
	}
	delta := usd
	if delta > e.ShortSize {
		delta = e.ShortSize
	}
	e.ShortSize -= delta
	t.emit(&event.ShortSizeChanged{Asset: string(id), Delta: -delta, Value: e.ShortSize, AveragePrice: e.ShortAveragePrice})
	return nil
}

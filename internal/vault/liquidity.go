package vault

import (
	"fmt"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"

	"github.com/google/uuid"
)

// AddLiquidity deposits amount of asset from caller and mints pool shares
// to caller. Returns the shares minted.
func (v *Vault) AddLiquidity(caller uuid.UUID, asset AssetID, amount int64) (int64, error) {
	var minted int64
	err := v.run("add_liquidity", func(t *tx) error {
		if amount <= 0 {
			return fmt.Errorf("%w: amount %d must be positive", ErrInvalidState, amount)
		}
		if _, err := t.whitelisted(asset); err != nil {
			return err
		}
		if err := t.accrueFunding(asset); err != nil {
			return err
		}
		if err := t.transferIn(asset, caller, amount); err != nil {
			return err
		}

		lpAmount, err := t.lpValue(asset, amount)
		if err != nil {
			return err
		}
		fees := t.state.Fees
		bps, err := t.feeBasisPoints(asset, lpAmount, fees.MintBurnFeeBps, fees.TaxBps, true)
		if err != nil {
			return err
		}
		afterFee, err := t.collectSwapFees(asset, amount, bps)
		if err != nil {
			return err
		}
		if minted, err = t.lpValue(asset, afterFee); err != nil {
			return err
		}
		if minted <= 0 {
			return fmt.Errorf("%w: %d %s mints no shares", ErrInvalidState, amount, asset)
		}

		if err := t.increaseLpDebt(asset, minted); err != nil {
			return err
		}
		if err := t.increasePool(asset, afterFee); err != nil {
			return err
		}
		if err := t.mint(caller, minted); err != nil {
			return err
		}

		t.emit(&event.LiquidityAdded{
			Account:      caller,
			Asset:        string(asset),
			Amount:       amount,
			AmountAfter:  afterFee,
			SharesMinted: minted,
			FeeBps:       bps,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return minted, nil
}

// RemoveLiquidity burns shares from caller and pays the redeemed amount of
// asset, less fees, to receiver.
func (v *Vault) RemoveLiquidity(caller uuid.UUID, asset AssetID, shares int64, receiver uuid.UUID) (int64, error) {
	var amountOut int64
	err := v.run("remove_liquidity", func(t *tx) error {
		if shares <= 0 {
			return fmt.Errorf("%w: shares %d must be positive", ErrInvalidState, shares)
		}
		if _, err := t.whitelisted(asset); err != nil {
			return err
		}
		if err := t.accrueFunding(asset); err != nil {
			return err
		}

		redemption, err := t.redemptionAmount(asset, shares)
		if err != nil {
			return err
		}
		if redemption <= 0 {
			return fmt.Errorf("%w: %d shares redeem nothing", ErrInvalidState, shares)
		}

		if err := t.decreaseLpDebt(asset, shares); err != nil {
			return err
		}
		if err := t.decreasePool(asset, redemption); err != nil {
			return err
		}
		if err := t.burn(caller, shares); err != nil {
			return err
		}

		fees := t.state.Fees
		bps, err := t.feeBasisPoints(asset, shares, fees.MintBurnFeeBps, fees.TaxBps, false)
		if err != nil {
			return err
		}
		if amountOut, err = t.collectSwapFees(asset, redemption, bps); err != nil {
			return err
		}
		if amountOut <= 0 {
			return fmt.Errorf("%w: redemption of %d shares is zero after fees", ErrInvalidState, shares)
		}
		if err := t.transferOut(asset, receiver, amountOut); err != nil {
			return err
		}

		t.emit(&event.LiquidityRemoved{
			Account:      caller,
			Receiver:     receiver,
			Asset:        string(asset),
			SharesBurned: shares,
			Redemption:   redemption,
			AmountOut:    amountOut,
			FeeBps:       bps,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amountOut, nil
}

// DirectPoolDeposit adds amount of asset to the pool without minting
// shares.
func (v *Vault) DirectPoolDeposit(caller uuid.UUID, asset AssetID, amount int64) error {
	return v.run("direct_pool_deposit", func(t *tx) error {
		if amount <= 0 {
			return fmt.Errorf("%w: amount %d must be positive", ErrInvalidState, amount)
		}
		if _, err := t.whitelisted(asset); err != nil {
			return err
		}
		if err := t.transferIn(asset, caller, amount); err != nil {
			return err
		}
		if err := t.increasePool(asset, amount); err != nil {
			return err
		}
		t.emit(&event.DirectPoolDeposit{Account: caller, Asset: string(asset), Amount: amount})
		return nil
	})
}

// Swap exchanges amountIn of assetIn from caller for assetOut at oracle
// prices. The fee is taken from the output leg.
func (v *Vault) Swap(caller uuid.UUID, assetIn, assetOut AssetID, amountIn int64, receiver uuid.UUID) (int64, error) {
	var amountOutAfterFees int64
	err := v.run("swap", func(t *tx) error {
		if assetIn == assetOut {
			return fmt.Errorf("%w: cannot swap %s for itself", ErrInvalidState, assetIn)
		}
		if amountIn <= 0 {
			return fmt.Errorf("%w: amount %d must be positive", ErrInvalidState, amountIn)
		}
		inEntry, err := t.whitelisted(assetIn)
		if err != nil {
			return err
		}
		outEntry, err := t.whitelisted(assetOut)
		if err != nil {
			return err
		}
		if err := t.accrueFunding(assetIn); err != nil {
			return err
		}
		if err := t.accrueFunding(assetOut); err != nil {
			return err
		}
		if err := t.transferIn(assetIn, caller, amountIn); err != nil {
			return err
		}

		amountOut, err := t.swapAmountOut(assetIn, inEntry, assetOut, outEntry, amountIn)
		if err != nil {
			return err
		}
		if amountOut <= 0 {
			return fmt.Errorf("%w: swap of %d %s yields nothing", ErrInvalidState, amountIn, assetIn)
		}

		lpAmount, err := t.lpValue(assetIn, amountIn)
		if err != nil {
			return err
		}
		bps, err := t.swapFeeBasisPoints(assetIn, assetOut, lpAmount)
		if err != nil {
			return err
		}
		if amountOutAfterFees, err = t.collectSwapFees(assetOut, amountOut, bps); err != nil {
			return err
		}

		if err := t.increaseLpDebt(assetIn, lpAmount); err != nil {
			return err
		}
		if err := t.decreaseLpDebt(assetOut, lpAmount); err != nil {
			return err
		}
		if err := t.increasePool(assetIn, amountIn); err != nil {
			return err
		}
		if err := t.decreasePool(assetOut, amountOut); err != nil {
			return err
		}
		if amountOutAfterFees <= 0 {
			return fmt.Errorf("%w: swap output is zero after fees", ErrInvalidState)
		}
		if err := t.transferOut(assetOut, receiver, amountOutAfterFees); err != nil {
			return err
		}

		t.emit(&event.Swap{
			Account:        caller,
			Receiver:       receiver,
			AssetIn:        string(assetIn),
			AssetOut:       string(assetOut),
			AmountIn:       amountIn,
			AmountOut:      amountOut,
			AmountOutAfter: amountOutAfterFees,
			FeeBps:         bps,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amountOutAfterFees, nil
}

// swapAmountOut converts amountIn at oracle prices and rescales between
// the two assets' decimals.
func (t *tx) swapAmountOut(assetIn AssetID, in *AssetEntry, assetOut AssetID, out *AssetEntry, amountIn int64) (int64, error) {
	priceIn, err := t.price(assetIn)
	if err != nil {
		return 0, err
	}
	priceOut, err := t.price(assetOut)
	if err != nil {
		return 0, err
	}
	raw, err := t.mulDiv(amountIn, priceIn, priceOut)
	if err != nil {
		return 0, err
	}
	adjusted, err := fpmath.AdjustDecimals(raw, in.Config.Decimals, out.Config.Decimals)
	if err != nil {
		return 0, arith(err)
	}
	return adjusted, nil
}

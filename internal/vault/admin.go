package vault

import (
	"fmt"
	"time"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"

	"github.com/google/uuid"
)

const (
	MinFundingInterval   = int64(time.Hour / time.Second)
	MaxFundingRateFactor = int64(10_000)
)

// ValidateFees checks every fee is within [0, MaxFeeBasisPoints].
func ValidateFees(f FeeSchedule) error {
	for _, fee := range []struct {
		name string
		bps  int64
	}{
		{"tax", f.TaxBps},
		{"stable_tax", f.StableTaxBps},
		{"mint_burn_fee", f.MintBurnFeeBps},
		{"swap_fee", f.SwapFeeBps},
		{"stable_swap_fee", f.StableSwapFeeBps},
	} {
		if fee.bps < 0 || fee.bps > fpmath.MaxFeeBasisPoints {
			return fmt.Errorf("%w: %s %d bps exceeds %d", ErrOutOfRange, fee.name, fee.bps, fpmath.MaxFeeBasisPoints)
		}
	}
	return nil
}

func ValidateFunding(p FundingParams) error {
	if p.Interval < MinFundingInterval {
		return fmt.Errorf("%w: funding interval %ds below %ds", ErrOutOfRange, p.Interval, MinFundingInterval)
	}
	if p.Factor < 0 || p.Factor > MaxFundingRateFactor {
		return fmt.Errorf("%w: funding rate factor %d", ErrOutOfRange, p.Factor)
	}
	if p.StableFactor < 0 || p.StableFactor > MaxFundingRateFactor {
		return fmt.Errorf("%w: stable funding rate factor %d", ErrOutOfRange, p.StableFactor)
	}
	return nil
}

func ValidatePositionParams(p PositionParams) error {
	if p.MarginFeeBps < 0 || p.MarginFeeBps > fpmath.MaxFeeBasisPoints {
		return fmt.Errorf("%w: margin fee %d bps", ErrOutOfRange, p.MarginFeeBps)
	}
	if p.MinProfitTime < 0 {
		return fmt.Errorf("%w: min profit time %d", ErrOutOfRange, p.MinProfitTime)
	}
	return nil
}

func validateAssetConfig(cfg AssetConfig) error {
	if cfg.Decimals < 0 || cfg.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("%w: decimals %d", ErrOutOfRange, cfg.Decimals)
	}
	if cfg.Weight < 0 || cfg.MaxLpAmount < 0 {
		return fmt.Errorf("%w: negative weight %d or max lp amount %d", ErrOutOfRange, cfg.Weight, cfg.MaxLpAmount)
	}
	if cfg.MinProfitBps < 0 || cfg.MinProfitBps > fpmath.BasisPointsDivisor {
		return fmt.Errorf("%w: min profit %d bps", ErrOutOfRange, cfg.MinProfitBps)
	}
	return nil
}

func weightContribution(cfg AssetConfig) int64 {
	if !cfg.IsWhitelisted {
		return 0
	}
	return cfg.Weight
}

// SetAssetConfig creates or replaces an asset's configuration. A new asset
// gets a zeroed ledger entry and the vault account is registered as its
// holder. Decimals are fixed once set.
func (v *Vault) SetAssetConfig(caller uuid.UUID, asset AssetID, cfg AssetConfig) error {
	return v.run("set_asset_config", func(t *tx) error {
		if err := v.governor.AssertIsGovernor(caller); err != nil {
			return err
		}
		if err := asset.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if asset == v.shares.Asset() {
			return fmt.Errorf("%w: %s is the share token", ErrInvalidState, asset)
		}
		if err := validateAssetConfig(cfg); err != nil {
			return err
		}
		if _, err := t.price(asset); err != nil {
			return err
		}

		e, err := t.asset(asset)
		created := false
		if err != nil {
			e = &AssetEntry{}
			t.assets[asset] = e
			created = true
		} else if e.Config.Decimals != cfg.Decimals {
			return fmt.Errorf("%w: %s decimals are %d", ErrInvalidState, asset, e.Config.Decimals)
		}

		st := t.touchState()
		total := st.TotalWeights - weightContribution(e.Config) + weightContribution(cfg)
		if total < 0 {
			return fmt.Errorf("%w: total weights %d", ErrInvalidState, total)
		}
		st.TotalWeights = total
		e.Config = cfg
		t.register(asset, v.account)

		t.emit(&event.AssetConfigUpdated{
			Asset:         string(asset),
			Decimals:      cfg.Decimals,
			Weight:        cfg.Weight,
			MinProfitBps:  cfg.MinProfitBps,
			MaxLpAmount:   cfg.MaxLpAmount,
			IsWhitelisted: cfg.IsWhitelisted,
			IsStable:      cfg.IsStable,
			IsShortable:   cfg.IsShortable,
			TotalWeights:  total,
			Created:       created,
		})
		return nil
	})
}

func (v *Vault) SetFees(caller uuid.UUID, fees FeeSchedule) error {
	return v.run("set_fees", func(t *tx) error {
		if err := v.governor.AssertIsGovernor(caller); err != nil {
			return err
		}
		if err := ValidateFees(fees); err != nil {
			return err
		}
		t.touchState().Fees = fees
		t.emit(&event.FeeScheduleUpdated{
			TaxBps:           fees.TaxBps,
			StableTaxBps:     fees.StableTaxBps,
			MintBurnFeeBps:   fees.MintBurnFeeBps,
			SwapFeeBps:       fees.SwapFeeBps,
			StableSwapFeeBps: fees.StableSwapFeeBps,
			HasDynamicFees:   fees.HasDynamicFees,
		})
		return nil
	})
}

func (v *Vault) SetFundingRate(caller uuid.UUID, params FundingParams) error {
	return v.run("set_funding_rate", func(t *tx) error {
		if err := v.governor.AssertIsGovernor(caller); err != nil {
			return err
		}
		if err := ValidateFunding(params); err != nil {
			return err
		}
		t.touchState().Funding = params
		t.emit(&event.FundingParamsUpdated{
			FundingInterval:         params.Interval,
			FundingRateFactor:       params.Factor,
			StableFundingRateFactor: params.StableFactor,
		})
		return nil
	})
}

func (v *Vault) SetPositionFees(caller uuid.UUID, params PositionParams) error {
	return v.run("set_position_fees", func(t *tx) error {
		if err := v.governor.AssertIsGovernor(caller); err != nil {
			return err
		}
		if err := ValidatePositionParams(params); err != nil {
			return err
		}
		t.touchState().Positions = params
		t.emit(&event.PositionParamsUpdated{
			MarginFeeBps:  params.MarginFeeBps,
			MinProfitTime: params.MinProfitTime,
		})
		return nil
	})
}

// SetMaxShortSize caps aggregate short size on an index asset. 0 removes
// the cap.
func (v *Vault) SetMaxShortSize(caller uuid.UUID, asset AssetID, maxShortSize int64) error {
	return v.run("set_max_short_size", func(t *tx) error {
		if err := v.governor.AssertIsGovernor(caller); err != nil {
			return err
		}
		if maxShortSize < 0 {
			return fmt.Errorf("%w: max short size %d", ErrOutOfRange, maxShortSize)
		}
		e, err := t.asset(asset)
		if err != nil {
			return err
		}
		e.MaxShortSize = maxShortSize
		t.emit(&event.MaxShortSizeUpdated{Asset: string(asset), MaxShortSize: maxShortSize})
		return nil
	})
}

// WithdrawFees pays the asset's whole fee reserve to receiver.
func (v *Vault) WithdrawFees(caller uuid.UUID, asset AssetID, receiver uuid.UUID) (int64, error) {
	var amount int64
	err := v.run("withdraw_fees", func(t *tx) error {
		if err := v.governor.AssertIsGovernor(caller); err != nil {
			return err
		}
		e, err := t.asset(asset)
		if err != nil {
			return err
		}
		amount = e.FeeReserve
		if amount == 0 {
			return fmt.Errorf("%w: %s fee reserve is empty", ErrInvalidState, asset)
		}
		e.FeeReserve = 0
		if err := t.transferOut(asset, receiver, amount); err != nil {
			return err
		}
		t.emit(&event.FeesWithdrawn{Asset: string(asset), Receiver: receiver, Amount: amount})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// AccrueFunding brings an asset's funding rate current. Anyone may call it.
func (v *Vault) AccrueFunding(asset AssetID) error {
	return v.run("accrue_funding", func(t *tx) error {
		if _, err := t.asset(asset); err != nil {
			return err
		}
		return t.accrueFunding(asset)
	})
}

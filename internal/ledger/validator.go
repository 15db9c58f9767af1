package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	assets := make([]string, 0, len(totals))
	for assetID := range totals {
		assets = append(assets, string(assetID))
	}
	sort.Strings(assets)

	for _, a := range assets {
		if total := totals[AssetID(a)]; total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", a, total)
		}
	}

	return nil
}

// ValidateHoldersNonNegative checks every holder wallet is >= 0.
// System and external accounts carry the contra side and may be negative.
func (v *InvariantValidator) ValidateHoldersNonNegative() error {
	for key := range v.tracker.balances {
		if key.Scope != AccountScopeHolder {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

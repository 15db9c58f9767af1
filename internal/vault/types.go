package vault

import (
	"crypto/sha256"
	"encoding/hex"

	"PerpVault/internal/ledger"

	"github.com/google/uuid"
)

// AssetID identifies an asset type by symbol.
type AssetID = ledger.AssetID

// AssetConfig is the admin-set configuration of one asset type.
type AssetConfig struct {
	Decimals      int32 `json:"decimals"`
	Weight        int64 `json:"weight"`
	MinProfitBps  int64 `json:"min_profit_bps"`
	MaxLpAmount   int64 `json:"max_lp_amount"` // 0 = unlimited
	IsWhitelisted bool  `json:"is_whitelisted"`
	IsStable      bool  `json:"is_stable"`
	IsShortable   bool  `json:"is_shortable"`
}

// AssetEntry is the per-asset ledger row.
//
// Amounts are asset base units except GuaranteedUsd and ShortSize (USD,
// 1e8) and LpDebtAmount (share units). Invariants after every commit:
// PoolAmount >= ReservedAmount, vault custody >= PoolAmount, and
// ShortSize <= MaxShortSize when MaxShortSize > 0.
type AssetEntry struct {
	Config                AssetConfig `json:"config"`
	PoolAmount            int64       `json:"pool_amount"`
	LpDebtAmount          int64       `json:"lp_debt_amount"`
	CumulativeFundingRate int64       `json:"cumulative_funding_rate"`
	LastFundingTime       int64       `json:"last_funding_time"`
	ReservedAmount        int64       `json:"reserved_amount"`
	GuaranteedUsd         int64       `json:"guaranteed_usd"`
	ShortSize             int64       `json:"short_size"`
	MaxShortSize          int64       `json:"max_short_size"`
	ShortAveragePrice     int64       `json:"short_average_price"`
	FeeReserve            int64       `json:"fee_reserve"`
}

// FeeSchedule holds every swap/mint/burn fee in basis points.
type FeeSchedule struct {
	TaxBps           int64 `json:"tax_bps"`
	StableTaxBps     int64 `json:"stable_tax_bps"`
	MintBurnFeeBps   int64 `json:"mint_burn_fee_bps"`
	SwapFeeBps       int64 `json:"swap_fee_bps"`
	StableSwapFeeBps int64 `json:"stable_swap_fee_bps"`
	HasDynamicFees   bool  `json:"has_dynamic_fees"`
}

// FundingParams configure funding accrual. Interval is in seconds.
type FundingParams struct {
	Interval     int64 `json:"funding_interval"`
	Factor       int64 `json:"funding_rate_factor"`
	StableFactor int64 `json:"stable_funding_rate_factor"`
}

// PositionParams configure position fees. MinProfitTime is in seconds.
type PositionParams struct {
	MarginFeeBps  int64 `json:"margin_fee_bps"`
	MinProfitTime int64 `json:"min_profit_time"`
}

type globalState struct {
	TotalWeights int64
	Fees         FeeSchedule
	Funding      FundingParams
	Positions    PositionParams
}

// Position is a leveraged position. Size, Collateral and RealisedPnl are
// USD (1e8); ReserveAmount is in collateral-asset units.
type Position struct {
	Size              int64 `json:"size"`
	Collateral        int64 `json:"collateral"`
	AveragePrice      int64 `json:"average_price"`
	EntryFundingRate  int64 `json:"entry_funding_rate"`
	ReserveAmount     int64 `json:"reserve_amount"`
	RealisedPnl       int64 `json:"realised_pnl"`
	LastIncreasedTime int64 `json:"last_increased_time"`
}

// PositionKey identifies a position: one per trader, collateral, index and side.
type PositionKey struct {
	Trader     uuid.UUID `json:"trader"`
	Collateral AssetID   `json:"collateral_asset"`
	Index      AssetID   `json:"index_asset"`
	IsLong     bool      `json:"is_long"`
}

// ID returns the SHA-256 of the key's canonical bytes.
func (k PositionKey) ID() [32]byte {
	buf := make([]byte, 0, 16+len(k.Collateral)+len(k.Index)+3)
	buf = append(buf, k.Trader[:]...)
	buf = appendString(buf, string(k.Collateral))
	buf = appendString(buf, string(k.Index))
	if k.IsLong {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return sha256.Sum256(buf)
}

// Hex returns ID as a lowercase hex string.
func (k PositionKey) Hex() string {
	id := k.ID()
	return hex.EncodeToString(id[:])
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

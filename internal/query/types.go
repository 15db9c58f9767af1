package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fixed-point renderings. Raw integers are kept next to every rendered
// value so clients never have to parse decimals for arithmetic.

func usd(v int64) decimal.Decimal   { return decimal.New(v, -8) }
func price(v int64) decimal.Decimal { return decimal.New(v, -8) }
func rate(v int64) decimal.Decimal  { return decimal.New(v, -6) }
func bps(v int64) decimal.Decimal   { return decimal.New(v, -2) } // percent

func units(v int64, decimals int32) decimal.Decimal { return decimal.New(v, -decimals) }

// AssetResponse is the live AssetLedger row of one asset.
type AssetResponse struct {
	Asset         string `json:"asset"`
	Decimals      int32  `json:"decimals"`
	Weight        int64  `json:"weight"`
	IsWhitelisted bool   `json:"is_whitelisted"`
	IsStable      bool   `json:"is_stable"`
	IsShortable   bool   `json:"is_shortable"`
	MinProfitBps  int64  `json:"min_profit_bps"`
	MaxLpAmount   int64  `json:"max_lp_amount"`

	PoolAmount            int64 `json:"pool_amount"`
	LpDebtAmount          int64 `json:"lp_debt_amount"`
	ReservedAmount        int64 `json:"reserved_amount"`
	GuaranteedUsd         int64 `json:"guaranteed_usd"`
	ShortSize             int64 `json:"short_size"`
	ShortAveragePrice     int64 `json:"short_average_price"`
	MaxShortSize          int64 `json:"max_short_size"`
	FeeReserve            int64 `json:"fee_reserve"`
	CumulativeFundingRate int64 `json:"cumulative_funding_rate"`
	LastFundingTime       int64 `json:"last_funding_time"`
	VaultBalance          int64 `json:"vault_balance"`
	Price                 int64 `json:"price,omitempty"`

	Display AssetDisplay `json:"display"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// AssetDisplay holds human-readable renderings of AssetResponse amounts.
type AssetDisplay struct {
	PoolAmount            decimal.Decimal `json:"pool_amount"`
	ReservedAmount        decimal.Decimal `json:"reserved_amount"`
	FeeReserve            decimal.Decimal `json:"fee_reserve"`
	GuaranteedUsd         decimal.Decimal `json:"guaranteed_usd"`
	ShortSize             decimal.Decimal `json:"short_size"`
	ShortAveragePrice     decimal.Decimal `json:"short_average_price"`
	CumulativeFundingRate decimal.Decimal `json:"cumulative_funding_rate"`
	Price                 decimal.Decimal `json:"price"`
}

// PositionResponse is an open position. Size, collateral and PnL are USD.
type PositionResponse struct {
	PositionID        string    `json:"position_id"`
	Trader            uuid.UUID `json:"trader"`
	CollateralAsset   string    `json:"collateral_asset"`
	IndexAsset        string    `json:"index_asset"`
	IsLong            bool      `json:"is_long"`
	Size              int64     `json:"size"`
	Collateral        int64     `json:"collateral"`
	AveragePrice      int64     `json:"average_price"`
	EntryFundingRate  int64     `json:"entry_funding_rate"`
	ReserveAmount     int64     `json:"reserve_amount"`
	RealisedPnl       int64     `json:"realised_pnl"`
	LastIncreasedTime int64     `json:"last_increased_time"`

	// Live queries only: unrealized PnL at the current price.
	HasProfit *bool  `json:"has_profit,omitempty"`
	Delta     *int64 `json:"delta,omitempty"`

	Display PositionDisplay `json:"display"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

type PositionDisplay struct {
	Size         decimal.Decimal  `json:"size"`
	Collateral   decimal.Decimal  `json:"collateral"`
	AveragePrice decimal.Decimal  `json:"average_price"`
	RealisedPnl  decimal.Decimal  `json:"realised_pnl"`
	Delta        *decimal.Decimal `json:"delta,omitempty"`
}

// DeltaResponse is the unrealized PnL of one position.
type DeltaResponse struct {
	PositionID   string          `json:"position_id"`
	HasProfit    bool            `json:"has_profit"`
	Delta        int64           `json:"delta"`
	DeltaUsd     decimal.Decimal `json:"delta_usd"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// FeesResponse is the current fee, funding and position configuration.
type FeesResponse struct {
	TaxBps                  int64 `json:"tax_bps"`
	StableTaxBps            int64 `json:"stable_tax_bps"`
	MintBurnFeeBps          int64 `json:"mint_burn_fee_bps"`
	SwapFeeBps              int64 `json:"swap_fee_bps"`
	StableSwapFeeBps        int64 `json:"stable_swap_fee_bps"`
	HasDynamicFees          bool  `json:"has_dynamic_fees"`
	MarginFeeBps            int64 `json:"margin_fee_bps"`
	MinProfitTime           int64 `json:"min_profit_time"`
	FundingInterval         int64 `json:"funding_interval"`
	FundingRateFactor       int64 `json:"funding_rate_factor"`
	StableFundingRateFactor int64 `json:"stable_funding_rate_factor"`
	TotalWeights            int64 `json:"total_weights"`
	AsOfSequence            int64 `json:"as_of_sequence"`
}

// SwapQuoteResponse is the fee a swap would pay at current state.
type SwapQuoteResponse struct {
	AssetIn      string          `json:"asset_in"`
	AssetOut     string          `json:"asset_out"`
	AmountIn     int64           `json:"amount_in"`
	FeeBps       int64           `json:"fee_bps"`
	FeePercent   decimal.Decimal `json:"fee_percent"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// ShareSupplyResponse is the pool-share token supply.
type ShareSupplyResponse struct {
	Asset        string          `json:"asset"`
	TotalSupply  int64           `json:"total_supply"`
	Display      decimal.Decimal `json:"display"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PriceResponse is the latest accepted oracle price of an asset.
type PriceResponse struct {
	Asset       string          `json:"asset"`
	Price       int64           `json:"price"`
	Display     decimal.Decimal `json:"display"`
	Sequence    int64           `json:"price_sequence"`
	TimestampUs int64           `json:"timestamp_us"`
	Gaps        int64           `json:"gaps"`
}

// FundingHistoryResponse is one cumulative funding step from the projection.
type FundingHistoryResponse struct {
	EventSequence  int64           `json:"event_sequence"`
	Asset          string          `json:"asset"`
	RateDelta      int64           `json:"rate_delta"`
	CumulativeRate int64           `json:"cumulative_rate"`
	Intervals      int64           `json:"intervals"`
	BucketTime     int64           `json:"bucket_time"`
	Timestamp      time.Time       `json:"timestamp"`
	Display        decimal.Decimal `json:"cumulative_rate_display"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

// PnLHistoryResponse is one realized PnL settlement from the projection.
type PnLHistoryResponse struct {
	EventSequence int64           `json:"event_sequence"`
	PositionID    string          `json:"position_id"`
	Trader        uuid.UUID       `json:"trader"`
	HasProfit     bool            `json:"has_profit"`
	Delta         int64           `json:"delta"`
	DeltaUsd      decimal.Decimal `json:"delta_usd"`
	Timestamp     time.Time       `json:"timestamp"`
	AsOfSequence  int64           `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	InvariantError  string  `json:"invariant_error,omitempty"`
	CustodyError    string  `json:"custody_error,omitempty"`
	StateHash       string  `json:"state_hash"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}

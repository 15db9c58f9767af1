package event

type AssetConfigUpdated struct {
	Asset         string `json:"asset"`
	Decimals      int32  `json:"decimals"`
	Weight        int64  `json:"weight"`
	MinProfitBps  int64  `json:"min_profit_bps"`
	MaxLpAmount   int64  `json:"max_lp_amount"`
	IsWhitelisted bool   `json:"is_whitelisted"`
	IsStable      bool   `json:"is_stable"`
	IsShortable   bool   `json:"is_shortable"`
	TotalWeights  int64  `json:"total_weights"`
	Created       bool   `json:"created"`
}

func (e *AssetConfigUpdated) EventType() EventType { return EventTypeAssetConfigUpdated }
func (e *AssetConfigUpdated) AssetRef() *string    { return assetRef(e.Asset) }

type FeeScheduleUpdated struct {
	TaxBps           int64 `json:"tax_bps"`
	StableTaxBps     int64 `json:"stable_tax_bps"`
	MintBurnFeeBps   int64 `json:"mint_burn_fee_bps"`
	SwapFeeBps       int64 `json:"swap_fee_bps"`
	StableSwapFeeBps int64 `json:"stable_swap_fee_bps"`
	HasDynamicFees   bool  `json:"has_dynamic_fees"`
}

func (e *FeeScheduleUpdated) EventType() EventType { return EventTypeFeeScheduleUpdated }
func (e *FeeScheduleUpdated) AssetRef() *string    { return nil }

type FundingParamsUpdated struct {
	FundingInterval         int64 `json:"funding_interval"`
	FundingRateFactor       int64 `json:"funding_rate_factor"`
	StableFundingRateFactor int64 `json:"stable_funding_rate_factor"`
}

func (e *FundingParamsUpdated) EventType() EventType { return EventTypeFundingParamsUpdated }
func (e *FundingParamsUpdated) AssetRef() *string    { return nil }

type PositionParamsUpdated struct {
	MarginFeeBps  int64 `json:"margin_fee_bps"`
	MinProfitTime int64 `json:"min_profit_time"`
}

func (e *PositionParamsUpdated) EventType() EventType { return EventTypePositionParamsUpdated }
func (e *PositionParamsUpdated) AssetRef() *string    { return nil }

type MaxShortSizeUpdated struct {
	Asset        string `json:"asset"`
	MaxShortSize int64  `json:"max_short_size"`
}

func (e *MaxShortSizeUpdated) EventType() EventType { return EventTypeMaxShortSizeUpdated }
func (e *MaxShortSizeUpdated) AssetRef() *string    { return assetRef(e.Asset) }

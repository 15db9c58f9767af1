package event

import "github.com/google/uuid"

type LiquidityAdded struct {
	Account      uuid.UUID `json:"account"`
	Asset        string    `json:"asset"`
	Amount       int64     `json:"amount"`
	AmountAfter  int64     `json:"amount_after_fee"`
	SharesMinted int64     `json:"shares_minted"`
	FeeBps       int64     `json:"fee_bps"`
}

func (e *LiquidityAdded) EventType() EventType { return EventTypeLiquidityAdded }
func (e *LiquidityAdded) AssetRef() *string    { return assetRef(e.Asset) }

type LiquidityRemoved struct {
	Account      uuid.UUID `json:"account"`
	Receiver     uuid.UUID `json:"receiver"`
	Asset        string    `json:"asset"`
	SharesBurned int64     `json:"shares_burned"`
	Redemption   int64     `json:"redemption"`
	AmountOut    int64     `json:"amount_out"`
	FeeBps       int64     `json:"fee_bps"`
}

func (e *LiquidityRemoved) EventType() EventType { return EventTypeLiquidityRemoved }
func (e *LiquidityRemoved) AssetRef() *string    { return assetRef(e.Asset) }

type DirectPoolDeposit struct {
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"`
}

func (e *DirectPoolDeposit) EventType() EventType { return EventTypeDirectPoolDeposit }
func (e *DirectPoolDeposit) AssetRef() *string    { return assetRef(e.Asset) }

// Swap has no single asset context; it touches both legs.
type Swap struct {
	Account        uuid.UUID `json:"account"`
	Receiver       uuid.UUID `json:"receiver"`
	AssetIn        string    `json:"asset_in"`
	AssetOut       string    `json:"asset_out"`
	AmountIn       int64     `json:"amount_in"`
	AmountOut      int64     `json:"amount_out"`
	AmountOutAfter int64     `json:"amount_out_after_fee"`
	FeeBps         int64     `json:"fee_bps"`
}

func (e *Swap) EventType() EventType { return EventTypeSwap }
func (e *Swap) AssetRef() *string    { return nil }

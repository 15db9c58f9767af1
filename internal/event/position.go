package event

import "github.com/google/uuid"

// PositionRef identifies a position in every position event.
// ID is the hex SHA-256 of the position key.
type PositionRef struct {
	ID         string    `json:"position_id"`
	Trader     uuid.UUID `json:"trader"`
	Collateral string    `json:"collateral_asset"`
	Index      string    `json:"index_asset"`
	IsLong     bool      `json:"is_long"`
}

// PositionIncreased is emitted after a position was opened or increased.
// Size and collateral are USD (1e8); CollateralAmount is in asset units.
type PositionIncreased struct {
	PositionRef
	CollateralAmount int64 `json:"collateral_amount"`
	CollateralDelta  int64 `json:"collateral_delta_usd"`
	SizeDelta        int64 `json:"size_delta"`
	Price            int64 `json:"price"`
	Fee              int64 `json:"fee"`
}

func (e *PositionIncreased) EventType() EventType { return EventTypePositionIncreased }
func (e *PositionIncreased) AssetRef() *string    { return assetRef(e.Index) }

type PositionDecreased struct {
	PositionRef
	Receiver        uuid.UUID `json:"receiver"`
	CollateralDelta int64     `json:"collateral_delta"`
	SizeDelta       int64     `json:"size_delta"`
	Price           int64     `json:"price"`
	Fee             int64     `json:"fee"`
	UsdOut          int64     `json:"usd_out"`
	AmountOut       int64     `json:"amount_out"`
}

func (e *PositionDecreased) EventType() EventType { return EventTypePositionDecreased }
func (e *PositionDecreased) AssetRef() *string    { return assetRef(e.Index) }

// PositionUpdated carries the full position record after a partial change.
type PositionUpdated struct {
	PositionRef
	Size              int64 `json:"size"`
	Collateral        int64 `json:"collateral"`
	AveragePrice      int64 `json:"average_price"`
	EntryFundingRate  int64 `json:"entry_funding_rate"`
	ReserveAmount     int64 `json:"reserve_amount"`
	RealisedPnl       int64 `json:"realised_pnl"`
	LastIncreasedTime int64 `json:"last_increased_time"`
}

func (e *PositionUpdated) EventType() EventType { return EventTypePositionUpdated }
func (e *PositionUpdated) AssetRef() *string    { return assetRef(e.Index) }

// PositionClosed carries the final values of a removed position.
type PositionClosed struct {
	PositionRef
	Size          int64 `json:"size"`
	Collateral    int64 `json:"collateral"`
	AveragePrice  int64 `json:"average_price"`
	ReserveAmount int64 `json:"reserve_amount"`
	RealisedPnl   int64 `json:"realised_pnl"`
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }
func (e *PositionClosed) AssetRef() *string    { return assetRef(e.Index) }

// PnLRealized reports the proportional PnL settled by a decrease.
type PnLRealized struct {
	PositionRef
	HasProfit bool  `json:"has_profit"`
	Delta     int64 `json:"delta"`
}

func (e *PnLRealized) EventType() EventType { return EventTypePnLRealized }
func (e *PnLRealized) AssetRef() *string    { return assetRef(e.Index) }

package event

import "github.com/google/uuid"

// SwapFeesCollected is emitted whenever a swap, mint or burn fee is
// credited to an asset's fee reserve.
type SwapFeesCollected struct {
	Asset      string `json:"asset"`
	FeeTokens  int64  `json:"fee_tokens"`
	FeeUsd     int64  `json:"fee_usd"`
	FeeBps     int64  `json:"fee_bps"`
	FeeReserve int64  `json:"fee_reserve"`
}

func (e *SwapFeesCollected) EventType() EventType { return EventTypeSwapFeesCollected }
func (e *SwapFeesCollected) AssetRef() *string    { return assetRef(e.Asset) }

// MarginFeesCollected records position and funding fees charged on a
// position change, in collateral-asset units and USD.
type MarginFeesCollected struct {
	Asset      string `json:"asset"`
	PositionID string `json:"position_id"`
	FeeTokens  int64  `json:"fee_tokens"`
	FeeUsd     int64  `json:"fee_usd"`
	FeeReserve int64  `json:"fee_reserve"`
}

func (e *MarginFeesCollected) EventType() EventType { return EventTypeMarginFeesCollected }
func (e *MarginFeesCollected) AssetRef() *string    { return assetRef(e.Asset) }

type FeesWithdrawn struct {
	Asset    string    `json:"asset"`
	Receiver uuid.UUID `json:"receiver"`
	Amount   int64     `json:"amount"`
}

func (e *FeesWithdrawn) EventType() EventType { return EventTypeFeesWithdrawn }
func (e *FeesWithdrawn) AssetRef() *string    { return assetRef(e.Asset) }

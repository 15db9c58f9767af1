package event

// AssetLedger accumulator changes. Delta is signed; Value is the resulting
// amount after the change.

type PoolAmountChanged struct {
	Asset string `json:"asset"`
	Delta int64  `json:"delta"` // asset units
	Value int64  `json:"value"`
}

func (e *PoolAmountChanged) EventType() EventType { return EventTypePoolAmountChanged }
func (e *PoolAmountChanged) AssetRef() *string    { return assetRef(e.Asset) }

type LpDebtChanged struct {
	Asset string `json:"asset"`
	Delta int64  `json:"delta"` // share units
	Value int64  `json:"value"`
}

func (e *LpDebtChanged) EventType() EventType { return EventTypeLpDebtChanged }
func (e *LpDebtChanged) AssetRef() *string    { return assetRef(e.Asset) }

type ReservedAmountChanged struct {
	Asset string `json:"asset"`
	Delta int64  `json:"delta"` // asset units
	Value int64  `json:"value"`
}

func (e *ReservedAmountChanged) EventType() EventType { return EventTypeReservedAmountChanged }
func (e *ReservedAmountChanged) AssetRef() *string    { return assetRef(e.Asset) }

type GuaranteedUsdChanged struct {
	Asset string `json:"asset"`
	Delta int64  `json:"delta"` // USD, 1e8
	Value int64  `json:"value"`
}

func (e *GuaranteedUsdChanged) EventType() EventType { return EventTypeGuaranteedUsdChanged }
func (e *GuaranteedUsdChanged) AssetRef() *string    { return assetRef(e.Asset) }

type ShortSizeChanged struct {
	Asset        string `json:"asset"`
	Delta        int64  `json:"delta"` // USD, 1e8
	Value        int64  `json:"value"`
	AveragePrice int64  `json:"average_price"`
}

func (e *ShortSizeChanged) EventType() EventType { return EventTypeShortSizeChanged }
func (e *ShortSizeChanged) AssetRef() *string    { return assetRef(e.Asset) }

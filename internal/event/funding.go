package event

// FundingRateUpdated is emitted when at least one funding interval has
// elapsed for an asset and its cumulative rate moved forward.
// Rates use FUNDING_RATE_PRECISION (1e6).
type FundingRateUpdated struct {
	Asset          string `json:"asset"`
	RateDelta      int64  `json:"rate_delta"`
	CumulativeRate int64  `json:"cumulative_rate"`
	Intervals      int64  `json:"intervals"`
	BucketTime     int64  `json:"bucket_time"` // seconds, versioned input
}

func (e *FundingRateUpdated) EventType() EventType { return EventTypeFundingRateUpdated }
func (e *FundingRateUpdated) AssetRef() *string    { return assetRef(e.Asset) }

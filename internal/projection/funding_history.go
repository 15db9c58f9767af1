package projection

import (
	"time"

	"github.com/google/uuid"
)

// FundingHistoryEntry is one cumulative-rate step of an asset.
type FundingHistoryEntry struct {
	EventSequence  int64     `json:"event_sequence"`
	Asset          string    `json:"asset"`
	RateDelta      int64     `json:"rate_delta"`
	CumulativeRate int64     `json:"cumulative_rate"`
	Intervals      int64     `json:"intervals"`
	BucketTime     int64     `json:"bucket_time"`
	Timestamp      time.Time `json:"timestamp"`
}

// PnLHistoryEntry is one realized PnL settlement of a position.
type PnLHistoryEntry struct {
	EventSequence int64     `json:"event_sequence"`
	PositionID    string    `json:"position_id"`
	Trader        uuid.UUID `json:"trader"`
	HasProfit     bool      `json:"has_profit"`
	Delta         int64     `json:"delta"`
	Timestamp     time.Time `json:"timestamp"`
}

func fundingHistoryInsert(e FundingHistoryEntry) Statement {
	return Statement{
		Query: `INSERT INTO projections.funding_history
			(event_sequence, asset, rate_delta, cumulative_rate, intervals, bucket_time, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_sequence) DO NOTHING`,
		Args: []any{e.EventSequence, e.Asset, e.RateDelta, e.CumulativeRate, e.Intervals, e.BucketTime, e.Timestamp},
	}
}

func pnlHistoryInsert(e PnLHistoryEntry) Statement {
	return Statement{
		Query: `INSERT INTO projections.pnl_history
			(event_sequence, position_id, trader, has_profit, delta, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_sequence) DO NOTHING`,
		Args: []any{e.EventSequence, e.PositionID, e.Trader, e.HasProfit, e.Delta, e.Timestamp},
	}
}

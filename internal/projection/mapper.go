package projection

import (
	"fmt"

	"PerpVault/internal/event"

	"github.com/google/uuid"
)

// Statement is one parameterized SQL write.
type Statement struct {
	Query string
	Args  []any
}

// Touched lists what an envelope batch changed, for cache invalidation.
type Touched struct {
	Assets  map[string]struct{}
	Traders map[uuid.UUID]struct{}
}

func newTouched() Touched {
	return Touched{Assets: map[string]struct{}{}, Traders: map[uuid.UUID]struct{}{}}
}

// upsertAssetColumns sets columns on projections.asset_ledger, creating the
// row if it does not exist yet.
func upsertAssetColumns(asset string, seq int64, cols []string, vals ...any) Statement {
	names := ""
	placeholders := ""
	updates := ""
	for i, c := range cols {
		names += ", " + c
		placeholders += fmt.Sprintf(", $%d", i+3)
		updates += fmt.Sprintf("%s = EXCLUDED.%s, ", c, c)
	}
	q := fmt.Sprintf(`INSERT INTO projections.asset_ledger (asset, last_sequence%s, updated_at)
		VALUES ($1, $2%s, NOW())
		ON CONFLICT (asset) DO UPDATE SET %slast_sequence = EXCLUDED.last_sequence, updated_at = NOW()`,
		names, placeholders, updates)
	args := append([]any{asset, seq}, vals...)
	return Statement{Query: q, Args: args}
}

// Statements maps one envelope to the projection writes it implies.
// Every value written is an absolute value carried by the event, so
// re-applying an envelope is harmless.
func Statements(env event.EventEnvelope) []Statement {
	seq := env.Sequence
	switch e := env.Payload.(type) {
	case *event.PoolAmountChanged:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"pool_amount"}, e.Value)}
	case *event.LpDebtChanged:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"lp_debt_amount"}, e.Value)}
	case *event.ReservedAmountChanged:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"reserved_amount"}, e.Value)}
	case *event.GuaranteedUsdChanged:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"guaranteed_usd"}, e.Value)}
	case *event.ShortSizeChanged:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"short_size", "short_average_price"}, e.Value, e.AveragePrice)}
	case *event.SwapFeesCollected:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"fee_reserve"}, e.FeeReserve)}
	case *event.MarginFeesCollected:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"fee_reserve"}, e.FeeReserve)}
	case *event.FeesWithdrawn:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"fee_reserve"}, int64(0))}
	case *event.MaxShortSizeUpdated:
		return []Statement{upsertAssetColumns(e.Asset, seq, []string{"max_short_size"}, e.MaxShortSize)}
	case *event.AssetConfigUpdated:
		return []Statement{upsertAssetColumns(e.Asset, seq, nil)}
	case *event.FundingRateUpdated:
		return []Statement{
			upsertAssetColumns(e.Asset, seq, []string{"cumulative_funding_rate", "last_funding_time"}, e.CumulativeRate, e.BucketTime),
			fundingHistoryInsert(FundingHistoryEntry{
				EventSequence:  seq,
				Asset:          e.Asset,
				RateDelta:      e.RateDelta,
				CumulativeRate: e.CumulativeRate,
				Intervals:      e.Intervals,
				BucketTime:     e.BucketTime,
				Timestamp:      env.Timestamp,
			}),
		}
	case *event.PositionUpdated:
		return []Statement{{
			Query: `INSERT INTO projections.positions
				(position_id, trader, collateral_asset, index_asset, is_long, size, collateral, average_price,
				 entry_funding_rate, reserve_amount, realised_pnl, last_increased_time, last_sequence, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
				ON CONFLICT (position_id) DO UPDATE SET
					size = EXCLUDED.size,
					collateral = EXCLUDED.collateral,
					average_price = EXCLUDED.average_price,
					entry_funding_rate = EXCLUDED.entry_funding_rate,
					reserve_amount = EXCLUDED.reserve_amount,
					realised_pnl = EXCLUDED.realised_pnl,
					last_increased_time = EXCLUDED.last_increased_time,
					last_sequence = EXCLUDED.last_sequence,
					updated_at = NOW()`,
			Args: []any{e.ID, e.Trader, e.PositionRef.Collateral, e.Index, e.IsLong, e.Size, e.Collateral, e.AveragePrice,
				e.EntryFundingRate, e.ReserveAmount, e.RealisedPnl, e.LastIncreasedTime, seq},
		}}
	case *event.PositionClosed:
		return []Statement{{
			Query: `DELETE FROM projections.positions WHERE position_id = $1`,
			Args:  []any{e.ID},
		}}
	case *event.PnLRealized:
		return []Statement{pnlHistoryInsert(PnLHistoryEntry{
			EventSequence: seq,
			PositionID:    e.ID,
			Trader:        e.Trader,
			HasProfit:     e.HasProfit,
			Delta:         e.Delta,
			Timestamp:     env.Timestamp,
		})}
	}
	return nil
}

// Touch records the assets and traders an envelope changed.
func (t Touched) Touch(env event.EventEnvelope) {
	if env.Asset != nil {
		t.Assets[*env.Asset] = struct{}{}
	}
	switch e := env.Payload.(type) {
	case *event.Swap:
		t.Assets[e.AssetIn] = struct{}{}
		t.Assets[e.AssetOut] = struct{}{}
	case *event.PositionUpdated:
		t.Traders[e.Trader] = struct{}{}
	case *event.PositionClosed:
		t.Traders[e.Trader] = struct{}{}
	}
}

func watermarkUpsert(workerID string, seq int64) Statement {
	return Statement{
		Query: `INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()`,
		Args: []any{workerID, seq},
	}
}

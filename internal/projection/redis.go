package projection

import (
	"context"
	"fmt"

	"PerpVault/internal/event"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps the latest per-asset stats in Redis hashes so that
// dashboards can read them without touching Postgres.
type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

// AssetKey is the hash key holding an asset's mirrored stats.
func AssetKey(asset string) string { return fmt.Sprintf("perpvault:asset:%s", asset) }

// AssetFields folds envelopes into the latest field values per asset.
// Later envelopes win.
func AssetFields(envs []event.EventEnvelope) map[string]map[string]any {
	out := map[string]map[string]any{}
	set := func(asset, field string, v any) {
		m, ok := out[asset]
		if !ok {
			m = map[string]any{}
			out[asset] = m
		}
		m[field] = v
	}

	for _, env := range envs {
		switch e := env.Payload.(type) {
		case *event.PoolAmountChanged:
			set(e.Asset, "pool_amount", e.Value)
		case *event.LpDebtChanged:
			set(e.Asset, "lp_debt_amount", e.Value)
		case *event.ReservedAmountChanged:
			set(e.Asset, "reserved_amount", e.Value)
		case *event.GuaranteedUsdChanged:
			set(e.Asset, "guaranteed_usd", e.Value)
		case *event.ShortSizeChanged:
			set(e.Asset, "short_size", e.Value)
			set(e.Asset, "short_average_price", e.AveragePrice)
		case *event.SwapFeesCollected:
			set(e.Asset, "fee_reserve", e.FeeReserve)
		case *event.MarginFeesCollected:
			set(e.Asset, "fee_reserve", e.FeeReserve)
		case *event.FeesWithdrawn:
			set(e.Asset, "fee_reserve", int64(0))
		case *event.FundingRateUpdated:
			set(e.Asset, "cumulative_funding_rate", e.CumulativeRate)
			set(e.Asset, "last_funding_time", e.BucketTime)
		case *event.MaxShortSizeUpdated:
			set(e.Asset, "max_short_size", e.MaxShortSize)
		default:
			continue
		}
		set(*env.Asset, "last_sequence", env.Sequence)
	}
	return out
}

// Mirror writes the folded fields in one pipeline.
func (m *RedisMirror) Mirror(ctx context.Context, envs []event.EventEnvelope) error {
	fields := AssetFields(envs)
	if len(fields) == 0 {
		return nil
	}
	pipe := m.rdb.Pipeline()
	for asset, values := range fields {
		pipe.HSet(ctx, AssetKey(asset), values)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// AssetStats reads back a mirrored hash.
func (m *RedisMirror) AssetStats(ctx context.Context, asset string) (map[string]string, error) {
	return m.rdb.HGetAll(ctx, AssetKey(asset)).Result()
}

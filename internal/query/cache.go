package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PerpVault/internal/observability"
	"PerpVault/internal/projection"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// The projection worker invalidates entries after it commits, and every
// entry also expires after ttl. Only first pages of history are cached;
// cursor reads go straight to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		metrics: metrics,
	}
}

// --- Read-through ---

func (s *CachedStore) PositionsByTrader(ctx context.Context, trader uuid.UUID) ([]PositionResponse, error) {
	key := positionsKey(trader)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var positions []PositionResponse
		if json.Unmarshal(data, &positions) == nil {
			s.count("positions", "hit")
			return positions, nil
		}
	} else if err != redis.Nil {
		s.count("positions", "error")
	}
	s.count("positions", "miss")

	positions, err := s.primary.PositionsByTrader(ctx, trader)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) FundingHistory(ctx context.Context, asset string, limit int, before *int64) ([]projection.FundingHistoryEntry, error) {
	if before != nil {
		return s.primary.FundingHistory(ctx, asset, limit, before)
	}

	var history []projection.FundingHistoryEntry
	key := fundingKey(asset)
	if s.readField(ctx, "funding", key, limit, &history) {
		return history, nil
	}

	history, err := s.primary.FundingHistory(ctx, asset, limit, nil)
	if err != nil {
		return nil, err
	}
	s.writeField(ctx, key, limit, history)
	return history, nil
}

func (s *CachedStore) PnLHistory(ctx context.Context, trader uuid.UUID, limit int, before *int64) ([]projection.PnLHistoryEntry, error) {
	if before != nil {
		return s.primary.PnLHistory(ctx, trader, limit, before)
	}

	var history []projection.PnLHistoryEntry
	key := pnlKey(trader)
	if s.readField(ctx, "pnl", key, limit, &history) {
		return history, nil
	}

	history, err := s.primary.PnLHistory(ctx, trader, limit, nil)
	if err != nil {
		return nil, err
	}
	s.writeField(ctx, key, limit, history)
	return history, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Watermark(ctx context.Context) (int64, error) {
	return s.primary.Watermark(ctx)
}

func (s *CachedStore) HashChainBreaks(ctx context.Context, limit int) ([]int64, error) {
	return s.primary.HashChainBreaks(ctx, limit)
}

// --- Invalidation (projection.Invalidator) ---

func (s *CachedStore) InvalidateAsset(ctx context.Context, asset string) {
	s.rdb.Del(ctx, fundingKey(asset))
}

func (s *CachedStore) InvalidateTrader(ctx context.Context, trader uuid.UUID) {
	s.rdb.Del(ctx, positionsKey(trader), pnlKey(trader))
}

// --- Cache helpers ---

// History pages live in one hash per asset or trader, one field per page
// size, so a single DEL drops every cached page.
func (s *CachedStore) readField(ctx context.Context, cache, key string, limit int, out any) bool {
	data, err := s.rdb.HGet(ctx, key, strconv.Itoa(limit)).Bytes()
	if err == nil && json.Unmarshal(data, out) == nil {
		s.count(cache, "hit")
		return true
	}
	if err != nil && err != redis.Nil {
		s.count(cache, "error")
	}
	s.count(cache, "miss")
	return false
}

func (s *CachedStore) writeField(ctx context.Context, key string, limit int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(limit), data)
	pipe.Expire(ctx, key, s.ttl)
	pipe.Exec(ctx)
}

func (s *CachedStore) count(cache, result string) {
	if s.metrics != nil {
		s.metrics.CacheRequests.WithLabelValues(cache, result).Inc()
	}
}

func positionsKey(trader uuid.UUID) string { return fmt.Sprintf("perpvault:cache:positions:%s", trader) }
func pnlKey(trader uuid.UUID) string       { return fmt.Sprintf("perpvault:cache:pnl:%s", trader) }
func fundingKey(asset string) string       { return fmt.Sprintf("perpvault:cache:funding:%s", asset) }

var _ projection.Invalidator = (*CachedStore)(nil)

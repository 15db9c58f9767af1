package query

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"PerpVault/internal/ledger"
	"PerpVault/internal/oracle"
	"PerpVault/internal/projection"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// QueryService answers read-only queries. Vault state is read live from
// the in-memory vault under its read lock; history and per-trader lists
// come from the projection store. Every response carries as_of_sequence.
type QueryService struct {
	vault   *vault.Vault
	feed    *oracle.PriceFeed
	custody *ledger.Custody
	store   Store
	mirror  *projection.RedisMirror
	now     func() time.Time
}

// NewQueryService builds a service. store and mirror may be nil, in which
// case the projection-backed queries report ErrInvalidState.
func NewQueryService(v *vault.Vault, feed *oracle.PriceFeed, custody *ledger.Custody, store Store, mirror *projection.RedisMirror) *QueryService {
	return &QueryService{
		vault:   v,
		feed:    feed,
		custody: custody,
		store:   store,
		mirror:  mirror,
		now:     time.Now,
	}
}

// SetClock replaces the wall clock used to evaluate the min-profit window
// of position deltas.
func (qs *QueryService) SetClock(now func() time.Time) {
	qs.now = now
}

// --- Live vault queries ---

// Asset returns the live AssetLedger row of asset.
func (qs *QueryService) Asset(asset string) (*AssetResponse, error) {
	id := vault.AssetID(asset)
	e, ok := qs.vault.AssetEntry(id)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", vault.ErrNotFound, asset)
	}
	resp := &AssetResponse{
		Asset:                 asset,
		Decimals:              e.Config.Decimals,
		Weight:                e.Config.Weight,
		IsWhitelisted:         e.Config.IsWhitelisted,
		IsStable:              e.Config.IsStable,
		IsShortable:           e.Config.IsShortable,
		MinProfitBps:          e.Config.MinProfitBps,
		MaxLpAmount:           e.Config.MaxLpAmount,
		PoolAmount:            e.PoolAmount,
		LpDebtAmount:          e.LpDebtAmount,
		ReservedAmount:        e.ReservedAmount,
		GuaranteedUsd:         e.GuaranteedUsd,
		ShortSize:             e.ShortSize,
		ShortAveragePrice:     e.ShortAveragePrice,
		MaxShortSize:          e.MaxShortSize,
		FeeReserve:            e.FeeReserve,
		CumulativeFundingRate: e.CumulativeFundingRate,
		LastFundingTime:       e.LastFundingTime,
		VaultBalance:          qs.vault.VaultBalance(id),
		AsOfSequence:          qs.vault.Sequence(),
	}
	if p, err := qs.feed.GetPrice(asset); err == nil {
		resp.Price = p
	}

	d := e.Config.Decimals
	resp.Display = AssetDisplay{
		PoolAmount:            units(e.PoolAmount, d),
		ReservedAmount:        units(e.ReservedAmount, d),
		FeeReserve:            units(e.FeeReserve, d),
		GuaranteedUsd:         usd(e.GuaranteedUsd),
		ShortSize:             usd(e.ShortSize),
		ShortAveragePrice:     price(e.ShortAveragePrice),
		CumulativeFundingRate: rate(e.CumulativeFundingRate),
		Price:                 price(resp.Price),
	}
	return resp, nil
}

// Assets returns every configured asset, sorted by id.
func (qs *QueryService) Assets() []AssetResponse {
	ids := qs.vault.Assets()
	out := make([]AssetResponse, 0, len(ids))
	for _, id := range ids {
		if a, err := qs.Asset(string(id)); err == nil {
			out = append(out, *a)
		}
	}
	return out
}

// Position returns a live position with its unrealized PnL. A missing
// price leaves the delta unset rather than failing the query.
func (qs *QueryService) Position(key vault.PositionKey) (*PositionResponse, error) {
	p, ok := qs.vault.Position(key)
	if !ok {
		return nil, fmt.Errorf("%w: position %s", vault.ErrNotFound, key.Hex())
	}
	resp := livePosition(key, p, qs.vault.Sequence())
	if hasProfit, delta, err := qs.vault.PositionDelta(key, qs.now()); err == nil {
		resp.HasProfit = &hasProfit
		resp.Delta = &delta
		d := usd(signed(hasProfit, delta))
		resp.Display.Delta = &d
	}
	return resp, nil
}

// PositionDelta returns the unrealized PnL of a position.
func (qs *QueryService) PositionDelta(key vault.PositionKey) (*DeltaResponse, error) {
	hasProfit, delta, err := qs.vault.PositionDelta(key, qs.now())
	if err != nil {
		return nil, err
	}
	return &DeltaResponse{
		PositionID:   key.Hex(),
		HasProfit:    hasProfit,
		Delta:        delta,
		DeltaUsd:     usd(signed(hasProfit, delta)),
		AsOfSequence: qs.vault.Sequence(),
	}, nil
}

// Positions returns a trader's open positions from live state.
func (qs *QueryService) Positions(trader uuid.UUID) []PositionResponse {
	seq := qs.vault.Sequence()
	recs := qs.vault.Positions(trader)
	out := make([]PositionResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, *livePosition(r.Key, r.Position, seq))
	}
	return out
}

// SwapQuote returns the fee basis points a swap would pay now.
func (qs *QueryService) SwapQuote(assetIn, assetOut string, amountIn int64) (*SwapQuoteResponse, error) {
	if amountIn <= 0 {
		return nil, fmt.Errorf("%w: amount_in must be positive", vault.ErrOutOfRange)
	}
	fee, err := qs.vault.SwapFeeBasisPoints(vault.AssetID(assetIn), vault.AssetID(assetOut), amountIn)
	if err != nil {
		return nil, err
	}
	return &SwapQuoteResponse{
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     amountIn,
		FeeBps:       fee,
		FeePercent:   bps(fee),
		AsOfSequence: qs.vault.Sequence(),
	}, nil
}

// Fees returns the fee, funding and position configuration.
func (qs *QueryService) Fees() *FeesResponse {
	f := qs.vault.Fees()
	fp := qs.vault.FundingParams()
	pp := qs.vault.PositionParams()
	return &FeesResponse{
		TaxBps:                  f.TaxBps,
		StableTaxBps:            f.StableTaxBps,
		MintBurnFeeBps:          f.MintBurnFeeBps,
		SwapFeeBps:              f.SwapFeeBps,
		StableSwapFeeBps:        f.StableSwapFeeBps,
		HasDynamicFees:          f.HasDynamicFees,
		MarginFeeBps:            pp.MarginFeeBps,
		MinProfitTime:           pp.MinProfitTime,
		FundingInterval:         fp.Interval,
		FundingRateFactor:       fp.Factor,
		StableFundingRateFactor: fp.StableFactor,
		TotalWeights:            qs.vault.TotalWeights(),
		AsOfSequence:            qs.vault.Sequence(),
	}
}

// ShareSupply returns the pool-share token supply.
func (qs *QueryService) ShareSupply() *ShareSupplyResponse {
	supply := qs.vault.TotalShareSupply()
	return &ShareSupplyResponse{
		Asset:        string(qs.vault.ShareAsset()),
		TotalSupply:  supply,
		Display:      units(supply, qs.vault.ShareDecimals()),
		AsOfSequence: qs.vault.Sequence(),
	}
}

// Price returns the latest accepted oracle price of asset.
func (qs *QueryService) Price(asset string) (*PriceResponse, error) {
	rec, ok := qs.feed.Record(asset)
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", vault.ErrNotFound, asset)
	}
	return &PriceResponse{
		Asset:       asset,
		Price:       rec.Price,
		Display:     price(rec.Price),
		Sequence:    rec.Sequence,
		TimestampUs: rec.Timestamp,
		Gaps:        qs.feed.GapCount(asset),
	}, nil
}

// --- Projection queries ---

// ProjectedPositions returns a trader's positions from the projection.
func (qs *QueryService) ProjectedPositions(ctx context.Context, trader uuid.UUID) ([]PositionResponse, error) {
	if qs.store == nil {
		return nil, errNoStore
	}
	return qs.store.PositionsByTrader(ctx, trader)
}

// FundingHistory returns an asset's funding steps, newest first.
func (qs *QueryService) FundingHistory(ctx context.Context, asset string, limit int, before *int64) ([]FundingHistoryResponse, error) {
	if qs.store == nil {
		return nil, errNoStore
	}
	asOf, err := qs.store.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	entries, err := qs.store.FundingHistory(ctx, asset, clampLimit(limit), before)
	if err != nil {
		return nil, err
	}
	out := make([]FundingHistoryResponse, len(entries))
	for i, e := range entries {
		out[i] = FundingHistoryResponse{
			EventSequence:  e.EventSequence,
			Asset:          e.Asset,
			RateDelta:      e.RateDelta,
			CumulativeRate: e.CumulativeRate,
			Intervals:      e.Intervals,
			BucketTime:     e.BucketTime,
			Timestamp:      e.Timestamp,
			Display:        rate(e.CumulativeRate),
			AsOfSequence:   asOf,
		}
	}
	return out, nil
}

// PnLHistory returns a trader's realized PnL settlements, newest first.
func (qs *QueryService) PnLHistory(ctx context.Context, trader uuid.UUID, limit int, before *int64) ([]PnLHistoryResponse, error) {
	if qs.store == nil {
		return nil, errNoStore
	}
	asOf, err := qs.store.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	entries, err := qs.store.PnLHistory(ctx, trader, clampLimit(limit), before)
	if err != nil {
		return nil, err
	}
	out := make([]PnLHistoryResponse, len(entries))
	for i, e := range entries {
		out[i] = PnLHistoryResponse{
			EventSequence: e.EventSequence,
			PositionID:    e.PositionID,
			Trader:        e.Trader,
			HasProfit:     e.HasProfit,
			Delta:         e.Delta,
			DeltaUsd:      usd(signed(e.HasProfit, e.Delta)),
			Timestamp:     e.Timestamp,
			AsOfSequence:  asOf,
		}
	}
	return out, nil
}

// AssetStats returns the Redis-mirrored stats of an asset.
func (qs *QueryService) AssetStats(ctx context.Context, asset string) (map[string]string, error) {
	if qs.mirror == nil {
		return nil, errNoStore
	}
	stats, err := qs.mirror.AssetStats(ctx, asset)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: no stats for %s", vault.ErrNotFound, asset)
	}
	return stats, nil
}

// --- Admin ---

// VerifyIntegrity checks the live vault and custody invariants and, when
// a store is configured, the persisted hash chain.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	hash := qs.vault.StateHash()
	report := &IntegrityReport{
		StateHash:    hex.EncodeToString(hash[:]),
		AsOfSequence: qs.vault.Sequence(),
	}

	if err := qs.vault.CheckInvariants(); err != nil {
		report.InvariantError = err.Error()
	}
	if err := qs.custody.Validate(); err != nil {
		report.CustodyError = err.Error()
	}
	if qs.store != nil {
		breaks, err := qs.store.HashChainBreaks(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("hash chain: %w", err)
		}
		report.HashChainBreaks = breaks
	}

	report.IsHealthy = report.InvariantError == "" && report.CustodyError == "" && len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

var errNoStore = fmt.Errorf("%w: projection store not configured", vault.ErrInvalidState)

func livePosition(key vault.PositionKey, p vault.Position, seq int64) *PositionResponse {
	resp := &PositionResponse{
		PositionID:        key.Hex(),
		Trader:            key.Trader,
		CollateralAsset:   string(key.Collateral),
		IndexAsset:        string(key.Index),
		IsLong:            key.IsLong,
		Size:              p.Size,
		Collateral:        p.Collateral,
		AveragePrice:      p.AveragePrice,
		EntryFundingRate:  p.EntryFundingRate,
		ReserveAmount:     p.ReserveAmount,
		RealisedPnl:       p.RealisedPnl,
		LastIncreasedTime: p.LastIncreasedTime,
		AsOfSequence:      seq,
	}
	resp.Display = positionDisplay(*resp)
	return resp
}

func positionDisplay(p PositionResponse) PositionDisplay {
	return PositionDisplay{
		Size:         usd(p.Size),
		Collateral:   usd(p.Collateral),
		AveragePrice: price(p.AveragePrice),
		RealisedPnl:  usd(p.RealisedPnl),
	}
}

func signed(hasProfit bool, delta int64) int64 {
	if hasProfit {
		return delta
	}
	return -delta
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

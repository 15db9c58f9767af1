package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/projection"
	"PerpVault/internal/query"
	"PerpVault/internal/testutil"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	admin   = uuid.MustParse("00000000-0000-0000-0000-00000000a0a0")
	feeder  = uuid.MustParse("00000000-0000-0000-0000-00000000fee0")
	alice   = uuid.MustParse("00000000-0000-0000-0000-0000000a11ce")
	genesis = time.Unix(1_700_000_000, 0).UTC()
)

type harness struct {
	t   *testing.T
	p   *core.Processor
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Vault.Fees = vault.FeeSchedule{}
	cfg.Vault.Positions = vault.PositionParams{}
	cfg.Governor = admin
	cfg.Oracle = feeder
	cfg.SnapshotInterval = 0
	p, err := core.NewProcessor(cfg, core.Outputs{}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return &harness{t: t, p: p, now: genesis}
}

func (h *harness) apply(caller uuid.UUID, payload core.Payload) {
	h.t.Helper()
	h.now = h.now.Add(time.Second)
	cmd := &core.Command{ID: uuid.New(), Caller: caller, Timestamp: h.now, Payload: payload}
	if _, err := h.p.Apply(cmd); err != nil {
		h.t.Fatalf("%s: %v", cmd.Kind(), err)
	}
}

// bootstrap: USDC at $1 and BTC at $20, 100 USDC and 10 BTC of liquidity.
func (h *harness) bootstrap() {
	h.apply(feeder, core.SetPrice{Asset: "USDC", Price: 100_000_000, PriceSequence: 1})
	h.apply(feeder, core.SetPrice{Asset: "BTC", Price: 20_00000000, PriceSequence: 1})
	h.apply(admin, core.SetAssetConfig{Asset: "USDC", AssetConfig: vault.AssetConfig{Decimals: 6, Weight: 1, IsWhitelisted: true, IsStable: true}})
	h.apply(admin, core.SetAssetConfig{Asset: "BTC", AssetConfig: vault.AssetConfig{Decimals: 8, Weight: 1, IsWhitelisted: true, IsShortable: true}})
	h.apply(admin, core.Deposit{Account: alice, Asset: "USDC", Amount: 100_000_000})
	h.apply(admin, core.Deposit{Account: alice, Asset: "BTC", Amount: 10_00000000})
	h.apply(alice, core.AddLiquidity{Asset: "USDC", Amount: 100_000_000})
	h.apply(alice, core.AddLiquidity{Asset: "BTC", Amount: 10_00000000})
}

func (h *harness) service(store query.Store) *query.QueryService {
	return query.NewQueryService(h.p.Vault(), h.p.PriceFeed(), h.p.Custody(), store, nil)
}

// stubStore serves canned projection rows.
type stubStore struct {
	funding    []projection.FundingHistoryEntry
	pnl        []projection.PnLHistoryEntry
	watermark  int64
	lastLimit  int
	lastBefore *int64
}

func (s *stubStore) PositionsByTrader(context.Context, uuid.UUID) ([]query.PositionResponse, error) {
	return nil, nil
}

func (s *stubStore) FundingHistory(_ context.Context, _ string, limit int, before *int64) ([]projection.FundingHistoryEntry, error) {
	s.lastLimit, s.lastBefore = limit, before
	return s.funding, nil
}

func (s *stubStore) PnLHistory(_ context.Context, _ uuid.UUID, limit int, before *int64) ([]projection.PnLHistoryEntry, error) {
	s.lastLimit, s.lastBefore = limit, before
	return s.pnl, nil
}

func (s *stubStore) Watermark(context.Context) (int64, error) { return s.watermark, nil }

func (s *stubStore) HashChainBreaks(context.Context, int) ([]int64, error) { return nil, nil }

// ============================================================================
// Test: Live vault queries
// ============================================================================

func TestAsset_RendersDecimals(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	qs := h.service(nil)

	a, err := qs.Asset("BTC")
	if err != nil {
		t.Fatal(err)
	}
	if a.PoolAmount != 10_00000000 || a.VaultBalance != 10_00000000 {
		t.Errorf("pool %d balance %d", a.PoolAmount, a.VaultBalance)
	}
	if a.Display.PoolAmount.String() != "10" {
		t.Errorf("display pool %s", a.Display.PoolAmount)
	}
	if a.Price != 20_00000000 || a.Display.Price.String() != "20" {
		t.Errorf("price %d / %s", a.Price, a.Display.Price)
	}
	if a.AsOfSequence != h.p.Vault().Sequence() {
		t.Errorf("as_of_sequence %d", a.AsOfSequence)
	}

	if _, err := qs.Asset("DOGE"); !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if got := len(qs.Assets()); got != 2 {
		t.Errorf("expected 2 assets, got %d", got)
	}
}

func TestShareSupplyAndBalance(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	qs := h.service(nil)

	// $100 + $200 of liquidity at 8 share decimals
	supply := qs.ShareSupply()
	if supply.TotalSupply != 300_00000000 || supply.Asset != "PLP" {
		t.Errorf("supply %+v", supply)
	}
	if supply.Display.String() != "300" {
		t.Errorf("display %s", supply.Display)
	}

	bal := qs.Balance(alice, "PLP")
	if !bal.IsShare || bal.Balance != 300_00000000 {
		t.Errorf("share balance %+v", bal)
	}
	if usdc := qs.Balance(alice, "USDC"); usdc.Balance != 0 {
		t.Errorf("alice USDC should be in the pool, got %d", usdc.Balance)
	}
}

func TestPosition_LiveDelta(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.apply(admin, core.Deposit{Account: alice, Asset: "USDC", Amount: 10_000_000})
	h.apply(alice, core.IncreasePosition{
		Collateral: "USDC", Index: "BTC", CollateralAmount: 10_000_000, SizeDelta: 50_00000000, IsLong: false,
	})
	h.apply(feeder, core.SetPrice{Asset: "BTC", Price: 18_00000000, PriceSequence: 2})

	qs := h.service(nil)
	key := vault.PositionKey{Trader: alice, Collateral: "USDC", Index: "BTC", IsLong: false}

	pos, err := qs.Position(key)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Size != 50_00000000 || pos.PositionID != key.Hex() {
		t.Errorf("position %+v", pos)
	}
	// short 50 USD from 20 to 18: +10%
	if pos.HasProfit == nil || !*pos.HasProfit || *pos.Delta != 5_00000000 {
		t.Fatalf("delta %v %v", pos.HasProfit, pos.Delta)
	}
	if pos.Display.Delta.String() != "5" {
		t.Errorf("display delta %s", pos.Display.Delta)
	}

	d, err := qs.PositionDelta(key)
	if err != nil || d.Delta != 5_00000000 {
		t.Errorf("PositionDelta %+v %v", d, err)
	}

	if got := qs.Positions(alice); len(got) != 1 {
		t.Errorf("expected 1 live position, got %d", len(got))
	}

	missing := key
	missing.IsLong = true
	if _, err := qs.Position(missing); !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionDelta_MinProfitWindowAtQueryTime(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.apply(admin, core.SetPositionFees{PositionParams: vault.PositionParams{MinProfitTime: 600}})
	h.apply(admin, core.SetAssetConfig{Asset: "BTC", AssetConfig: vault.AssetConfig{Decimals: 8, Weight: 1, MinProfitBps: 150, IsWhitelisted: true, IsShortable: true}})
	h.apply(admin, core.Deposit{Account: alice, Asset: "BTC", Amount: 10_000_000})
	h.apply(alice, core.IncreasePosition{
		Collateral: "BTC", Index: "BTC", CollateralAmount: 10_000_000, SizeDelta: 20_00000000, IsLong: true,
	})
	opened := h.now
	// +1% is inside the 1.5% min-profit band
	h.apply(feeder, core.SetPrice{Asset: "BTC", Price: 20_20000000, PriceSequence: 2})

	qs := h.service(nil)
	key := vault.PositionKey{Trader: alice, Collateral: "BTC", Index: "BTC", IsLong: true}

	qs.SetClock(func() time.Time { return opened.Add(10 * time.Second) })
	d, err := qs.PositionDelta(key)
	if err != nil {
		t.Fatal(err)
	}
	if !d.HasProfit || d.Delta != 0 {
		t.Errorf("inside window: %+v", d)
	}

	// no command arrives, only wall time moves past the window
	qs.SetClock(func() time.Time { return opened.Add(601 * time.Second) })
	d, err = qs.PositionDelta(key)
	if err != nil {
		t.Fatal(err)
	}
	if !d.HasProfit || d.Delta != 20_000_000 {
		t.Errorf("after window: %+v", d)
	}
	pos, err := qs.Position(key)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Delta == nil || *pos.Delta != 20_000_000 {
		t.Errorf("position delta %v", pos.Delta)
	}
}

func TestSwapQuoteAndFees(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	qs := h.service(nil)

	q, err := qs.SwapQuote("USDC", "BTC", 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if q.FeeBps != 0 {
		t.Errorf("zero-fee schedule quoted %d bps", q.FeeBps)
	}

	if _, err := qs.SwapQuote("USDC", "BTC", 0); !errors.Is(err, vault.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := qs.SwapQuote("USDC", "DOGE", 1); !errors.Is(err, vault.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	fees := qs.Fees()
	if fees.TotalWeights != 2 {
		t.Errorf("total weights %d", fees.TotalWeights)
	}
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	report, err := h.service(&stubStore{}).VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.IsHealthy {
		t.Errorf("expected healthy report, got %+v", report)
	}
	if len(report.StateHash) != 64 {
		t.Errorf("state hash %q", report.StateHash)
	}
}

// ============================================================================
// Test: Projection queries
// ============================================================================

func TestFundingHistory_ClampsAndRenders(t *testing.T) {
	h := newHarness(t)
	store := &stubStore{
		watermark: 12,
		funding: []projection.FundingHistoryEntry{
			{EventSequence: 40, Asset: "BTC", RateDelta: 50, CumulativeRate: 1_500_000, Intervals: 1},
		},
	}
	qs := h.service(store)

	out, err := qs.FundingHistory(context.Background(), "BTC", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.lastLimit != query.DefaultHistoryLimit {
		t.Errorf("limit %d", store.lastLimit)
	}
	if len(out) != 1 || out[0].AsOfSequence != 12 || out[0].Display.String() != "1.5" {
		t.Errorf("unexpected history %+v", out)
	}

	before := int64(40)
	if _, err := qs.FundingHistory(context.Background(), "BTC", 5000, &before); err != nil {
		t.Fatal(err)
	}
	if store.lastLimit != query.MaxHistoryLimit || store.lastBefore == nil || *store.lastBefore != 40 {
		t.Errorf("limit %d before %v", store.lastLimit, store.lastBefore)
	}
}

func TestPnLHistory_SignsLosses(t *testing.T) {
	h := newHarness(t)
	store := &stubStore{pnl: []projection.PnLHistoryEntry{
		{EventSequence: 7, Trader: alice, HasProfit: false, Delta: 2_50000000},
	}}
	out, err := h.service(store).PnLHistory(context.Background(), alice, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].DeltaUsd.String() != "-2.5" {
		t.Errorf("unexpected pnl %+v", out)
	}
}

func TestProjectionQueries_WithoutStore(t *testing.T) {
	h := newHarness(t)
	qs := h.service(nil)
	if _, err := qs.FundingHistory(context.Background(), "BTC", 1, nil); !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if _, err := qs.AssetStats(context.Background(), "BTC"); !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

// ============================================================================
// Test: Redis cache (integration)
// ============================================================================

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	testutil.RequireIntegration(t)
	opt, err := redis.ParseURL(testutil.TestRedisURL())
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	primary := &stubStore{funding: []projection.FundingHistoryEntry{{EventSequence: 1, Asset: "CACHE-BTC"}}}
	cached := query.NewCachedStore(primary, rdb, time.Minute, nil)
	defer cached.InvalidateAsset(ctx, "CACHE-BTC")

	first, err := cached.FundingHistory(ctx, "CACHE-BTC", 10, nil)
	if err != nil || len(first) != 1 {
		t.Fatalf("first read %v %v", first, err)
	}

	primary.funding = nil
	second, _ := cached.FundingHistory(ctx, "CACHE-BTC", 10, nil)
	if len(second) != 1 {
		t.Error("second read should be served from cache")
	}

	cached.InvalidateAsset(ctx, "CACHE-BTC")
	third, _ := cached.FundingHistory(ctx, "CACHE-BTC", 10, nil)
	if len(third) != 0 {
		t.Error("invalidation should force a primary read")
	}
}

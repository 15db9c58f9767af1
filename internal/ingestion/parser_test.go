package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/event"
	"PerpVault/internal/ingestion"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	commandID = "550e8400-e29b-41d4-a716-446655440000"
	callerID  = "660e8400-e29b-41d4-a716-446655440001"
	tsMicros  = int64(1_700_000_000_000_000)
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// ====================================================================
// Commands
// ====================================================================

func TestParseCommand_Swap(t *testing.T) {
	data := mustJSON(t, map[string]any{
		"command_id":   commandID,
		"caller":       callerID,
		"timestamp_us": tsMicros,
		"asset_in":     "USDC",
		"asset_out":    "BTC",
		"amount_in":    int64(25_000_000),
	})

	cmd, err := ingestion.ParseCommand(core.KindSwap, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cmd.ID.String() != commandID {
		t.Errorf("id: got %s, want %s", cmd.ID, commandID)
	}
	if cmd.Caller.String() != callerID {
		t.Errorf("caller: got %s, want %s", cmd.Caller, callerID)
	}
	if !cmd.Timestamp.Equal(time.UnixMicro(tsMicros)) {
		t.Errorf("timestamp: got %v", cmd.Timestamp)
	}

	swap, ok := cmd.Payload.(core.Swap)
	if !ok {
		t.Fatalf("expected core.Swap, got %T", cmd.Payload)
	}
	if swap.AssetIn != "USDC" || swap.AssetOut != "BTC" {
		t.Errorf("assets: got %s -> %s", swap.AssetIn, swap.AssetOut)
	}
	if swap.AmountIn != 25_000_000 {
		t.Errorf("amount_in: got %d, want 25_000_000", swap.AmountIn)
	}
	if swap.Receiver != uuid.Nil {
		t.Errorf("receiver should default to nil, got %s", swap.Receiver)
	}
}

func TestParseCommand_SetAssetConfig(t *testing.T) {
	data := mustJSON(t, map[string]any{
		"command_id":     commandID,
		"caller":         callerID,
		"timestamp_us":   tsMicros,
		"asset":          "BTC",
		"decimals":       8,
		"weight":         10_000,
		"min_profit_bps": 75,
		"is_whitelisted": true,
		"is_shortable":   true,
	})

	cmd, err := ingestion.ParseCommand(core.KindSetAssetConfig, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cfg, ok := cmd.Payload.(core.SetAssetConfig)
	if !ok {
		t.Fatalf("expected core.SetAssetConfig, got %T", cmd.Payload)
	}
	if cfg.Asset != "BTC" || cfg.Decimals != 8 || cfg.Weight != 10_000 || cfg.MinProfitBps != 75 {
		t.Errorf("config mismatch: %+v", cfg)
	}
	if !cfg.IsWhitelisted || !cfg.IsShortable || cfg.IsStable {
		t.Errorf("flags mismatch: %+v", cfg.AssetConfig)
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	valid := map[string]any{
		"command_id":   commandID,
		"caller":       callerID,
		"timestamp_us": tsMicros,
		"asset":        "USDC",
		"amount":       int64(100),
	}
	with := func(key string, value any) []byte {
		m := make(map[string]any, len(valid))
		for k, v := range valid {
			m[k] = v
		}
		if value == nil {
			delete(m, key)
		} else {
			m[key] = value
		}
		return mustJSON(t, m)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"missing command_id", with("command_id", nil)},
		{"nil command_id", with("command_id", uuid.Nil.String())},
		{"bad command_id", with("command_id", "not-a-uuid")},
		{"missing caller", with("caller", nil)},
		{"zero timestamp", with("timestamp_us", 0)},
		{"negative timestamp", with("timestamp_us", -1)},
		{"empty asset", with("asset", "")},
		{"wrong type", with("amount", "lots")},
		{"not json", []byte("{")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(core.KindAddLiquidity, tc.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ingestion.ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestParseCommand_UnknownKind(t *testing.T) {
	data := mustJSON(t, map[string]any{"command_id": commandID, "caller": callerID, "timestamp_us": tsMicros})
	_, err := ingestion.ParseCommand(core.Kind("liquidate"), data)
	if !errors.Is(err, ingestion.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

// ====================================================================
// Prices
// ====================================================================

func TestParsePrice_DerivesStableID(t *testing.T) {
	oracle := uuid.New()
	data := mustJSON(t, map[string]any{
		"price":          int64(2_000_000_000),
		"price_sequence": int64(7),
		"timestamp_us":   tsMicros,
	})

	first, err := ingestion.ParsePrice("BTC", oracle, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	again, err := ingestion.ParsePrice("BTC", oracle, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if first.ID != again.ID {
		t.Errorf("redelivered price should keep its id: %s vs %s", first.ID, again.ID)
	}
	if first.Caller != oracle {
		t.Errorf("caller: got %s, want oracle %s", first.Caller, oracle)
	}
	sp, ok := first.Payload.(core.SetPrice)
	if !ok {
		t.Fatalf("expected core.SetPrice, got %T", first.Payload)
	}
	if sp.Asset != "BTC" || sp.Price != 2_000_000_000 || sp.PriceSequence != 7 {
		t.Errorf("payload mismatch: %+v", sp)
	}

	other, err := ingestion.ParsePrice("ETH", oracle, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("different assets must derive different ids")
	}
}

func TestParsePrice_BodyOverridesSubject(t *testing.T) {
	data := mustJSON(t, map[string]any{
		"command_id":     commandID,
		"asset":          "ETH",
		"price":          int64(1),
		"price_sequence": int64(1),
		"timestamp_us":   tsMicros,
	})
	cmd, err := ingestion.ParsePrice("BTC", uuid.New(), data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.ID.String() != commandID {
		t.Errorf("explicit command_id should be kept, got %s", cmd.ID)
	}
	if got := cmd.Payload.(core.SetPrice).Asset; got != "ETH" {
		t.Errorf("asset: got %s, want ETH", got)
	}
}

func TestParsePrice_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    map[string]any
	}{
		{"no asset anywhere", "", map[string]any{"price": 1, "timestamp_us": tsMicros}},
		{"no timestamp", "BTC", map[string]any{"price": 1}},
		{"bad command_id", "BTC", map[string]any{"command_id": "x", "price": 1, "timestamp_us": tsMicros}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParsePrice(tc.subject, uuid.New(), mustJSON(t, tc.body))
			if !errors.Is(err, ingestion.ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
		})
	}
}

// ====================================================================
// Subjects
// ====================================================================

func TestKindFromSubject(t *testing.T) {
	for _, kind := range core.Kinds {
		got, err := ingestion.KindFromSubject(ingestion.CommandSubjectPrefix + string(kind))
		if err != nil {
			t.Errorf("%s: %v", kind, err)
			continue
		}
		if got != kind {
			t.Errorf("got %s, want %s", got, kind)
		}
	}

	got, err := ingestion.KindFromSubject("perp.vault.commands.swap.shard1")
	if err != nil || got != core.KindSwap {
		t.Errorf("suffix tokens should be ignored: got %s, %v", got, err)
	}

	for _, bad := range []string{"perp.vault.commands.", "perp.vault.commands.liquidate", "perp.vault.prices.BTC", "swap"} {
		if _, err := ingestion.KindFromSubject(bad); !errors.Is(err, ingestion.ErrParse) {
			t.Errorf("%q: expected ErrParse, got %v", bad, err)
		}
	}
}

func TestParseSubjectCommand_RefusesInternalKinds(t *testing.T) {
	body := mustJSON(t, map[string]any{
		"command_id":   commandID,
		"caller":       callerID,
		"timestamp_us": tsMicros,
		"asset":        "USDC",
		"amount":       int64(1_000_000_000_000),
		"price":        int64(1),
	})

	for _, kind := range []core.Kind{core.KindDeposit, core.KindSetPrice} {
		_, err := ingestion.ParseSubjectCommand(ingestion.CommandSubjectPrefix+string(kind), body)
		if !errors.Is(err, vault.ErrPermissionDenied) {
			t.Errorf("%s: expected ErrPermissionDenied, got %v", kind, err)
		}
	}

	swap := mustJSON(t, map[string]any{
		"command_id":   commandID,
		"caller":       callerID,
		"timestamp_us": tsMicros,
		"asset_in":     "USDC",
		"asset_out":    "BTC",
		"amount_in":    int64(1),
	})
	cmd, err := ingestion.ParseSubjectCommand("perp.vault.commands.swap", swap)
	if err != nil || cmd.Kind() != core.KindSwap {
		t.Errorf("swap: got %v, %v", cmd, err)
	}
}

func TestAssetFromSubject(t *testing.T) {
	tests := map[string]string{
		"perp.vault.prices.BTC":       "BTC",
		"perp.vault.prices.USDC.feed": "USDC",
		"perp.vault.prices.":          "",
	}
	for subject, want := range tests {
		if got := ingestion.AssetFromSubject(subject); got != want {
			t.Errorf("%q: got %q, want %q", subject, got, want)
		}
	}
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: bad", ingestion.ErrParse), true},
		{fmt.Errorf("swap: %w", vault.ErrOutOfRange), true},
		{fmt.Errorf("swap: %w", vault.ErrPermissionDenied), true},
		{fmt.Errorf("swap: %w", vault.ErrNotFound), true},
		{fmt.Errorf("swap: %w", vault.ErrInvalidState), true},
		{context.DeadlineExceeded, false},
		{errors.New("connection reset"), false},
	}
	for _, tc := range tests {
		if got := ingestion.Permanent(tc.err); got != tc.want {
			t.Errorf("Permanent(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// ====================================================================
// Outbound
// ====================================================================

func TestEventSubject(t *testing.T) {
	asset := "BTC"
	env := event.EventEnvelope{EventType: event.EventTypePoolAmountChanged, Asset: &asset}
	if got := ingestion.EventSubject(env); got != "perp.vault.events.PoolAmountChanged.BTC" {
		t.Errorf("got %s", got)
	}
	env.Asset = nil
	if got := ingestion.EventSubject(env); got != "perp.vault.events.PoolAmountChanged" {
		t.Errorf("got %s", got)
	}
}

func TestNewPublishableEvent(t *testing.T) {
	asset := "USDC"
	env := event.EventEnvelope{
		Sequence:     12,
		OperationSeq: 3,
		OperationID:  uuid.New(),
		Operation:    "add_liquidity",
		EventType:    event.EventTypePoolAmountChanged,
		Asset:        &asset,
		Payload:      &event.PoolAmountChanged{Asset: asset, Delta: 5, Value: 105},
		StateHash:    [32]byte{0xab},
	}

	pub, err := ingestion.NewPublishableEvent(3, env)
	if err != nil {
		t.Fatalf("NewPublishableEvent: %v", err)
	}
	if pub.EventType != "PoolAmountChanged" || pub.Sequence != 12 || pub.CommandSeq != 3 {
		t.Errorf("header mismatch: %+v", pub)
	}
	if !strings.HasPrefix(pub.StateHash, "ab00") || len(pub.StateHash) != 64 {
		t.Errorf("state hash: got %s", pub.StateHash)
	}

	var payload event.PoolAmountChanged
	if err := json.Unmarshal(pub.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Value != 105 || payload.Delta != 5 {
		t.Errorf("payload mismatch: %+v", payload)
	}
}

// ====================================================================
// Admin ingest
// ====================================================================

func TestAdminIngest_SubmitsToProcessor(t *testing.T) {
	admin := uuid.New()
	oracle := uuid.New()
	alice := uuid.New()

	cfg := core.DefaultConfig()
	cfg.Governor = admin
	cfg.Oracle = oracle
	cfg.IdempotencyCapacity = 64
	cfg.SnapshotInterval = 0
	p, err := core.NewProcessor(cfg, core.Outputs{}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	submitCh := make(chan core.Submission)
	go p.Run(ctx, submitCh)

	ingest := ingestion.NewAdminIngest(submitCh, admin, oracle)

	res, err := ingest.InjectPrice(ctx, "USDC", 100_000_000, 1)
	if err != nil {
		t.Fatalf("InjectPrice: %v", err)
	}
	if res.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", res.Sequence)
	}
	if price, err := p.PriceFeed().GetPrice("USDC"); err != nil || price != 100_000_000 {
		t.Errorf("price: got %d, %v", price, err)
	}

	if _, err := ingest.InjectDeposit(ctx, alice, "USDC", 50_000_000); err != nil {
		t.Fatalf("InjectDeposit: %v", err)
	}
	if got := p.Custody().BalanceOf("USDC", alice); got != 50_000_000 {
		t.Errorf("alice balance: got %d, want 50_000_000", got)
	}

	// A stale price sequence is a deterministic rejection.
	_, err = ingest.InjectPrice(ctx, "USDC", 100_000_000, 1)
	if !errors.Is(err, vault.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	if _, err := ingest.InjectDeposit(ctx, alice, "USDC", 0); !errors.Is(err, ingestion.ErrParse) {
		t.Errorf("zero deposit: expected ErrParse, got %v", err)
	}
	if _, err := ingest.InjectPrice(ctx, "", 1, 2); !errors.Is(err, ingestion.ErrParse) {
		t.Errorf("empty asset: expected ErrParse, got %v", err)
	}

	// Identities the processor does not recognise are refused.
	spoofed := ingestion.NewAdminIngest(submitCh, alice, alice)
	if _, err := spoofed.InjectPrice(ctx, "USDC", 1, 5); !errors.Is(err, vault.ErrPermissionDenied) {
		t.Errorf("spoofed price: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := spoofed.InjectDeposit(ctx, alice, "USDC", 1_000_000); !errors.Is(err, vault.ErrPermissionDenied) {
		t.Errorf("spoofed deposit: expected ErrPermissionDenied, got %v", err)
	}
	if got := p.Custody().BalanceOf("USDC", alice); got != 50_000_000 {
		t.Errorf("alice balance after refusals: got %d, want 50_000_000", got)
	}
}

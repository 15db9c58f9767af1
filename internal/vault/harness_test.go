package vault_test

import (
	"testing"
	"time"

	"PerpVault/internal/event"
	"PerpVault/internal/ledger"
	"PerpVault/internal/oracle"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	usdc vault.AssetID = "USDC"
	btc  vault.AssetID = "BTC"
	eth  vault.AssetID = "ETH"
	plp  vault.AssetID = "PLP"
)

var (
	admin   = uuid.MustParse("00000000-0000-0000-0000-00000000a0a0")
	alice   = uuid.MustParse("00000000-0000-0000-0000-0000000a11ce")
	bob     = uuid.MustParse("00000000-0000-0000-0000-000000000b0b")
	genesis = time.Unix(1_700_000_000, 0).UTC()
)

type harness struct {
	t       *testing.T
	custody *ledger.Custody
	shares  *ledger.ShareToken
	feed    *oracle.PriceFeed
	clock   *vault.ManualClock
	sink    *event.MemorySink
	vault   *vault.Vault

	priceSeq map[string]int64
}

func zeroFeeConfig() vault.Config {
	cfg := vault.DefaultConfig()
	cfg.Fees = vault.FeeSchedule{}
	cfg.Positions = vault.PositionParams{}
	return cfg
}

func newHarness(t *testing.T, cfg vault.Config) *harness {
	t.Helper()
	custody := ledger.NewCustody()
	shares := ledger.NewShareToken(custody, plp)
	h := &harness{
		t:        t,
		custody:  custody,
		shares:   shares,
		feed:     oracle.NewPriceFeed(),
		clock:    vault.NewManualClock(genesis),
		sink:     event.NewMemorySink(),
		priceSeq: make(map[string]int64),
	}
	v, err := vault.New(cfg, vault.Deps{
		Oracle:   h.feed,
		Custody:  custody,
		Shares:   shares,
		Settler:  custody,
		Governor: vault.SingleAdmin{Admin: admin},
		Clock:    h.clock,
		Sink:     h.sink,
	})
	require.NoError(t, err)
	h.vault = v
	return h
}

func (h *harness) setPrice(asset vault.AssetID, price int64) {
	h.t.Helper()
	h.priceSeq[string(asset)]++
	err := h.feed.SetPrice(string(asset), price, h.priceSeq[string(asset)], h.clock.Now().UnixMicro())
	require.NoError(h.t, err)
}

// listAsset prices and whitelists asset with weight 1.
func (h *harness) listAsset(asset vault.AssetID, decimals int32, price int64, stable bool) {
	h.t.Helper()
	h.setPrice(asset, price)
	err := h.vault.SetAssetConfig(admin, asset, vault.AssetConfig{
		Decimals:      decimals,
		Weight:        1,
		IsWhitelisted: true,
		IsStable:      stable,
		IsShortable:   !stable,
	})
	require.NoError(h.t, err)
}

func (h *harness) fund(asset vault.AssetID, account uuid.UUID, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.custody.Deposit(asset, account, amount))
}

func (h *harness) mustAddLiquidity(account uuid.UUID, asset vault.AssetID, amount int64) int64 {
	h.t.Helper()
	h.fund(asset, account, amount)
	minted, err := h.vault.AddLiquidity(account, asset, amount)
	require.NoError(h.t, err)
	return minted
}

func (h *harness) entry(asset vault.AssetID) vault.AssetEntry {
	h.t.Helper()
	e, ok := h.vault.AssetEntry(asset)
	require.True(h.t, ok, "asset %s not configured", asset)
	return e
}

func (h *harness) requireInvariants() {
	h.t.Helper()
	require.NoError(h.t, h.vault.CheckInvariants())
	require.NoError(h.t, h.custody.Validate())
}

func (h *harness) eventsOf(op string) []event.EventEnvelope {
	var out []event.EventEnvelope
	for _, env := range h.sink.History() {
		if env.Operation == op {
			out = append(out, env)
		}
	}
	return out
}

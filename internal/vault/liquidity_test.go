package vault_test

import (
	"testing"

	"PerpVault/internal/event"
	"PerpVault/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: Add / remove liquidity
// ============================================================================

func TestAddLiquidity_DecimalAdjustedOneToOne(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)

	minted := h.mustAddLiquidity(alice, usdc, 100e6)

	// 100 units at $1 with 6 asset decimals and 8 share decimals
	assert.Equal(t, int64(100e8), minted)
	assert.Equal(t, int64(100e8), h.shares.BalanceOf(alice))
	assert.Equal(t, int64(100e8), h.vault.TotalShareSupply())

	e := h.entry(usdc)
	assert.Equal(t, int64(100e6), e.PoolAmount)
	assert.Equal(t, int64(100e8), e.LpDebtAmount)
	assert.Equal(t, int64(100e6), h.vault.VaultBalance(usdc))
	h.requireInvariants()
}

func TestAddLiquidity_EventSequence(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	h.sink.Reset()

	h.mustAddLiquidity(alice, usdc, 100e6)

	assert.Equal(t, []event.EventType{
		event.EventTypeLpDebtChanged,
		event.EventTypePoolAmountChanged,
		event.EventTypeLiquidityAdded,
	}, h.sink.Types())

	added, ok := h.sink.History()[2].Payload.(*event.LiquidityAdded)
	require.True(t, ok)
	assert.Equal(t, alice, added.Account)
	assert.Equal(t, int64(100e8), added.SharesMinted)
	assert.Equal(t, int64(0), added.FeeBps)
}

func TestAddLiquidity_MintFeeGoesToReserve(t *testing.T) {
	cfg := zeroFeeConfig()
	cfg.Fees.MintBurnFeeBps = 30
	h := newHarness(t, cfg)
	h.listAsset(usdc, 6, 1e8, true)

	minted := h.mustAddLiquidity(alice, usdc, 1000e6)

	// 0.3% of 1000 units stays in the fee reserve
	e := h.entry(usdc)
	assert.Equal(t, int64(3e6), e.FeeReserve)
	assert.Equal(t, int64(997e6), e.PoolAmount)
	assert.Equal(t, int64(997e8), minted)
	assert.Equal(t, int64(1000e6), h.vault.VaultBalance(usdc))
	h.requireInvariants()
}

func TestAddLiquidity_Rejections(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	h.fund(usdc, alice, 10e6)

	_, err := h.vault.AddLiquidity(alice, usdc, 0)
	assert.ErrorIs(t, err, vault.ErrInvalidState)

	_, err = h.vault.AddLiquidity(alice, btc, 1)
	assert.ErrorIs(t, err, vault.ErrNotFound)

	// more than the wallet holds
	_, err = h.vault.AddLiquidity(alice, usdc, 11e6)
	assert.ErrorIs(t, err, vault.ErrInvalidState)

	assert.Equal(t, int64(1), h.vault.Sequence(), "only the listing committed")
}

func TestAddLiquidity_MaxLpAmount(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.setPrice(usdc, 1e8)
	require.NoError(t, h.vault.SetAssetConfig(admin, usdc, vault.AssetConfig{
		Decimals:      6,
		Weight:        1,
		MaxLpAmount:   50e8,
		IsWhitelisted: true,
		IsStable:      true,
	}))
	h.fund(usdc, alice, 100e6)

	_, err := h.vault.AddLiquidity(alice, usdc, 60e6)
	assert.ErrorIs(t, err, vault.ErrOutOfRange)
	assert.Equal(t, int64(0), h.entry(usdc).LpDebtAmount)

	_, err = h.vault.AddLiquidity(alice, usdc, 50e6)
	assert.NoError(t, err)
}

func TestRemoveLiquidity_RoundTripWithoutFees(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	minted := h.mustAddLiquidity(alice, usdc, 100e6)

	out, err := h.vault.RemoveLiquidity(alice, usdc, minted, alice)
	require.NoError(t, err)

	assert.Equal(t, int64(100e6), out)
	assert.Equal(t, int64(100e6), h.custody.BalanceOf(usdc, alice))
	assert.Equal(t, int64(0), h.vault.TotalShareSupply())
	e := h.entry(usdc)
	assert.Equal(t, int64(0), e.PoolAmount)
	assert.Equal(t, int64(0), e.LpDebtAmount)
	h.requireInvariants()
}

func TestRemoveLiquidity_ToOtherReceiver(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	minted := h.mustAddLiquidity(alice, usdc, 100e6)

	out, err := h.vault.RemoveLiquidity(alice, usdc, minted/4, bob)
	require.NoError(t, err)

	assert.Equal(t, int64(25e6), out)
	assert.Equal(t, int64(25e6), h.custody.BalanceOf(usdc, bob), "receiver is registered on first payout")
	assert.Equal(t, minted-minted/4, h.shares.BalanceOf(alice))
}

func TestRemoveLiquidity_MoreThanHeld(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	minted := h.mustAddLiquidity(alice, usdc, 100e6)
	before := h.vault.Export()

	_, err := h.vault.RemoveLiquidity(bob, usdc, minted, bob)
	assert.ErrorIs(t, err, vault.ErrInvalidState)
	assert.Equal(t, before, h.vault.Export())
}

// LP debt floors at zero when shares minted against one asset are redeemed
// for another.
func TestRemoveLiquidity_LpDebtClampsAtZero(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 8, 1e8, true)
	h.listAsset(btc, 8, 20e8, false)
	h.mustAddLiquidity(alice, usdc, 5e8)
	h.fund(usdc, alice, 5e8)
	require.NoError(t, h.vault.DirectPoolDeposit(alice, usdc, 5e8))
	minted := h.mustAddLiquidity(bob, btc, 10e8)
	require.Equal(t, int64(200e8), minted)

	out, err := h.vault.RemoveLiquidity(bob, usdc, 8e8, bob)
	require.NoError(t, err)

	assert.Equal(t, int64(8e8), out)
	e := h.entry(usdc)
	assert.Equal(t, int64(0), e.LpDebtAmount)
	assert.Equal(t, int64(2e8), e.PoolAmount)
	assert.Equal(t, int64(200e8), h.entry(btc).LpDebtAmount)
	h.requireInvariants()
}

// ============================================================================
// Test: Direct pool deposit
// ============================================================================

func TestDirectPoolDeposit_NoShares(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	h.fund(usdc, alice, 10e6)

	require.NoError(t, h.vault.DirectPoolDeposit(alice, usdc, 10e6))

	e := h.entry(usdc)
	assert.Equal(t, int64(10e6), e.PoolAmount)
	assert.Equal(t, int64(0), e.LpDebtAmount)
	assert.Equal(t, int64(0), h.vault.TotalShareSupply())
	h.requireInvariants()
}

// ============================================================================
// Test: Swap
// ============================================================================

func TestSwap_ExactOutputWithoutFees(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	h.listAsset(btc, 8, 20e8, false)
	h.mustAddLiquidity(bob, btc, 10e8)
	h.fund(usdc, alice, 40e6)

	out, err := h.vault.Swap(alice, usdc, btc, 40e6, alice)
	require.NoError(t, err)

	assert.Equal(t, int64(2e8), out)
	assert.Equal(t, int64(2e8), h.custody.BalanceOf(btc, alice))
	assert.Equal(t, int64(40e6), h.entry(usdc).PoolAmount)
	assert.Equal(t, int64(8e8), h.entry(btc).PoolAmount)
	assert.Equal(t, int64(40e8), h.entry(usdc).LpDebtAmount)
	assert.Equal(t, int64(160e8), h.entry(btc).LpDebtAmount)
	h.requireInvariants()
}

func TestSwap_FeeTakenFromOutput(t *testing.T) {
	cfg := zeroFeeConfig()
	cfg.Fees.SwapFeeBps = 30
	h := newHarness(t, cfg)
	h.listAsset(usdc, 6, 1e8, true)
	h.listAsset(btc, 8, 20e8, false)
	h.mustAddLiquidity(bob, btc, 10e8)
	h.fund(usdc, alice, 40e6)

	out, err := h.vault.Swap(alice, usdc, btc, 40e6, alice)
	require.NoError(t, err)

	assert.Equal(t, int64(1994e5), out)
	e := h.entry(btc)
	assert.Equal(t, int64(6e5), e.FeeReserve)
	assert.Equal(t, int64(8e8), e.PoolAmount, "pool pays the pre-fee amount")
	assert.Equal(t, e.PoolAmount+e.FeeReserve, h.vault.VaultBalance(btc))
	h.requireInvariants()
}

func TestSwap_Rejections(t *testing.T) {
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 6, 1e8, true)
	h.listAsset(btc, 8, 20e8, false)
	h.mustAddLiquidity(bob, btc, 1e8)
	h.fund(usdc, alice, 100e6)
	before := h.vault.Export()

	_, err := h.vault.Swap(alice, usdc, usdc, 1e6, alice)
	assert.ErrorIs(t, err, vault.ErrInvalidState)

	_, err = h.vault.Swap(alice, usdc, btc, 0, alice)
	assert.ErrorIs(t, err, vault.ErrInvalidState)

	// 100 USDC buys 5 BTC, the pool holds 1
	_, err = h.vault.Swap(alice, usdc, btc, 100e6, alice)
	assert.ErrorIs(t, err, vault.ErrInvalidState)

	assert.Equal(t, before, h.vault.Export())
	assert.Equal(t, int64(100e6), h.custody.BalanceOf(usdc, alice))
}

// ============================================================================
// Test: Dynamic fees
// ============================================================================

func dynamicFeeHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, zeroFeeConfig())
	h.listAsset(usdc, 8, 1e8, true)
	h.listAsset(btc, 8, 20e8, false)
	h.mustAddLiquidity(bob, usdc, 1000e8)
	h.mustAddLiquidity(bob, btc, 10e8)

	require.NoError(t, h.vault.SetFees(admin, vault.FeeSchedule{
		TaxBps:           50,
		StableTaxBps:     20,
		MintBurnFeeBps:   30,
		SwapFeeBps:       30,
		StableSwapFeeBps: 4,
		HasDynamicFees:   true,
	}))
	return h
}

func TestSwapFee_TaxAwayFromTarget(t *testing.T) {
	h := dynamicFeeHarness(t)
	// supply 1200, targets 600 each; USDC backs 1000, BTC 200
	require.Equal(t, int64(1200e8), h.vault.TotalShareSupply())

	bps, err := h.vault.SwapFeeBasisPoints(usdc, btc, 100e8)
	require.NoError(t, err)
	assert.Greater(t, bps, int64(30))
	assert.Equal(t, int64(67), bps)
}

func TestSwapFee_RebateTowardTarget(t *testing.T) {
	h := dynamicFeeHarness(t)

	bps, err := h.vault.SwapFeeBasisPoints(btc, usdc, 5e8)
	require.NoError(t, err)
	assert.LessOrEqual(t, bps, int64(30))
	assert.Equal(t, int64(0), bps)
}

func TestSwapFee_ChargedOnExecution(t *testing.T) {
	h := dynamicFeeHarness(t)
	h.fund(usdc, alice, 100e8)
	h.sink.Reset()

	out, err := h.vault.Swap(alice, usdc, btc, 100e8, alice)
	require.NoError(t, err)

	// 5 BTC less 67 bps
	assert.Equal(t, int64(496650000), out)
	envs := h.eventsOf("swap")
	require.NotEmpty(t, envs)
	swap, ok := envs[len(envs)-1].Payload.(*event.Swap)
	require.True(t, ok)
	assert.Equal(t, int64(67), swap.FeeBps)
	assert.Equal(t, int64(5e8), swap.AmountOut)
	h.requireInvariants()
}

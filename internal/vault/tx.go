package vault

import (
	"fmt"
	"math"
	"sort"

	"PerpVault/internal/event"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"

	"github.com/google/uuid"
)

type balanceKey struct {
	asset   AssetID
	account uuid.UUID
}

// tx is the overlay of one operation. Reads fall through to the vault;
// writes go to copies. Nothing reaches the vault or the collaborators
// until commit.
type tx struct {
	v   *Vault
	op  string
	now int64 // unix seconds

	assets       map[AssetID]*AssetEntry
	positions    map[PositionKey]*Position // nil value = removed
	state        globalState
	stateTouched bool

	ops         []ledger.Op
	pending     map[balanceKey]int64
	registered  map[balanceKey]bool
	supplyDelta int64

	events []event.Event
}

func (v *Vault) begin(op string) *tx {
	return &tx{
		v:          v,
		op:         op,
		now:        v.clock.Now().Unix(),
		assets:     make(map[AssetID]*AssetEntry),
		positions:  make(map[PositionKey]*Position),
		state:      v.state,
		pending:    make(map[balanceKey]int64),
		registered: make(map[balanceKey]bool),
	}
}

func arith(err error) error {
	return fmt.Errorf("%w: %v", ErrOutOfRange, err)
}

func (t *tx) mulDiv(a, b, c int64) (int64, error) {
	r, err := fpmath.MulDiv(a, b, c, fpmath.RoundDown)
	if err != nil {
		return 0, arith(err)
	}
	return r, nil
}

func checkedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, arith(fpmath.ErrOverflow)
	}
	return a + b, nil
}

// --- State access ---

// asset returns the overlay copy of an asset entry, copying on first use.
func (t *tx) asset(id AssetID) (*AssetEntry, error) {
	if e, ok := t.assets[id]; ok {
		return e, nil
	}
	base, ok := t.v.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	cp := *base
	t.assets[id] = &cp
	return &cp, nil
}

func (t *tx) whitelisted(id AssetID) (*AssetEntry, error) {
	e, err := t.asset(id)
	if err != nil {
		return nil, err
	}
	if !e.Config.IsWhitelisted {
		return nil, fmt.Errorf("%w: asset %s is not whitelisted", ErrNotFound, id)
	}
	return e, nil
}

func (t *tx) position(key PositionKey) (*Position, bool) {
	if p, ok := t.positions[key]; ok {
		return p, p != nil
	}
	base, ok := t.v.positions[key]
	if !ok {
		return nil, false
	}
	cp := *base
	t.positions[key] = &cp
	return &cp, true
}

func (t *tx) putPosition(key PositionKey, p *Position) {
	t.positions[key] = p
}

func (t *tx) removePosition(key PositionKey) {
	t.positions[key] = nil
}

func (t *tx) touchState() *globalState {
	t.stateTouched = true
	return &t.state
}

func (t *tx) emit(e event.Event) {
	t.events = append(t.events, e)
}

// --- Prices and unit conversion ---

func (t *tx) price(id AssetID) (int64, error) {
	p, err := t.v.oracle.GetPrice(string(id))
	if err != nil {
		return 0, fmt.Errorf("%w: price of %s: %v", ErrNotFound, id, err)
	}
	if p <= 0 {
		return 0, fmt.Errorf("%w: price of %s is %d", ErrInvalidState, id, p)
	}
	return p, nil
}

func (t *tx) tokenToUsd(id AssetID, amount int64) (int64, error) {
	if amount == 0 {
		return 0, nil
	}
	e, err := t.asset(id)
	if err != nil {
		return 0, err
	}
	p, err := t.price(id)
	if err != nil {
		return 0, err
	}
	usd, err := fpmath.TokenToUSD(amount, p, e.Config.Decimals)
	if err != nil {
		return 0, arith(err)
	}
	return usd, nil
}

func (t *tx) usdToToken(id AssetID, usd int64) (int64, error) {
	if usd == 0 {
		return 0, nil
	}
	e, err := t.asset(id)
	if err != nil {
		return 0, err
	}
	p, err := t.price(id)
	if err != nil {
		return 0, err
	}
	amount, err := fpmath.USDToToken(usd, p, e.Config.Decimals)
	if err != nil {
		return 0, arith(err)
	}
	return amount, nil
}

// lpValue is the share-token amount worth `amount` of asset id.
func (t *tx) lpValue(id AssetID, amount int64) (int64, error) {
	e, err := t.asset(id)
	if err != nil {
		return 0, err
	}
	p, err := t.price(id)
	if err != nil {
		return 0, err
	}
	v, err := t.mulDiv(amount, p, fpmath.PricePrecision)
	if err != nil {
		return 0, err
	}
	out, err := fpmath.AdjustDecimals(v, e.Config.Decimals, t.v.cfg.ShareDecimals)
	if err != nil {
		return 0, arith(err)
	}
	return out, nil
}

// redemptionAmount is the amount of asset id worth `shares` share tokens.
func (t *tx) redemptionAmount(id AssetID, shares int64) (int64, error) {
	e, err := t.asset(id)
	if err != nil {
		return 0, err
	}
	p, err := t.price(id)
	if err != nil {
		return 0, err
	}
	v, err := t.mulDiv(shares, fpmath.PricePrecision, p)
	if err != nil {
		return 0, err
	}
	out, err := fpmath.AdjustDecimals(v, t.v.cfg.ShareDecimals, e.Config.Decimals)
	if err != nil {
		return 0, arith(err)
	}
	return out, nil
}

// --- Staged transfers ---

func (t *tx) balanceOf(asset AssetID, account uuid.UUID) int64 {
	var base int64
	if asset == t.v.shares.Asset() {
		base = t.v.shares.BalanceOf(account)
	} else {
		base = t.v.custody.BalanceOf(asset, account)
	}
	return base + t.pending[balanceKey{asset, account}]
}

func (t *tx) isRegistered(asset AssetID, account uuid.UUID) bool {
	return t.registered[balanceKey{asset, account}] || t.v.custody.IsRegistered(asset, account)
}

func (t *tx) register(asset AssetID, account uuid.UUID) {
	if t.isRegistered(asset, account) {
		return
	}
	t.registered[balanceKey{asset, account}] = true
	t.ops = append(t.ops, ledger.Op{Kind: ledger.OpRegister, Asset: asset, To: account})
}

func (t *tx) transfer(asset AssetID, from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer amount %d", ErrInvalidState, amount)
	}
	if from == to {
		return fmt.Errorf("%w: transfer of %s to self", ErrInvalidState, asset)
	}
	if have := t.balanceOf(asset, from); have < amount {
		return fmt.Errorf("%w: %s balance of %s is %d, needs %d", ErrInvalidState, asset, from, have, amount)
	}
	t.register(asset, to)
	t.pending[balanceKey{asset, from}] -= amount
	t.pending[balanceKey{asset, to}] += amount
	t.ops = append(t.ops, ledger.Op{Kind: ledger.OpTransfer, Asset: asset, From: from, To: to, Amount: amount})
	return nil
}

func (t *tx) transferIn(asset AssetID, from uuid.UUID, amount int64) error {
	return t.transfer(asset, from, t.v.account, amount)
}

func (t *tx) transferOut(asset AssetID, to uuid.UUID, amount int64) error {
	return t.transfer(asset, t.v.account, to, amount)
}

func (t *tx) mint(to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: mint amount %d", ErrInvalidState, amount)
	}
	share := t.v.shares.Asset()
	t.pending[balanceKey{share, to}] += amount
	t.supplyDelta += amount
	t.ops = append(t.ops, ledger.Op{Kind: ledger.OpMint, Asset: share, To: to, Amount: amount})
	return nil
}

func (t *tx) burn(from uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: burn amount %d", ErrInvalidState, amount)
	}
	share := t.v.shares.Asset()
	if have := t.balanceOf(share, from); have < amount {
		return fmt.Errorf("%w: share balance of %s is %d, needs %d", ErrInvalidState, from, have, amount)
	}
	t.pending[balanceKey{share, from}] -= amount
	t.supplyDelta -= amount
	t.ops = append(t.ops, ledger.Op{Kind: ledger.OpBurn, Asset: share, From: from, Amount: amount})
	return nil
}

func (t *tx) shareSupply() int64 {
	return t.v.shares.TotalSupply() + t.supplyDelta
}

// --- Commit ---

func (t *tx) touchedAssets() []AssetID {
	ids := make([]AssetID, 0, len(t.assets))
	for id := range t.assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// validate re-checks the invariants of every touched asset and position
// against the staged balances.
func (t *tx) validate() error {
	for _, id := range t.touchedAssets() {
		e := t.assets[id]
		if e.PoolAmount < e.ReservedAmount {
			return fmt.Errorf("%w: %s pool %d below reserved %d", ErrInvalidState, id, e.PoolAmount, e.ReservedAmount)
		}
		if bal := t.balanceOf(id, t.v.account); bal < e.PoolAmount {
			return fmt.Errorf("%w: %s custody %d below pool %d", ErrInvalidState, id, bal, e.PoolAmount)
		}
		if e.MaxShortSize > 0 && e.ShortSize > e.MaxShortSize {
			return fmt.Errorf("%w: %s short size %d exceeds max %d", ErrOutOfRange, id, e.ShortSize, e.MaxShortSize)
		}
	}
	for key, p := range t.positions {
		if p != nil && p.Size < p.Collateral {
			return fmt.Errorf("%w: position %s size %d below collateral %d", ErrInvalidState, key.Hex(), p.Size, p.Collateral)
		}
	}
	return nil
}

// settle hands the staged ops to the collaborators. Through a Settler the
// batch is atomic. Otherwise ops apply one by one and only the first may
// fail without leaving partial effects.
func (v *Vault) settle(ops []ledger.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if v.settler != nil {
		if err := v.settler.Settle(ops); err != nil {
			return fmt.Errorf("%w: settle: %v", ErrInvalidState, err)
		}
		return nil
	}
	for i, op := range ops {
		if err := v.applyOp(op); err != nil {
			if i == 0 {
				return fmt.Errorf("%w: %s: %v", ErrInvalidState, op.Kind, err)
			}
			panic(fmt.Sprintf("FATAL: settlement failed at op %d of %d (%s %s): %v", i+1, len(ops), op.Kind, op.Asset, err))
		}
	}
	return nil
}

func (v *Vault) applyOp(op ledger.Op) error {
	switch op.Kind {
	case ledger.OpTransfer:
		return v.custody.Transfer(op.Asset, op.From, op.To, op.Amount)
	case ledger.OpRegister:
		return v.custody.RegisterHolder(op.Asset, op.To)
	case ledger.OpMint:
		return v.shares.Mint(op.To, op.Amount)
	case ledger.OpBurn:
		return v.shares.Burn(op.From, op.Amount)
	default:
		return fmt.Errorf("unsupported op %s", op.Kind)
	}
}

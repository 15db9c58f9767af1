package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"

	"github.com/google/uuid"
)

// AccountID is the vault's own custody account.
var AccountID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("perpvault:vault"))

// Config is the bootstrap configuration of a vault.
type Config struct {
	ShareDecimals int32
	Fees          FeeSchedule
	Funding       FundingParams
	Positions     PositionParams
}

func DefaultConfig() Config {
	return Config{
		ShareDecimals: 8,
		Fees: FeeSchedule{
			TaxBps:           50,
			StableTaxBps:     20,
			MintBurnFeeBps:   30,
			SwapFeeBps:       30,
			StableSwapFeeBps: 4,
		},
		Funding: FundingParams{
			Interval:     8 * 3600,
			Factor:       100,
			StableFactor: 100,
		},
		Positions: PositionParams{
			MarginFeeBps: 10,
		},
	}
}

// Deps are the vault's collaborators. Settler and Sink are optional.
type Deps struct {
	Oracle   Oracle
	Custody  Custody
	Shares   ShareToken
	Settler  Settler
	Governor Governor
	Clock    Clock
	Sink     event.Sink
}

// Vault is the accounting engine. Mutations are serialized under one
// write lock; queries take the read lock.
type Vault struct {
	mu sync.RWMutex

	cfg      Config
	account  uuid.UUID
	oracle   Oracle
	custody  Custody
	shares   ShareToken
	settler  Settler
	governor Governor
	clock    Clock
	sink     event.Sink

	assets    map[AssetID]*AssetEntry
	positions map[PositionKey]*Position
	state     globalState

	hasher   *StateHasher
	opSeq    int64
	eventSeq int64
}

func New(cfg Config, deps Deps) (*Vault, error) {
	if deps.Oracle == nil || deps.Custody == nil || deps.Shares == nil || deps.Governor == nil || deps.Clock == nil {
		return nil, errors.New("vault: oracle, custody, shares, governor and clock are required")
	}
	if cfg.ShareDecimals < 0 || cfg.ShareDecimals > fpmath.MaxDecimals {
		return nil, fmt.Errorf("vault: share decimals %d: %w", cfg.ShareDecimals, ErrOutOfRange)
	}
	if err := ValidateFees(cfg.Fees); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if err := ValidateFunding(cfg.Funding); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if err := ValidatePositionParams(cfg.Positions); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	return &Vault{
		cfg:       cfg,
		account:   AccountID,
		oracle:    deps.Oracle,
		custody:   deps.Custody,
		shares:    deps.Shares,
		settler:   deps.Settler,
		governor:  deps.Governor,
		clock:     deps.Clock,
		sink:      deps.Sink,
		assets:    make(map[AssetID]*AssetEntry),
		positions: make(map[PositionKey]*Position),
		state: globalState{
			Fees:      cfg.Fees,
			Funding:   cfg.Funding,
			Positions: cfg.Positions,
		},
		hasher: NewStateHasher(),
	}, nil
}

// run applies fn in a fresh overlay and commits it. Any error discards
// the overlay.
func (v *Vault) run(op string, fn func(t *tx) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	t := v.begin(op)
	if err := fn(t); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := v.commit(t); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (v *Vault) commit(t *tx) error {
	if err := t.validate(); err != nil {
		return err
	}
	if err := v.settle(t.ops); err != nil {
		return err
	}

	for id, e := range t.assets {
		v.assets[id] = e
	}
	for key, p := range t.positions {
		if p == nil {
			delete(v.positions, key)
		} else {
			v.positions[key] = p
		}
	}
	if t.stateTouched {
		v.state = t.state
	}

	v.opSeq++
	prevHash := v.hasher.PrevHash()
	stateHash := v.hasher.ComputeHash(v.opSeq, t.digest())

	if len(t.events) == 0 || v.sink == nil {
		v.eventSeq += int64(len(t.events))
		return nil
	}

	opID := v.operationID()
	ts := v.clock.Now().UTC()
	envs := make([]event.EventEnvelope, 0, len(t.events))
	for _, e := range t.events {
		v.eventSeq++
		envs = append(envs, event.EventEnvelope{
			Sequence:     v.eventSeq,
			OperationSeq: v.opSeq,
			OperationID:  opID,
			Operation:    t.op,
			EventType:    e.EventType(),
			Asset:        e.AssetRef(),
			Timestamp:    ts,
			Payload:      e,
			StateHash:    stateHash,
			PrevHash:     prevHash,
		})
	}
	v.sink.Publish(envs)
	return nil
}

func (v *Vault) operationID() uuid.UUID {
	if o, ok := v.clock.(operationIDer); ok {
		if id := o.OperationID(); id != uuid.Nil {
			return id
		}
	}
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(v.opSeq))
	return uuid.NewSHA1(AccountID, seq[:])
}

// --- Positions ---

// IncreasePosition opens or grows the caller's position. collateralAmount
// is in collateral-asset units; sizeDelta is USD (1e8).
func (v *Vault) IncreasePosition(trader uuid.UUID, collateral, index AssetID, collateralAmount, sizeDelta int64, isLong bool) error {
	key := PositionKey{Trader: trader, Collateral: collateral, Index: index, IsLong: isLong}
	return v.run("increase_position", func(t *tx) error {
		return t.increasePosition(key, collateralAmount, sizeDelta)
	})
}

// DecreasePosition partially reduces the caller's position. sizeDelta must
// be strictly below the position size; use ClosePosition for a full exit.
// Returns the collateral-asset amount paid to receiver.
func (v *Vault) DecreasePosition(trader uuid.UUID, collateral, index AssetID, collateralDelta, sizeDelta int64, isLong bool, receiver uuid.UUID) (int64, error) {
	key := PositionKey{Trader: trader, Collateral: collateral, Index: index, IsLong: isLong}
	var out int64
	err := v.run("decrease_position", func(t *tx) error {
		var err error
		out, err = t.decreasePosition(key, collateralDelta, sizeDelta, receiver, false)
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// ClosePosition exits the caller's position entirely.
func (v *Vault) ClosePosition(trader uuid.UUID, collateral, index AssetID, isLong bool, receiver uuid.UUID) (int64, error) {
	key := PositionKey{Trader: trader, Collateral: collateral, Index: index, IsLong: isLong}
	var out int64
	err := v.run("close_position", func(t *tx) error {
		var err error
		out, err = t.decreasePosition(key, 0, 0, receiver, true)
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// --- Queries ---

func (v *Vault) Account() uuid.UUID { return v.account }

func (v *Vault) ShareAsset() AssetID { return v.shares.Asset() }

func (v *Vault) ShareDecimals() int32 { return v.cfg.ShareDecimals }

func (v *Vault) AssetEntry(asset AssetID) (AssetEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.assets[asset]
	if !ok {
		return AssetEntry{}, false
	}
	return *e, true
}

func (v *Vault) AssetConfig(asset AssetID) (AssetConfig, bool) {
	e, ok := v.AssetEntry(asset)
	return e.Config, ok
}

// Assets returns every configured asset, sorted.
func (v *Vault) Assets() []AssetID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]AssetID, 0, len(v.assets))
	for id := range v.assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (v *Vault) PoolAmount(asset AssetID) int64 {
	e, _ := v.AssetEntry(asset)
	return e.PoolAmount
}

func (v *Vault) LpDebtAmount(asset AssetID) int64 {
	e, _ := v.AssetEntry(asset)
	return e.LpDebtAmount
}

func (v *Vault) ReservedAmount(asset AssetID) int64 {
	e, _ := v.AssetEntry(asset)
	return e.ReservedAmount
}

func (v *Vault) Position(key PositionKey) (Position, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[key]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// PositionRecord pairs a position with its key.
type PositionRecord struct {
	Key      PositionKey `json:"key"`
	Position Position    `json:"position"`
}

// Positions returns every open position of trader, ordered by position id.
func (v *Vault) Positions(trader uuid.UUID) []PositionRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []PositionRecord
	for key, p := range v.positions {
		if key.Trader == trader {
			out = append(out, PositionRecord{Key: key, Position: *p})
		}
	}
	sortPositionRecords(out)
	return out
}

// PositionDelta returns the unrealized PnL of a position at the current
// oracle price. The min-profit window is evaluated at at; a zero at uses
// the time of the last applied operation.
func (v *Vault) PositionDelta(key PositionKey, at time.Time) (bool, int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[key]
	if !ok {
		return false, 0, fmt.Errorf("%w: position %s", ErrNotFound, key.Hex())
	}
	t := v.begin("position_delta")
	if !at.IsZero() {
		t.now = at.Unix()
	}
	price, err := t.price(key.Index)
	if err != nil {
		return false, 0, err
	}
	return t.delta(key.Index, p.Size, p.AveragePrice, key.IsLong, p.LastIncreasedTime, price)
}

// SwapFeeBasisPoints quotes the fee a swap of amountIn would pay now.
func (v *Vault) SwapFeeBasisPoints(assetIn, assetOut AssetID, amountIn int64) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t := v.begin("quote_swap")
	if _, err := t.whitelisted(assetIn); err != nil {
		return 0, err
	}
	if _, err := t.whitelisted(assetOut); err != nil {
		return 0, err
	}
	lpAmount, err := t.lpValue(assetIn, amountIn)
	if err != nil {
		return 0, err
	}
	return t.swapFeeBasisPoints(assetIn, assetOut, lpAmount)
}

func (v *Vault) Fees() FeeSchedule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Fees
}

func (v *Vault) FundingParams() FundingParams {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Funding
}

func (v *Vault) PositionParams() PositionParams {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Positions
}

func (v *Vault) TotalWeights() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.TotalWeights
}

// VaultBalance is the vault account's custody balance of asset.
func (v *Vault) VaultBalance(asset AssetID) int64 {
	return v.custody.BalanceOf(asset, v.account)
}

func (v *Vault) TotalShareSupply() int64 {
	return v.shares.TotalSupply()
}

// Sequence returns the number of committed operations.
func (v *Vault) Sequence() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.opSeq
}

// EventSequence returns the sequence of the last emitted event.
func (v *Vault) EventSequence() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.eventSeq
}

func (v *Vault) StateHash() [32]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.hasher.PrevHash()
}

// CheckInvariants verifies the per-asset and per-position invariants
// against current custody balances.
func (v *Vault) CheckInvariants() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t := v.begin("check")
	for id := range v.assets {
		if _, err := t.asset(id); err != nil {
			return err
		}
	}
	for key := range v.positions {
		t.position(key)
	}
	return t.validate()
}

func sortPositionRecords(recs []PositionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Key.Hex() < recs[j].Key.Hex()
	})
}

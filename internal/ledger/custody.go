package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrHolderNotRegistered = errors.New("holder not registered")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Custody is an in-memory double-entry custody ledger. Every movement of
// value is a journal in a balanced batch; Settle applies a set of ops
// all-or-nothing.
type Custody struct {
	mu        sync.RWMutex
	tracker   *BalanceTracker
	validator *InvariantValidator
	generator *JournalGenerator
	holders   map[AssetID]map[uuid.UUID]struct{}

	// applied batches not yet drained by the persistence pipeline
	pending []*Batch
}

func NewCustody() *Custody {
	tracker := NewBalanceTracker()
	return &Custody{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		generator: NewJournalGenerator(0),
		holders:   make(map[AssetID]map[uuid.UUID]struct{}),
	}
}

// RegisterHolder allows account to receive asset.
func (c *Custody) RegisterHolder(asset AssetID, account uuid.UUID) error {
	return c.Settle([]Op{{Kind: OpRegister, Asset: asset, To: account}})
}

// IsRegistered reports whether account may receive asset.
func (c *Custody) IsRegistered(asset AssetID, account uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRegisteredLocked(asset, account)
}

func (c *Custody) isRegisteredLocked(asset AssetID, account uuid.UUID) bool {
	_, ok := c.holders[asset][account]
	return ok
}

// BalanceOf returns the wallet balance of account in asset.
func (c *Custody) BalanceOf(asset AssetID, account uuid.UUID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.GetHolderBalance(account, asset)
}

// Transfer moves amount of asset between two registered holders.
func (c *Custody) Transfer(asset AssetID, from, to uuid.UUID, amount int64) error {
	return c.Settle([]Op{{Kind: OpTransfer, Asset: asset, From: from, To: to, Amount: amount}})
}

// Deposit credits amount from the external boundary, registering the
// recipient if needed.
func (c *Custody) Deposit(asset AssetID, to uuid.UUID, amount int64) error {
	return c.Settle([]Op{{Kind: OpDeposit, Asset: asset, To: to, Amount: amount}})
}

// Withdraw debits amount to the external boundary.
func (c *Custody) Withdraw(asset AssetID, from uuid.UUID, amount int64) error {
	return c.Settle([]Op{{Kind: OpWithdraw, Asset: asset, From: from, Amount: amount}})
}

// Settle validates every op against the current balances plus the effect of
// the ops before it, then applies them as one batch. On error nothing changes.
func (c *Custody) Settle(ops []Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	registrations := make(map[AssetID]map[uuid.UUID]struct{})
	registered := func(asset AssetID, account uuid.UUID) bool {
		if c.isRegisteredLocked(asset, account) {
			return true
		}
		_, ok := registrations[asset][account]
		return ok
	}
	register := func(asset AssetID, account uuid.UUID) {
		if registered(asset, account) {
			return
		}
		if registrations[asset] == nil {
			registrations[asset] = make(map[uuid.UUID]struct{})
		}
		registrations[asset][account] = struct{}{}
	}

	deltas := make(map[AccountKey]int64)
	debit := func(key AccountKey, amount int64) error {
		have := c.tracker.GetBalance(key) + deltas[key]
		if have < amount {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, key.AccountPath(), have, amount)
		}
		deltas[key] -= amount
		return nil
	}

	for i, op := range ops {
		if err := op.Asset.Validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
		if op.Kind == OpRegister {
			register(op.Asset, op.To)
			continue
		}
		if op.Amount <= 0 {
			return fmt.Errorf("%w: op %d (%s) amount %d", ErrInvalidAmount, i, op.Kind, op.Amount)
		}

		switch op.Kind {
		case OpTransfer:
			if op.From == op.To {
				return fmt.Errorf("op %d: self-transfer of %s", i, op.Asset)
			}
			if !registered(op.Asset, op.To) {
				return fmt.Errorf("%w: %s for %s", ErrHolderNotRegistered, op.To, op.Asset)
			}
			if err := debit(NewHolderAccountKey(op.From, op.Asset), op.Amount); err != nil {
				return err
			}
			deltas[NewHolderAccountKey(op.To, op.Asset)] += op.Amount
		case OpMint, OpDeposit:
			register(op.Asset, op.To)
			deltas[NewHolderAccountKey(op.To, op.Asset)] += op.Amount
		case OpBurn, OpWithdraw:
			if err := debit(NewHolderAccountKey(op.From, op.Asset), op.Amount); err != nil {
				return err
			}
		default:
			return fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
		}
	}

	batch, err := c.generator.Generate(ops)
	if err != nil {
		return err
	}
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: generated invalid batch: %v", err))
		}
		if err := c.tracker.ApplyBatch(batch); err != nil {
			return err
		}
		c.pending = append(c.pending, batch)
	}

	for asset, accounts := range registrations {
		if c.holders[asset] == nil {
			c.holders[asset] = make(map[uuid.UUID]struct{})
		}
		for account := range accounts {
			c.holders[asset][account] = struct{}{}
		}
	}

	return nil
}

// DrainBatches returns and clears the batches applied since the last drain.
func (c *Custody) DrainBatches() []*Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Validate checks the zero-sum and non-negative holder invariants.
func (c *Custody) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return c.validator.ValidateHoldersNonNegative()
}

// BalanceRecord is the serializable form of one account balance.
type BalanceRecord struct {
	Scope    AccountScope   `json:"scope"`
	EntityID string         `json:"entity_id"`
	SubType  AccountSubType `json:"sub_type"`
	Asset    AssetID        `json:"asset"`
	Balance  int64          `json:"balance"`
}

// HolderRecord lists the registered holders of one asset.
type HolderRecord struct {
	Asset    AssetID  `json:"asset"`
	Accounts []string `json:"accounts"`
}

// CustodySnapshot is the serializable ledger state.
type CustodySnapshot struct {
	BatchSequence int64           `json:"batch_sequence"`
	Balances      []BalanceRecord `json:"balances"`
	Holders       []HolderRecord  `json:"holders"`
}

// Snapshot exports balances and registrations in deterministic order.
func (c *Custody) Snapshot() CustodySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := CustodySnapshot{BatchSequence: c.generator.Sequence()}
	for key, balance := range c.tracker.Snapshot() {
		if balance == 0 {
			continue
		}
		snap.Balances = append(snap.Balances, BalanceRecord{
			Scope:    key.Scope,
			EntityID: uuid.UUID(key.EntityID).String(),
			SubType:  key.SubType,
			Asset:    key.AssetID,
			Balance:  balance,
		})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		a, b := snap.Balances[i], snap.Balances[j]
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.SubType < b.SubType
	})

	for asset, accounts := range c.holders {
		rec := HolderRecord{Asset: asset}
		for account := range accounts {
			rec.Accounts = append(rec.Accounts, account.String())
		}
		sort.Strings(rec.Accounts)
		snap.Holders = append(snap.Holders, rec)
	}
	sort.Slice(snap.Holders, func(i, j int) bool { return snap.Holders[i].Asset < snap.Holders[j].Asset })

	return snap
}

// Restore replaces the ledger state with a snapshot.
func (c *Custody) Restore(snap CustodySnapshot) error {
	balances := make(map[AccountKey]int64, len(snap.Balances))
	for _, rec := range snap.Balances {
		id, err := uuid.Parse(rec.EntityID)
		if err != nil {
			return fmt.Errorf("restore balance entity %q: %w", rec.EntityID, err)
		}
		key := AccountKey{Scope: rec.Scope, EntityID: id, SubType: rec.SubType, AssetID: rec.Asset}
		balances[key] = rec.Balance
	}

	holders := make(map[AssetID]map[uuid.UUID]struct{}, len(snap.Holders))
	for _, rec := range snap.Holders {
		set := make(map[uuid.UUID]struct{}, len(rec.Accounts))
		for _, s := range rec.Accounts {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("restore holder %q: %w", s, err)
			}
			set[id] = struct{}{}
		}
		holders[rec.Asset] = set
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Restore(balances)
	c.holders = holders
	c.generator = NewJournalGenerator(snap.BatchSequence)
	c.pending = nil
	return nil
}

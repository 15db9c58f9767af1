package vault

import (
	"fmt"
	"sync"
	"time"

	"PerpVault/internal/ledger"

	"github.com/google/uuid"
)

// Oracle supplies the USD price (1e8) of one whole unit of an asset.
type Oracle interface {
	GetPrice(asset string) (int64, error)
}

// Custody moves fungible balances between accounts.
type Custody interface {
	Transfer(asset AssetID, from, to uuid.UUID, amount int64) error
	RegisterHolder(asset AssetID, account uuid.UUID) error
	IsRegistered(asset AssetID, account uuid.UUID) bool
	BalanceOf(asset AssetID, account uuid.UUID) int64
}

// ShareToken is the pool-share token ledger.
type ShareToken interface {
	Asset() AssetID
	Mint(to uuid.UUID, amount int64) error
	Burn(from uuid.UUID, amount int64) error
	TotalSupply() int64
	BalanceOf(account uuid.UUID) int64
}

// Settler applies a set of transfers, registrations, mints and burns
// all-or-nothing. When present it must hold both the custody and the
// share-token balances.
type Settler interface {
	Settle(ops []ledger.Op) error
}

// Governor gates configuration mutators.
type Governor interface {
	AssertIsGovernor(caller uuid.UUID) error
}

// Clock supplies the versioned time input of the current operation.
type Clock interface {
	Now() time.Time
}

// operationIDer is implemented by clocks that also carry the id of the
// operation being applied.
type operationIDer interface {
	OperationID() uuid.UUID
}

// SingleAdmin is a Governor with one admin account.
type SingleAdmin struct {
	Admin uuid.UUID
}

func (g SingleAdmin) AssertIsGovernor(caller uuid.UUID) error {
	if caller != g.Admin {
		return fmt.Errorf("%w: %s is not the governor", ErrPermissionDenied, caller)
	}
	return nil
}

// ManualClock is a Clock set explicitly by the caller. The command
// processor sets it from each command before applying it.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
	op  uuid.UUID
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *ManualClock) OperationID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.op
}

// Begin sets the time and operation id for the next operation.
func (c *ManualClock) Begin(opID uuid.UUID, now time.Time) {
	c.mu.Lock()
	c.op = opID
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

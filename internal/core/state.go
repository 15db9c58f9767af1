package core

import (
	"fmt"
	"time"

	"PerpVault/internal/ledger"
	"PerpVault/internal/oracle"
	"PerpVault/internal/vault"
)

// State is the full in-memory state at a command boundary: vault, custody
// (including pool shares), prices and recent idempotency keys.
type State struct {
	Sequence        int64                  `json:"sequence"`
	Timestamp       time.Time              `json:"timestamp"`
	Vault           vault.Snapshot         `json:"vault"`
	Custody         ledger.CustodySnapshot `json:"custody"`
	Prices          []oracle.PriceRecord   `json:"prices"`
	IdempotencyKeys []string               `json:"idempotency_keys"`
}

// State captures the current state. Call it from the processor goroutine
// or before Run starts.
func (p *Processor) State() State {
	return State{
		Sequence:        p.sequence,
		Timestamp:       p.clock.Now(),
		Vault:           p.vault.Export(),
		Custody:         p.custody.Snapshot(),
		Prices:          p.feed.Snapshot(),
		IdempotencyKeys: p.idempotency.Keys(),
	}
}

// Restore replaces the in-memory state (warm restart). Commands after
// st.Sequence are then fed through Replay.
func (p *Processor) Restore(st State) error {
	if err := p.custody.Restore(st.Custody); err != nil {
		return fmt.Errorf("restore custody: %w", err)
	}
	p.feed.Restore(st.Prices)
	if err := p.vault.Restore(st.Vault); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	p.idempotency.Warm(st.IdempotencyKeys)
	p.clock.Set(st.Timestamp)
	p.sequence = st.Sequence

	if err := p.vault.CheckInvariants(); err != nil {
		return fmt.Errorf("restored state: %w", err)
	}
	if err := p.custody.Validate(); err != nil {
		return fmt.Errorf("restored custody: %w", err)
	}
	return nil
}

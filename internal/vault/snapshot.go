package vault

import (
	"encoding/hex"
	"fmt"
	"sort"
)

// AssetRecord is the serializable form of one asset entry.
type AssetRecord struct {
	Asset AssetID    `json:"asset"`
	Entry AssetEntry `json:"entry"`
}

// Snapshot is the complete serializable vault state. Collaborator state
// (custody balances, share supply, prices) is snapshotted separately.
type Snapshot struct {
	OperationSeq   int64            `json:"operation_seq"`
	EventSeq       int64            `json:"event_seq"`
	StateHash      string           `json:"state_hash"`
	ShareDecimals  int32            `json:"share_decimals"`
	TotalWeights   int64            `json:"total_weights"`
	Fees           FeeSchedule      `json:"fees"`
	Funding        FundingParams    `json:"funding"`
	PositionParams PositionParams   `json:"position_params"`
	Assets         []AssetRecord    `json:"assets"`
	Positions      []PositionRecord `json:"positions"`
}

// Export returns the current state in deterministic order.
func (v *Vault) Export() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tip := v.hasher.PrevHash()
	snap := Snapshot{
		OperationSeq:   v.opSeq,
		EventSeq:       v.eventSeq,
		StateHash:      hex.EncodeToString(tip[:]),
		ShareDecimals:  v.cfg.ShareDecimals,
		TotalWeights:   v.state.TotalWeights,
		Fees:           v.state.Fees,
		Funding:        v.state.Funding,
		PositionParams: v.state.Positions,
		Assets:         make([]AssetRecord, 0, len(v.assets)),
		Positions:      make([]PositionRecord, 0, len(v.positions)),
	}
	for id, e := range v.assets {
		snap.Assets = append(snap.Assets, AssetRecord{Asset: id, Entry: *e})
	}
	sort.Slice(snap.Assets, func(i, j int) bool { return snap.Assets[i].Asset < snap.Assets[j].Asset })
	for key, p := range v.positions {
		snap.Positions = append(snap.Positions, PositionRecord{Key: key, Position: *p})
	}
	sortPositionRecords(snap.Positions)
	return snap
}

// Restore replaces the vault state with a snapshot (used during recovery).
func (v *Vault) Restore(snap Snapshot) error {
	if snap.ShareDecimals != v.cfg.ShareDecimals {
		return fmt.Errorf("restore: snapshot share decimals %d, configured %d", snap.ShareDecimals, v.cfg.ShareDecimals)
	}
	tipBytes, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(tipBytes) != 32 {
		return fmt.Errorf("restore: invalid state hash %q", snap.StateHash)
	}
	var tip [32]byte
	copy(tip[:], tipBytes)

	assets := make(map[AssetID]*AssetEntry, len(snap.Assets))
	for _, rec := range snap.Assets {
		e := rec.Entry
		assets[rec.Asset] = &e
	}
	positions := make(map[PositionKey]*Position, len(snap.Positions))
	for _, rec := range snap.Positions {
		p := rec.Position
		positions[rec.Key] = &p
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.assets = assets
	v.positions = positions
	v.state = globalState{
		TotalWeights: snap.TotalWeights,
		Fees:         snap.Fees,
		Funding:      snap.Funding,
		Positions:    snap.PositionParams,
	}
	v.opSeq = snap.OperationSeq
	v.eventSeq = snap.EventSeq
	v.hasher.Reset(tip)
	return nil
}

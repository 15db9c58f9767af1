package vault

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

const GenesisHashSeed = "PerpVault:genesis:v1"

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || op_seq || state_digest)
func (h *StateHasher) ComputeHash(opSeq int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(opSeq))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// PrevHash returns current chain tip
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}

// Reset moves the chain tip (used during recovery).
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}

// digest serializes every asset entry, position and global field the
// operation touched, in sorted order, as little-endian bytes.
func (t *tx) digest() []byte {
	buf := make([]byte, 0, 256)

	for _, id := range t.touchedAssets() {
		e := t.assets[id]
		buf = appendString(buf, string(id))
		buf = appendInt64LE(buf, int64(e.Config.Decimals))
		buf = appendInt64LE(buf, e.Config.Weight)
		buf = appendInt64LE(buf, e.Config.MinProfitBps)
		buf = appendInt64LE(buf, e.Config.MaxLpAmount)
		buf = appendBool(buf, e.Config.IsWhitelisted)
		buf = appendBool(buf, e.Config.IsStable)
		buf = appendBool(buf, e.Config.IsShortable)
		buf = appendInt64LE(buf, e.PoolAmount)
		buf = appendInt64LE(buf, e.LpDebtAmount)
		buf = appendInt64LE(buf, e.CumulativeFundingRate)
		buf = appendInt64LE(buf, e.LastFundingTime)
		buf = appendInt64LE(buf, e.ReservedAmount)
		buf = appendInt64LE(buf, e.GuaranteedUsd)
		buf = appendInt64LE(buf, e.ShortSize)
		buf = appendInt64LE(buf, e.MaxShortSize)
		buf = appendInt64LE(buf, e.ShortAveragePrice)
		buf = appendInt64LE(buf, e.FeeReserve)
	}

	type keyed struct {
		id  [32]byte
		pos *Position
	}
	positions := make([]keyed, 0, len(t.positions))
	for key, p := range t.positions {
		positions = append(positions, keyed{id: key.ID(), pos: p})
	}
	sort.Slice(positions, func(i, j int) bool {
		return string(positions[i].id[:]) < string(positions[j].id[:])
	})
	for _, kp := range positions {
		buf = append(buf, kp.id[:]...)
		if kp.pos == nil {
			buf = append(buf, 0xFF)
			continue
		}
		p := kp.pos
		buf = appendInt64LE(buf, p.Size)
		buf = appendInt64LE(buf, p.Collateral)
		buf = appendInt64LE(buf, p.AveragePrice)
		buf = appendInt64LE(buf, p.EntryFundingRate)
		buf = appendInt64LE(buf, p.ReserveAmount)
		buf = appendInt64LE(buf, p.RealisedPnl)
		buf = appendInt64LE(buf, p.LastIncreasedTime)
	}

	if t.stateTouched {
		s := t.state
		buf = appendInt64LE(buf, s.TotalWeights)
		buf = appendInt64LE(buf, s.Fees.TaxBps)
		buf = appendInt64LE(buf, s.Fees.StableTaxBps)
		buf = appendInt64LE(buf, s.Fees.MintBurnFeeBps)
		buf = appendInt64LE(buf, s.Fees.SwapFeeBps)
		buf = appendInt64LE(buf, s.Fees.StableSwapFeeBps)
		buf = appendBool(buf, s.Fees.HasDynamicFees)
		buf = appendInt64LE(buf, s.Funding.Interval)
		buf = appendInt64LE(buf, s.Funding.Factor)
		buf = appendInt64LE(buf, s.Funding.StableFactor)
		buf = appendInt64LE(buf, s.Positions.MarginFeeBps)
		buf = appendInt64LE(buf, s.Positions.MinProfitTime)
	}

	buf = appendInt64LE(buf, t.supplyDelta)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

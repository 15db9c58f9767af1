package oracle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrPriceNotFound = errors.New("price not registered")
	ErrStalePrice    = errors.New("stale price update")
	ErrInvalidPrice  = errors.New("invalid price")
)

// PriceRecord is the latest accepted price of an asset. Price is the USD
// value of one whole unit, scaled by 1e8.
type PriceRecord struct {
	Asset     string `json:"asset"`
	Price     int64  `json:"price"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp_us"` // versioned input
}

// PriceFeed is an in-memory price source. Updates carry a per-asset
// monotonic sequence; anything at or below the last accepted sequence is
// rejected. Gaps are tolerated and counted.
type PriceFeed struct {
	mu     sync.RWMutex
	prices map[string]PriceRecord
	gaps   map[string]int64
}

func NewPriceFeed() *PriceFeed {
	return &PriceFeed{
		prices: make(map[string]PriceRecord),
		gaps:   make(map[string]int64),
	}
}

// SetPrice applies an update. A sequence of 0 on a known asset is stale.
func (f *PriceFeed) SetPrice(asset string, price, sequence, timestampUs int64) error {
	if asset == "" {
		return fmt.Errorf("%w: empty asset", ErrInvalidPrice)
	}
	if price <= 0 {
		return fmt.Errorf("%w: %s price %d", ErrInvalidPrice, asset, price)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, ok := f.prices[asset]
	if ok {
		if sequence <= prev.Sequence {
			return fmt.Errorf("%w: %s sequence %d, last %d", ErrStalePrice, asset, sequence, prev.Sequence)
		}
		if sequence > prev.Sequence+1 {
			f.gaps[asset]++
		}
	}

	f.prices[asset] = PriceRecord{Asset: asset, Price: price, Sequence: sequence, Timestamp: timestampUs}
	return nil
}

// GetPrice returns the latest price of asset.
func (f *PriceFeed) GetPrice(asset string) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.prices[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceNotFound, asset)
	}
	return rec.Price, nil
}

// Record returns the full price record of asset.
func (f *PriceFeed) Record(asset string) (PriceRecord, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.prices[asset]
	return rec, ok
}

// GapCount returns how many updates for asset skipped a sequence.
func (f *PriceFeed) GapCount(asset string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gaps[asset]
}

// Snapshot returns every price record sorted by asset.
func (f *PriceFeed) Snapshot() []PriceRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]PriceRecord, 0, len(f.prices))
	for _, rec := range f.prices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore replaces all prices (used during recovery).
func (f *PriceFeed) Restore(records []PriceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = make(map[string]PriceRecord, len(records))
	f.gaps = make(map[string]int64)
	for _, rec := range records {
		f.prices[rec.Asset] = rec
	}
}

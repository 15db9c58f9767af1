package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Asset ledger
	EventTypePoolAmountChanged
	EventTypeLpDebtChanged
	EventTypeReservedAmountChanged
	EventTypeGuaranteedUsdChanged
	EventTypeShortSizeChanged

	// Fees
	EventTypeSwapFeesCollected
	EventTypeMarginFeesCollected
	EventTypeFeesWithdrawn

	// Funding
	EventTypeFundingRateUpdated

	// Liquidity
	EventTypeLiquidityAdded
	EventTypeLiquidityRemoved
	EventTypeDirectPoolDeposit
	EventTypeSwap

	// Positions
	EventTypePositionIncreased
	EventTypePositionDecreased
	EventTypePositionUpdated
	EventTypePositionClosed
	EventTypePnLRealized

	// Configuration
	EventTypeAssetConfigUpdated
	EventTypeFeeScheduleUpdated
	EventTypeFundingParamsUpdated
	EventTypePositionParamsUpdated
	EventTypeMaxShortSizeUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned on commit
	Sequence int64

	// Sequence of the operation that produced this event. All events of
	// one operation share it.
	OperationSeq int64

	// Stable id of the operation (command id upstream)
	OperationID uuid.UUID

	// Operation name, e.g. "swap"
	Operation string

	// Event type discriminator
	EventType EventType

	// Asset context (nil for global events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	Payload Event

	// SHA-256 of state AFTER the operation committed
	StateHash [32]byte

	// State hash before the operation (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// AssetRef returns the asset context (nil for global events)
	AssetRef() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypePoolAmountChanged:
		return "PoolAmountChanged"
	case EventTypeLpDebtChanged:
		return "LpDebtChanged"
	case EventTypeReservedAmountChanged:
		return "ReservedAmountChanged"
	case EventTypeGuaranteedUsdChanged:
		return "GuaranteedUsdChanged"
	case EventTypeShortSizeChanged:
		return "ShortSizeChanged"
	case EventTypeSwapFeesCollected:
		return "SwapFeesCollected"
	case EventTypeMarginFeesCollected:
		return "MarginFeesCollected"
	case EventTypeFeesWithdrawn:
		return "FeesWithdrawn"
	case EventTypeFundingRateUpdated:
		return "FundingRateUpdated"
	case EventTypeLiquidityAdded:
		return "LiquidityAdded"
	case EventTypeLiquidityRemoved:
		return "LiquidityRemoved"
	case EventTypeDirectPoolDeposit:
		return "DirectPoolDeposit"
	case EventTypeSwap:
		return "Swap"
	case EventTypePositionIncreased:
		return "PositionIncreased"
	case EventTypePositionDecreased:
		return "PositionDecreased"
	case EventTypePositionUpdated:
		return "PositionUpdated"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePnLRealized:
		return "PnLRealized"
	case EventTypeAssetConfigUpdated:
		return "AssetConfigUpdated"
	case EventTypeFeeScheduleUpdated:
		return "FeeScheduleUpdated"
	case EventTypeFundingParamsUpdated:
		return "FundingParamsUpdated"
	case EventTypePositionParamsUpdated:
		return "PositionParamsUpdated"
	case EventTypeMaxShortSizeUpdated:
		return "MaxShortSizeUpdated"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String. Unknown names map to EventTypeUnknown.
func ParseEventType(name string) EventType {
	for et := EventTypePoolAmountChanged; et <= EventTypeMaxShortSizeUpdated; et++ {
		if et.String() == name {
			return et
		}
	}
	return EventTypeUnknown
}

func assetRef(asset string) *string {
	s := asset
	return &s
}

package event

import (
	"encoding/json"
	"fmt"
)

// NewPayload returns a zero payload for an event type, for decoding.
func NewPayload(et EventType) (Event, error) {
	switch et {
	case EventTypePoolAmountChanged:
		return &PoolAmountChanged{}, nil
	case EventTypeLpDebtChanged:
		return &LpDebtChanged{}, nil
	case EventTypeReservedAmountChanged:
		return &ReservedAmountChanged{}, nil
	case EventTypeGuaranteedUsdChanged:
		return &GuaranteedUsdChanged{}, nil
	case EventTypeShortSizeChanged:
		return &ShortSizeChanged{}, nil
	case EventTypeSwapFeesCollected:
		return &SwapFeesCollected{}, nil
	case EventTypeMarginFeesCollected:
		return &MarginFeesCollected{}, nil
	case EventTypeFeesWithdrawn:
		return &FeesWithdrawn{}, nil
	case EventTypeFundingRateUpdated:
		return &FundingRateUpdated{}, nil
	case EventTypeLiquidityAdded:
		return &LiquidityAdded{}, nil
	case EventTypeLiquidityRemoved:
		return &LiquidityRemoved{}, nil
	case EventTypeDirectPoolDeposit:
		return &DirectPoolDeposit{}, nil
	case EventTypeSwap:
		return &Swap{}, nil
	case EventTypePositionIncreased:
		return &PositionIncreased{}, nil
	case EventTypePositionDecreased:
		return &PositionDecreased{}, nil
	case EventTypePositionUpdated:
		return &PositionUpdated{}, nil
	case EventTypePositionClosed:
		return &PositionClosed{}, nil
	case EventTypePnLRealized:
		return &PnLRealized{}, nil
	case EventTypeAssetConfigUpdated:
		return &AssetConfigUpdated{}, nil
	case EventTypeFeeScheduleUpdated:
		return &FeeScheduleUpdated{}, nil
	case EventTypeFundingParamsUpdated:
		return &FundingParamsUpdated{}, nil
	case EventTypePositionParamsUpdated:
		return &PositionParamsUpdated{}, nil
	case EventTypeMaxShortSizeUpdated:
		return &MaxShortSizeUpdated{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
}

// EncodePayload serializes a payload for the event log and the outbound bus.
func EncodePayload(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(et EventType, data []byte) (Event, error) {
	e, err := NewPayload(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return e, nil
}

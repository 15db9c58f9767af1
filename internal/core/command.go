package core

import (
	"encoding/json"
	"fmt"
	"time"

	"PerpVault/internal/ledger"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
)

// Kind names a command on the wire (snake_case).
type Kind string

const (
	KindAddLiquidity      Kind = "add_liquidity"
	KindRemoveLiquidity   Kind = "remove_liquidity"
	KindDirectPoolDeposit Kind = "direct_pool_deposit"
	KindSwap              Kind = "swap"
	KindIncreasePosition  Kind = "increase_position"
	KindDecreasePosition  Kind = "decrease_position"
	KindClosePosition     Kind = "close_position"
	KindAccrueFunding     Kind = "accrue_funding"
	KindSetAssetConfig    Kind = "set_asset_config"
	KindSetFees           Kind = "set_fees"
	KindSetFundingRate    Kind = "set_funding_rate"
	KindSetPositionFees   Kind = "set_position_fees"
	KindSetMaxShortSize   Kind = "set_max_short_size"
	KindWithdrawFees      Kind = "withdraw_fees"
	KindDeposit           Kind = "deposit"
	KindSetPrice          Kind = "set_price"
)

// Kinds lists every command kind in wire order.
var Kinds = []Kind{
	KindAddLiquidity, KindRemoveLiquidity, KindDirectPoolDeposit, KindSwap,
	KindIncreasePosition, KindDecreasePosition, KindClosePosition, KindAccrueFunding,
	KindSetAssetConfig, KindSetFees, KindSetFundingRate, KindSetPositionFees,
	KindSetMaxShortSize, KindWithdrawFees, KindDeposit, KindSetPrice,
}

// Access says who may submit a command kind.
type Access int

const (
	AccessPublic   Access = iota // any caller, on its own account
	AccessGovernor               // caller must be the governor
	AccessInternal               // issued by the service itself: oracle prices, custody inflows
)

func (k Kind) Access() Access {
	switch k {
	case KindSetAssetConfig, KindSetFees, KindSetFundingRate, KindSetPositionFees,
		KindSetMaxShortSize, KindWithdrawFees:
		return AccessGovernor
	case KindDeposit, KindSetPrice:
		return AccessInternal
	default:
		return AccessPublic
	}
}

// Command is one input to the processor. Timestamp is the versioned
// input time; the processor never reads the wall clock.
type Command struct {
	ID        uuid.UUID
	Caller    uuid.UUID
	Timestamp time.Time
	Payload   Payload
}

func (c *Command) Kind() Kind {
	return c.Payload.Kind()
}

// Payload is implemented by every command body.
type Payload interface {
	Kind() Kind
	Validate() error
}

type AddLiquidity struct {
	Asset  ledger.AssetID `json:"asset"`
	Amount int64          `json:"amount"`
}

type RemoveLiquidity struct {
	Asset    ledger.AssetID `json:"asset"`
	Shares   int64          `json:"shares"`
	Receiver uuid.UUID      `json:"receiver"` // defaults to caller
}

type DirectPoolDeposit struct {
	Asset  ledger.AssetID `json:"asset"`
	Amount int64          `json:"amount"`
}

type Swap struct {
	AssetIn  ledger.AssetID `json:"asset_in"`
	AssetOut ledger.AssetID `json:"asset_out"`
	AmountIn int64          `json:"amount_in"`
	Receiver uuid.UUID      `json:"receiver"`
}

type IncreasePosition struct {
	Collateral       ledger.AssetID `json:"collateral_asset"`
	Index            ledger.AssetID `json:"index_asset"`
	CollateralAmount int64          `json:"collateral_amount"`
	SizeDelta        int64          `json:"size_delta"`
	IsLong           bool           `json:"is_long"`
}

type DecreasePosition struct {
	Collateral      ledger.AssetID `json:"collateral_asset"`
	Index           ledger.AssetID `json:"index_asset"`
	CollateralDelta int64          `json:"collateral_delta"`
	SizeDelta       int64          `json:"size_delta"`
	IsLong          bool           `json:"is_long"`
	Receiver        uuid.UUID      `json:"receiver"`
}

type ClosePosition struct {
	Collateral ledger.AssetID `json:"collateral_asset"`
	Index      ledger.AssetID `json:"index_asset"`
	IsLong     bool           `json:"is_long"`
	Receiver   uuid.UUID      `json:"receiver"`
}

type AccrueFunding struct {
	Asset ledger.AssetID `json:"asset"`
}

type SetAssetConfig struct {
	Asset ledger.AssetID `json:"asset"`
	vault.AssetConfig
}

type SetFees struct {
	vault.FeeSchedule
}

type SetFundingRate struct {
	vault.FundingParams
}

type SetPositionFees struct {
	vault.PositionParams
}

type SetMaxShortSize struct {
	Asset        ledger.AssetID `json:"asset"`
	MaxShortSize int64          `json:"max_short_size"`
}

type WithdrawFees struct {
	Asset    ledger.AssetID `json:"asset"`
	Receiver uuid.UUID      `json:"receiver"`
}

// Deposit credits external funds to a custody account.
type Deposit struct {
	Asset   ledger.AssetID `json:"asset"`
	Account uuid.UUID      `json:"account"` // defaults to caller
	Amount  int64          `json:"amount"`
}

// SetPrice is an oracle update. PriceSequence is per asset and must increase.
type SetPrice struct {
	Asset         ledger.AssetID `json:"asset"`
	Price         int64          `json:"price"`
	PriceSequence int64          `json:"price_sequence"`
}

func (AddLiquidity) Kind() Kind      { return KindAddLiquidity }
func (RemoveLiquidity) Kind() Kind   { return KindRemoveLiquidity }
func (DirectPoolDeposit) Kind() Kind { return KindDirectPoolDeposit }
func (Swap) Kind() Kind              { return KindSwap }
func (IncreasePosition) Kind() Kind  { return KindIncreasePosition }
func (DecreasePosition) Kind() Kind  { return KindDecreasePosition }
func (ClosePosition) Kind() Kind     { return KindClosePosition }
func (AccrueFunding) Kind() Kind     { return KindAccrueFunding }
func (SetAssetConfig) Kind() Kind    { return KindSetAssetConfig }
func (SetFees) Kind() Kind           { return KindSetFees }
func (SetFundingRate) Kind() Kind    { return KindSetFundingRate }
func (SetPositionFees) Kind() Kind   { return KindSetPositionFees }
func (SetMaxShortSize) Kind() Kind   { return KindSetMaxShortSize }
func (WithdrawFees) Kind() Kind      { return KindWithdrawFees }
func (Deposit) Kind() Kind           { return KindDeposit }
func (SetPrice) Kind() Kind          { return KindSetPrice }

// Validate checks shape only. Amounts and permissions are the vault's call.
func (p AddLiquidity) Validate() error      { return p.Asset.Validate() }
func (p RemoveLiquidity) Validate() error   { return p.Asset.Validate() }
func (p DirectPoolDeposit) Validate() error { return p.Asset.Validate() }
func (p AccrueFunding) Validate() error     { return p.Asset.Validate() }
func (p SetAssetConfig) Validate() error    { return p.Asset.Validate() }
func (p SetFees) Validate() error           { return nil }
func (p SetFundingRate) Validate() error    { return nil }
func (p SetPositionFees) Validate() error   { return nil }
func (p SetMaxShortSize) Validate() error   { return p.Asset.Validate() }
func (p WithdrawFees) Validate() error      { return p.Asset.Validate() }
func (p Deposit) Validate() error           { return p.Asset.Validate() }
func (p SetPrice) Validate() error          { return p.Asset.Validate() }

func (p Swap) Validate() error {
	return validateAssets(p.AssetIn, p.AssetOut)
}

func (p IncreasePosition) Validate() error {
	return validateAssets(p.Collateral, p.Index)
}

func (p DecreasePosition) Validate() error {
	return validateAssets(p.Collateral, p.Index)
}

func (p ClosePosition) Validate() error {
	return validateAssets(p.Collateral, p.Index)
}

func validateAssets(ids ...ledger.AssetID) error {
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NewPayload returns a zero payload for kind, for decoding.
func NewPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindAddLiquidity:
		return &AddLiquidity{}, nil
	case KindRemoveLiquidity:
		return &RemoveLiquidity{}, nil
	case KindDirectPoolDeposit:
		return &DirectPoolDeposit{}, nil
	case KindSwap:
		return &Swap{}, nil
	case KindIncreasePosition:
		return &IncreasePosition{}, nil
	case KindDecreasePosition:
		return &DecreasePosition{}, nil
	case KindClosePosition:
		return &ClosePosition{}, nil
	case KindAccrueFunding:
		return &AccrueFunding{}, nil
	case KindSetAssetConfig:
		return &SetAssetConfig{}, nil
	case KindSetFees:
		return &SetFees{}, nil
	case KindSetFundingRate:
		return &SetFundingRate{}, nil
	case KindSetPositionFees:
		return &SetPositionFees{}, nil
	case KindSetMaxShortSize:
		return &SetMaxShortSize{}, nil
	case KindWithdrawFees:
		return &WithdrawFees{}, nil
	case KindDeposit:
		return &Deposit{}, nil
	case KindSetPrice:
		return &SetPrice{}, nil
	default:
		return nil, fmt.Errorf("unknown command kind: %s", kind)
	}
}

// EncodePayload serializes a command body for the command log.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload is the inverse of EncodePayload. The result is a value,
// not a pointer, so dispatch can switch on concrete types.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	ptr, err := NewPayload(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	p := deref(ptr)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", kind, err)
	}
	return p, nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *AddLiquidity:
		return *v
	case *RemoveLiquidity:
		return *v
	case *DirectPoolDeposit:
		return *v
	case *Swap:
		return *v
	case *IncreasePosition:
		return *v
	case *DecreasePosition:
		return *v
	case *ClosePosition:
		return *v
	case *AccrueFunding:
		return *v
	case *SetAssetConfig:
		return *v
	case *SetFees:
		return *v
	case *SetFundingRate:
		return *v
	case *SetPositionFees:
		return *v
	case *SetMaxShortSize:
		return *v
	case *WithdrawFees:
		return *v
	case *Deposit:
		return *v
	case *SetPrice:
		return *v
	default:
		return p
	}
}

package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Holder sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemIssuance

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID identifies a fungible asset type by symbol (e.g. "BTC", "USDC").
type AssetID string

// Validate rejects empty or oversized symbols.
func (a AssetID) Validate() error {
	if a == "" {
		return fmt.Errorf("asset id is empty")
	}
	if len(a) > 32 {
		return fmt.Errorf("asset id %q exceeds 32 bytes", string(a))
	}
	return nil
}

func (a AssetID) String() string {
	return string(a)
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for holders, name hash for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewHolderAccountKey creates a key for a holder's wallet in one asset
func NewHolderAccountKey(holder uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeHolder,
		EntityID: holder,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("perpvault:system:"+name)),
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// IssuanceAccount is the contra account for a share token's supply.
func IssuanceAccount(assetID AssetID) AccountKey {
	return NewSystemAccountKey("issuance", SubTypeSystemIssuance, assetID)
}

// Holder returns the holder UUID for holder-scoped keys.
func (k AccountKey) Holder() (uuid.UUID, bool) {
	if k.Scope != AccountScopeHolder {
		return uuid.Nil, false
	}
	return uuid.UUID(k.EntityID), true
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("holder:%s:%s:%s", uid.String(), k.subTypeName(), k.AssetID)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemIssuance:
		return "issuance"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

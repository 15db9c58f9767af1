package query

import (
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse is an account's custody balance of one asset.
type BalanceResponse struct {
	Account uuid.UUID       `json:"account"`
	Asset   string          `json:"asset"`
	Balance int64           `json:"balance"`
	Display decimal.Decimal `json:"display"`

	// Set when Asset is the pool-share token.
	IsShare bool `json:"is_share"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// Balance returns account's custody balance of asset. Unknown assets have
// a zero balance rendered with zero decimals.
func (qs *QueryService) Balance(account uuid.UUID, asset string) *BalanceResponse {
	resp := &BalanceResponse{
		Account:      account,
		Asset:        asset,
		Balance:      qs.custody.BalanceOf(vault.AssetID(asset), account),
		AsOfSequence: qs.vault.Sequence(),
	}

	switch {
	case asset == string(qs.vault.ShareAsset()):
		resp.IsShare = true
		resp.Display = units(resp.Balance, qs.vault.ShareDecimals())
	default:
		cfg, _ := qs.vault.AssetConfig(vault.AssetID(asset))
		resp.Display = units(resp.Balance, cfg.Decimals)
	}
	return resp
}

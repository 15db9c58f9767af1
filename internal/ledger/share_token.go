package ledger

import (
	"github.com/google/uuid"
)

// ShareToken is the pool-share token, issued on a Custody ledger. Supply is
// the negated balance of the asset's issuance account.
type ShareToken struct {
	custody *Custody
	asset   AssetID
}

func NewShareToken(custody *Custody, asset AssetID) *ShareToken {
	return &ShareToken{custody: custody, asset: asset}
}

// Asset returns the share token's asset id on the custody ledger.
func (s *ShareToken) Asset() AssetID {
	return s.asset
}

func (s *ShareToken) Mint(to uuid.UUID, amount int64) error {
	return s.custody.Settle([]Op{{Kind: OpMint, Asset: s.asset, To: to, Amount: amount}})
}

func (s *ShareToken) Burn(from uuid.UUID, amount int64) error {
	return s.custody.Settle([]Op{{Kind: OpBurn, Asset: s.asset, From: from, Amount: amount}})
}

func (s *ShareToken) TotalSupply() int64 {
	s.custody.mu.RLock()
	defer s.custody.mu.RUnlock()
	return -s.custody.tracker.GetBalance(IssuanceAccount(s.asset))
}

func (s *ShareToken) BalanceOf(account uuid.UUID) int64 {
	return s.custody.BalanceOf(s.asset, account)
}

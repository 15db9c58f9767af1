package ingestion

import (
	"context"
	"fmt"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/ledger"

	"github.com/google/uuid"
)

// AdminIngest provides manual command injection for operators. It is for
// admin operations, not for high-throughput ingestion (use NATS for that).
// Injected commands get a fresh id and the wall-clock time as their
// versioned timestamp.
type AdminIngest struct {
	submitCh chan<- core.Submission
	admin    uuid.UUID
	oracle   uuid.UUID
	now      func() time.Time
}

func NewAdminIngest(submitCh chan<- core.Submission, admin, oracle uuid.UUID) *AdminIngest {
	return &AdminIngest{
		submitCh: submitCh,
		admin:    admin,
		oracle:   oracle,
		now:      time.Now,
	}
}

// InjectDeposit credits external funds to account.
func (s *AdminIngest) InjectDeposit(ctx context.Context, account uuid.UUID, asset string, amount int64) (core.Result, error) {
	if amount <= 0 {
		return core.Result{}, fmt.Errorf("%w: amount must be positive", ErrParse)
	}
	if account == uuid.Nil {
		return core.Result{}, fmt.Errorf("%w: account must not be nil", ErrParse)
	}
	return s.submit(ctx, s.admin, core.Deposit{Asset: ledger.AssetID(asset), Account: account, Amount: amount})
}

// InjectPrice submits an oracle price as the configured oracle.
func (s *AdminIngest) InjectPrice(ctx context.Context, asset string, price, priceSequence int64) (core.Result, error) {
	if price <= 0 {
		return core.Result{}, fmt.Errorf("%w: price must be positive", ErrParse)
	}
	return s.submit(ctx, s.oracle, core.SetPrice{Asset: ledger.AssetID(asset), Price: price, PriceSequence: priceSequence})
}

// InjectAccrueFunding triggers a funding accrual for asset.
func (s *AdminIngest) InjectAccrueFunding(ctx context.Context, asset string) (core.Result, error) {
	return s.submit(ctx, s.admin, core.AccrueFunding{Asset: ledger.AssetID(asset)})
}

func (s *AdminIngest) submit(ctx context.Context, caller uuid.UUID, payload core.Payload) (core.Result, error) {
	if err := payload.Validate(); err != nil {
		return core.Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	cmd := &core.Command{
		ID:        uuid.New(),
		Caller:    caller,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	return core.Submit(ctx, s.submitCh, cmd)
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PerpVault/internal/event"
	"PerpVault/internal/ledger"
	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config is the processor bootstrap configuration.
type Config struct {
	Vault               vault.Config
	ShareAsset          ledger.AssetID
	Governor            uuid.UUID
	Oracle              uuid.UUID // sole caller allowed to set prices
	IdempotencyCapacity int

	// SnapshotInterval attaches a State to every Nth persisted output. 0 disables.
	SnapshotInterval int64
}

func DefaultConfig() Config {
	return Config{
		Vault:               vault.DefaultConfig(),
		ShareAsset:          "PLP",
		IdempotencyCapacity: 1_000_000,
		SnapshotInterval:    10_000,
	}
}

// Outputs are the processor's downstream channels. Any may be nil.
type Outputs struct {
	Persist    chan<- Output // blocking
	Projection chan<- Output // non-blocking, drops counted
	Publish    chan<- Output // non-blocking, drops counted
	Stream     chan<- Output // non-blocking, drops counted
}

// Output is everything one applied command produced.
type Output struct {
	Sequence int64
	Command  *Command
	Amount   int64
	Events   []event.EventEnvelope
	Batches  []*ledger.Batch
	Snapshot *State
}

// Result is returned to the submitter of a command.
type Result struct {
	Sequence  int64                 `json:"sequence"`
	Amount    int64                 `json:"amount"`
	Duplicate bool                  `json:"duplicate"`
	Events    []event.EventEnvelope `json:"-"`
}

// Processor is the single writer. It owns the vault and its in-memory
// collaborators and applies one command at a time.
type Processor struct {
	vault     *vault.Vault
	custody   *ledger.Custody
	shares    *ledger.ShareToken
	feed      *oracle.PriceFeed
	clock     *vault.ManualClock
	collector *event.Collector

	governorID uuid.UUID
	oracleID   uuid.UUID

	idempotency      *IdempotencyChecker
	sequence         int64
	snapshotInterval int64

	outputs Outputs
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(cfg Config, outputs Outputs, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) (*Processor, error) {
	if err := cfg.ShareAsset.Validate(); err != nil {
		return nil, fmt.Errorf("share asset: %w", err)
	}
	if cfg.Governor == uuid.Nil || cfg.Oracle == uuid.Nil {
		return nil, fmt.Errorf("governor and oracle identities are required")
	}

	custody := ledger.NewCustody()
	shares := ledger.NewShareToken(custody, cfg.ShareAsset)
	feed := oracle.NewPriceFeed()
	clock := vault.NewManualClock(time.Unix(0, 0).UTC())
	collector := event.NewCollector()

	v, err := vault.New(cfg.Vault, vault.Deps{
		Oracle:   feed,
		Custody:  custody,
		Shares:   shares,
		Settler:  custody,
		Governor: vault.SingleAdmin{Admin: cfg.Governor},
		Clock:    clock,
		Sink:     collector,
	})
	if err != nil {
		return nil, err
	}

	return &Processor{
		vault:            v,
		custody:          custody,
		shares:           shares,
		feed:             feed,
		clock:            clock,
		collector:        collector,
		governorID:       cfg.Governor,
		oracleID:         cfg.Oracle,
		idempotency:      NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics, logger),
		snapshotInterval: cfg.SnapshotInterval,
		outputs:          outputs,
		metrics:          metrics,
		logger:           logger,
	}, nil
}

func (p *Processor) Vault() *vault.Vault          { return p.vault }
func (p *Processor) Custody() *ledger.Custody     { return p.custody }
func (p *Processor) Shares() *ledger.ShareToken   { return p.shares }
func (p *Processor) PriceFeed() *oracle.PriceFeed { return p.feed }

// WarmIdempotency preloads composite idempotency keys into the LRU.
func (p *Processor) WarmIdempotency(keys []string) {
	p.idempotency.Warm(keys)
}

// Sequence returns the number of applied commands.
func (p *Processor) Sequence() int64 {
	return p.sequence
}

// Apply is the main processing pipeline. Not safe for concurrent use:
// callers go through Run.
func (p *Processor) Apply(cmd *Command) (Result, error) {
	start := time.Now()
	kind := cmd.Kind()

	// Step 1: Idempotency check (two-tier)
	if p.idempotency.IsDuplicate(kind, cmd.ID) {
		if p.metrics != nil {
			p.metrics.CommandsRejected.WithLabelValues(string(kind), "duplicate").Inc()
		}
		return Result{Duplicate: true}, nil
	}

	out, err := p.apply(cmd)
	if err != nil {
		if p.metrics != nil {
			p.metrics.CommandsRejected.WithLabelValues(string(kind), vault.Class(err)).Inc()
		}
		p.logger.Debug().Err(err).Str("kind", string(kind)).Str("command_id", cmd.ID.String()).Msg("command rejected")
		return Result{}, err
	}

	if p.snapshotInterval > 0 && out.Sequence%p.snapshotInterval == 0 {
		st := p.State()
		out.Snapshot = &st
	}

	// Step 5: Emit outputs. Persist blocks; everything else drops on full.
	if p.outputs.Persist != nil {
		select {
		case p.outputs.Persist <- out:
		default:
			if p.metrics != nil {
				p.metrics.PersistBackpressure.Inc()
			}
			p.outputs.Persist <- out
		}
	}
	p.offer(p.outputs.Projection, out, "projection")
	p.offer(p.outputs.Publish, out, "publish")
	p.offer(p.outputs.Stream, out, "stream")

	p.recordApplied(kind, out, start)

	return Result{Sequence: out.Sequence, Amount: out.Amount, Events: out.Events}, nil
}

// Replay applies a command read back from the command log. No outputs are
// emitted and the sequence must follow on from the current one.
func (p *Processor) Replay(sequence int64, cmd *Command) error {
	if sequence != p.sequence+1 {
		return fmt.Errorf("replay: sequence %d, expected %d", sequence, p.sequence+1)
	}
	if _, err := p.apply(cmd); err != nil {
		return fmt.Errorf("replay %d: %w", sequence, err)
	}
	if p.metrics != nil {
		p.metrics.ReplayCommandsTotal.Inc()
	}
	return nil
}

func (p *Processor) apply(cmd *Command) (Output, error) {
	kind := cmd.Kind()

	// Step 2: Versioned time input
	p.clock.Begin(cmd.ID, cmd.Timestamp.UTC())

	// Step 3: Dispatch
	amount, err := p.dispatch(cmd)
	if err != nil {
		// A rejected command leaves nothing behind.
		p.collector.Drain()
		p.custody.DrainBatches()
		return Output{}, err
	}

	events := p.collector.Drain()
	batches := p.custody.DrainBatches()

	// Step 4: Post-checks
	if err := p.vault.CheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: vault invariant violated after %s %s: %v", kind, cmd.ID, err))
	}
	if err := p.custody.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: custody invariant violated after %s %s: %v", kind, cmd.ID, err))
	}

	p.sequence++
	p.idempotency.MarkProcessed(kind, cmd.ID)

	return Output{
		Sequence: p.sequence,
		Command:  cmd,
		Amount:   amount,
		Events:   events,
		Batches:  batches,
	}, nil
}

func (p *Processor) dispatch(cmd *Command) (int64, error) {
	v := p.vault
	caller := cmd.Caller

	switch c := cmd.Payload.(type) {
	case AddLiquidity:
		return v.AddLiquidity(caller, c.Asset, c.Amount)
	case RemoveLiquidity:
		return v.RemoveLiquidity(caller, c.Asset, c.Shares, receiverOr(c.Receiver, caller))
	case DirectPoolDeposit:
		return 0, v.DirectPoolDeposit(caller, c.Asset, c.Amount)
	case Swap:
		return v.Swap(caller, c.AssetIn, c.AssetOut, c.AmountIn, receiverOr(c.Receiver, caller))
	case IncreasePosition:
		return 0, v.IncreasePosition(caller, c.Collateral, c.Index, c.CollateralAmount, c.SizeDelta, c.IsLong)
	case DecreasePosition:
		return v.DecreasePosition(caller, c.Collateral, c.Index, c.CollateralDelta, c.SizeDelta, c.IsLong, receiverOr(c.Receiver, caller))
	case ClosePosition:
		return v.ClosePosition(caller, c.Collateral, c.Index, c.IsLong, receiverOr(c.Receiver, caller))
	case AccrueFunding:
		return 0, v.AccrueFunding(c.Asset)
	case SetAssetConfig:
		return 0, v.SetAssetConfig(caller, c.Asset, c.AssetConfig)
	case SetFees:
		return 0, v.SetFees(caller, c.FeeSchedule)
	case SetFundingRate:
		return 0, v.SetFundingRate(caller, c.FundingParams)
	case SetPositionFees:
		return 0, v.SetPositionFees(caller, c.PositionParams)
	case SetMaxShortSize:
		return 0, v.SetMaxShortSize(caller, c.Asset, c.MaxShortSize)
	case WithdrawFees:
		return v.WithdrawFees(caller, c.Asset, receiverOr(c.Receiver, caller))
	case Deposit:
		if caller != p.governorID {
			return 0, fmt.Errorf("deposit: %w: caller %s is not the governor", vault.ErrPermissionDenied, caller)
		}
		return c.Amount, p.deposit(c, receiverOr(c.Account, caller))
	case SetPrice:
		if caller != p.oracleID {
			return 0, fmt.Errorf("set_price: %w: caller %s is not the oracle", vault.ErrPermissionDenied, caller)
		}
		return 0, p.setPrice(c, cmd.Timestamp)
	default:
		return 0, fmt.Errorf("dispatch: unsupported payload %T", cmd.Payload)
	}
}

func (p *Processor) deposit(c Deposit, account uuid.UUID) error {
	if c.Asset == p.shares.Asset() {
		return fmt.Errorf("deposit: %w: %s is the pool-share asset", vault.ErrInvalidState, c.Asset)
	}
	if err := p.custody.Deposit(c.Asset, account, c.Amount); err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return fmt.Errorf("deposit: %w: %w", vault.ErrOutOfRange, err)
		}
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

func (p *Processor) setPrice(c SetPrice, ts time.Time) error {
	err := p.feed.SetPrice(string(c.Asset), c.Price, c.PriceSequence, ts.UnixMicro())
	switch {
	case err == nil:
		if p.metrics != nil {
			p.metrics.PriceUpdates.WithLabelValues(string(c.Asset)).Inc()
		}
		return nil
	case errors.Is(err, oracle.ErrStalePrice):
		if p.metrics != nil {
			p.metrics.PriceStale.WithLabelValues(string(c.Asset)).Inc()
		}
		return fmt.Errorf("set_price: %w: %w", vault.ErrInvalidState, err)
	default:
		return fmt.Errorf("set_price: %w: %w", vault.ErrOutOfRange, err)
	}
}

func receiverOr(receiver, caller uuid.UUID) uuid.UUID {
	if receiver == uuid.Nil {
		return caller
	}
	return receiver
}

func (p *Processor) offer(ch chan<- Output, out Output, name string) {
	if ch == nil {
		return
	}
	select {
	case ch <- out:
	default:
		if p.metrics == nil {
			return
		}
		switch name {
		case "publish":
			p.metrics.PublishDrops.Inc()
		case "stream":
			p.metrics.StreamDrops.Inc()
		default:
			p.metrics.ProjectionDrops.WithLabelValues(name).Inc()
		}
	}
}

func (p *Processor) recordApplied(kind Kind, out Output, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.CommandsApplied.WithLabelValues(string(kind)).Inc()
	p.metrics.CommandDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	p.metrics.OperationSequence.Set(float64(p.vault.Sequence()))

	touched := make(map[string]struct{})
	for _, env := range out.Events {
		p.metrics.EventsEmitted.WithLabelValues(env.EventType.String()).Inc()
		if env.Asset != nil {
			touched[*env.Asset] = struct{}{}
		}
	}
	for asset := range touched {
		e, ok := p.vault.AssetEntry(ledger.AssetID(asset))
		if !ok {
			continue
		}
		p.metrics.PoolAmount.WithLabelValues(asset).Set(float64(e.PoolAmount))
		p.metrics.ReservedAmount.WithLabelValues(asset).Set(float64(e.ReservedAmount))
		p.metrics.GuaranteedUsd.WithLabelValues(asset).Set(float64(e.GuaranteedUsd))
		p.metrics.ShortSize.WithLabelValues(asset).Set(float64(e.ShortSize))
		p.metrics.FeeReserve.WithLabelValues(asset).Set(float64(e.FeeReserve))
		p.metrics.FundingRate.WithLabelValues(asset).Set(float64(e.CumulativeFundingRate))
	}
	p.metrics.ShareSupply.Set(float64(p.shares.TotalSupply()))
}

// Submission carries a command into Run. Reply, if set, must have room
// for one value.
type Submission struct {
	Command *Command
	Reply   chan<- Reply
}

type Reply struct {
	Result Result
	Err    error
}

// Run applies submissions one at a time until ctx is cancelled or in is
// closed.
func (p *Processor) Run(ctx context.Context, in <-chan Submission) error {
	p.logger.Info().Int64("sequence", p.sequence).Msg("processor started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-in:
			if !ok {
				return nil
			}
			res, err := p.Apply(sub.Command)
			if sub.Reply != nil {
				sub.Reply <- Reply{Result: res, Err: err}
			}
		}
	}
}

// Submit sends cmd to a running processor and waits for the reply.
func Submit(ctx context.Context, in chan<- Submission, cmd *Command) (Result, error) {
	reply := make(chan Reply, 1)
	select {
	case in <- Submission{Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

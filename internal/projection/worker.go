package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/event"
	"PerpVault/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const workerID = "main"

// Invalidator drops cached read models after the projection changed.
type Invalidator interface {
	InvalidateAsset(ctx context.Context, asset string)
	InvalidateTrader(ctx context.Context, trader uuid.UUID)
}

// ProjectionWorker updates projection tables from processed outputs.
// The processor feeds it through a non-blocking send, so it may miss
// outputs under load. Every write is an absolute value taken from the
// event, so later outputs repair earlier gaps for the rows they touch and
// RebuildProjections restores everything from the event log.
type ProjectionWorker struct {
	db          *sql.DB
	inputChan   <-chan core.Output
	mirror      *RedisMirror
	invalidator Invalidator
	metrics     *observability.Metrics
	logger      zerolog.Logger
	lastSeq     int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	mirror *RedisMirror,
	invalidator Invalidator,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:          db,
		inputChan:   inputChan,
		mirror:      mirror,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run consumes outputs until ctx is cancelled or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent; rebuildable from the event log.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}

			if output.Sequence > pw.lastSeq+1 && pw.lastSeq != 0 {
				pw.logger.Warn().Int64("from", pw.lastSeq).Int64("to", output.Sequence).Msg("projection skipped outputs")
			}
			pw.lastSeq = output.Sequence

			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("vault").Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionWatermark.Set(float64(output.Sequence))
			}
		}
	}
}

// LastSequence is the command sequence of the last applied output.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	touched := newTouched()
	for _, env := range output.Events {
		if err := execAll(ctx, tx, Statements(env)); err != nil {
			return fmt.Errorf("%s at event %d: %w", env.EventType, env.Sequence, err)
		}
		touched.Touch(env)
	}

	if err := execAll(ctx, tx, []Statement{watermarkUpsert(workerID, output.Sequence)}); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.mirror != nil {
		if err := pw.mirror.Mirror(ctx, output.Events); err != nil {
			pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("redis mirror failed")
		}
	}
	pw.invalidate(ctx, touched)
	return nil
}

func (pw *ProjectionWorker) invalidate(ctx context.Context, touched Touched) {
	if pw.invalidator == nil {
		return
	}
	for asset := range touched.Assets {
		pw.invalidator.InvalidateAsset(ctx, asset)
	}
	for trader := range touched.Traders {
		pw.invalidator.InvalidateTrader(ctx, trader)
	}
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []Statement) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.Query, s.Args...); err != nil {
			return err
		}
	}
	return nil
}

// RebuildProjections truncates every projection table and replays the
// event log into them in pages.
func RebuildProjections(ctx context.Context, db *sql.DB, pageSize int, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.asset_ledger`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.pnl_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	var (
		after    int64
		lastCmd  int64
		replayed int
	)
	for {
		envs, cmdSeqs, err := loadEvents(ctx, db, after, pageSize)
		if err != nil {
			return err
		}
		if len(envs) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for i, env := range envs {
			if err := execAll(ctx, tx, Statements(env)); err != nil {
				tx.Rollback()
				return fmt.Errorf("rebuild %s at event %d: %w", env.EventType, env.Sequence, err)
			}
			lastCmd = cmdSeqs[i]
		}
		if err := execAll(ctx, tx, []Statement{watermarkUpsert(workerID, lastCmd)}); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		replayed += len(envs)
		after = envs[len(envs)-1].Sequence
	}

	logger.Info().Int("events", replayed).Int64("sequence", lastCmd).Msg("projection rebuild complete")
	return nil
}

func loadEvents(ctx context.Context, db *sql.DB, after int64, limit int) ([]event.EventEnvelope, []int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, command_seq, operation_seq, operation_id, operation, event_type, asset, payload, timestamp
		FROM event_log.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		envs    []event.EventEnvelope
		cmdSeqs []int64
	)
	for rows.Next() {
		var (
			env      event.EventEnvelope
			cmdSeq   int64
			typeName string
			asset    sql.NullString
			payload  []byte
		)
		if err := rows.Scan(&env.Sequence, &cmdSeq, &env.OperationSeq, &env.OperationID, &env.Operation,
			&typeName, &asset, &payload, &env.Timestamp); err != nil {
			return nil, nil, err
		}
		env.EventType = event.ParseEventType(typeName)
		if asset.Valid {
			env.Asset = &asset.String
		}
		env.Payload, err = event.DecodePayload(env.EventType, payload)
		if err != nil {
			return nil, nil, fmt.Errorf("event %d: %w", env.Sequence, err)
		}
		envs = append(envs, env)
		cmdSeqs = append(cmdSeqs, cmdSeq)
	}
	return envs, cmdSeqs, rows.Err()
}

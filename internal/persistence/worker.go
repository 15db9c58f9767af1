package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/observability"

	"github.com/rs/zerolog"
)

// ErrBatchLost is returned by Run when a batch could not be written before
// shutdown. The in-memory state is then ahead of the durable log.
var ErrBatchLost = errors.New("persistence: batch lost")

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The processor sends on that channel with a BLOCKING send, so if this
// worker falls behind the processor stalls and no output is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	snapshots    *SnapshotManager
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		snapshots:    NewSnapshotManager(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. A snapshot riding on an output is saved
// right after the batch containing it commits. Blocks until ctx is
// cancelled or the channel closes. A batch that still fails on its last
// attempt stops the worker with ErrBatchLost and its snapshots are skipped.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]Rows, 0, pw.batchSize)
	var pending []*core.State

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			first, last := batch[0].Command.Sequence, batch[len(batch)-1].Command.Sequence
			pw.logger.Error().Err(err).Int64("from_sequence", first).Int64("to_sequence", last).Msg("batch flush failed after retries")
			return fmt.Errorf("%w: sequences %d..%d: %v", ErrBatchLost, first, last, err)
		}
		for _, st := range pending {
			pw.saveSnapshot(ctx, st)
		}
		batch = batch[:0]
		pending = pending[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if err := flush(context.Background()); err != nil {
				return err
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return flush(context.Background())
			}

			rows, err := RowsFromOutput(output)
			if err != nil {
				// Encoding is deterministic; a failure here is a bug.
				panic("FATAL: " + err.Error())
			}
			batch = append(batch, rows)
			if output.Snapshot != nil {
				pending = append(pending, output.Snapshot)
			}

			if len(batch) >= pw.batchSize {
				if err := flush(ctx); err != nil {
					return err
				}
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if err := flush(ctx); err != nil {
				return err
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// Once ctx is cancelled it makes one last attempt on a fresh context and
// returns that attempt's error.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []Rows) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("commands", len(batch)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// Shutdown: one last try on a fresh context.
				return pw.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch []Rows) error {
	start := time.Now()

	var (
		commands = make([]CommandRow, 0, len(batch))
		events   []EventRow
		journals []JournalRow
	)
	for _, rows := range batch {
		commands = append(commands, rows.Command)
		events = append(events, rows.Events...)
		journals = append(journals, rows.Journals...)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	// Commands first: events and journals reference them.
	if err := pw.writer.WriteCommandBatch(ctx, tx, commands); err != nil {
		pw.countError("write_commands")
		return err
	}
	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(commands)))
		pw.metrics.PersistCommandsWritten.Add(float64(len(commands)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(commands[len(commands)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) saveSnapshot(ctx context.Context, st *core.State) {
	start := time.Now()
	size, err := pw.snapshots.SaveSnapshot(ctx, st)
	if err != nil {
		pw.countError("snapshot")
		pw.logger.Error().Err(err).Int64("sequence", st.Sequence).Msg("snapshot save failed")
		return
	}
	if pw.metrics != nil {
		pw.metrics.SnapshotTaken.Inc()
		pw.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		pw.metrics.SnapshotSizeBytes.Set(float64(size))
		pw.metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	}
	pw.logger.Info().Int64("sequence", st.Sequence).Int("bytes", size).Msg("snapshot saved")
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

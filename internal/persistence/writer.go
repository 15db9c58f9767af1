package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/event"

	"github.com/google/uuid"
)

// maxParams stays under Postgres' 65535 bind-parameter limit.
const maxParams = 60_000

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes commands, events and journals to Postgres using
// multi-row INSERT. Every insert is idempotent on its primary key.
type EventLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in event_log.commands
type CommandRow struct {
	Sequence    int64
	CommandID   uuid.UUID
	Kind        string
	Caller      uuid.UUID
	TimestampUs int64
	Payload     []byte
	Amount      int64
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence     int64
	CommandSeq   int64
	OperationSeq int64
	OperationID  uuid.UUID
	Operation    string
	EventType    string
	Asset        *string
	Payload      []byte
	StateHash    []byte
	PrevHash     []byte
	Timestamp    time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	BatchSequence int64
	CommandSeq    int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        int64
	JournalType   string
}

// Rows is the persisted form of one core.Output.
type Rows struct {
	Command  CommandRow
	Events   []EventRow
	Journals []JournalRow
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput converts a processor output into table rows.
func RowsFromOutput(out core.Output) (Rows, error) {
	payload, err := core.EncodePayload(out.Command.Payload)
	if err != nil {
		return Rows{}, fmt.Errorf("encode command %d: %w", out.Sequence, err)
	}

	rows := Rows{
		Command: CommandRow{
			Sequence:    out.Sequence,
			CommandID:   out.Command.ID,
			Kind:        string(out.Command.Kind()),
			Caller:      out.Command.Caller,
			TimestampUs: out.Command.Timestamp.UnixMicro(),
			Payload:     payload,
			Amount:      out.Amount,
		},
		Events: make([]EventRow, 0, len(out.Events)),
	}

	for _, env := range out.Events {
		data, err := event.EncodePayload(env.Payload)
		if err != nil {
			return Rows{}, fmt.Errorf("encode event %d: %w", env.Sequence, err)
		}
		stateHash, prevHash := env.StateHash, env.PrevHash
		rows.Events = append(rows.Events, EventRow{
			Sequence:     env.Sequence,
			CommandSeq:   out.Sequence,
			OperationSeq: env.OperationSeq,
			OperationID:  env.OperationID,
			Operation:    env.Operation,
			EventType:    env.EventType.String(),
			Asset:        env.Asset,
			Payload:      data,
			StateHash:    stateHash[:],
			PrevHash:     prevHash[:],
			Timestamp:    env.Timestamp,
		})
	}

	for _, batch := range out.Batches {
		for _, j := range batch.Journals {
			rows.Journals = append(rows.Journals, JournalRow{
				JournalID:     j.JournalID,
				BatchID:       j.BatchID,
				BatchSequence: j.Sequence,
				CommandSeq:    out.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         string(j.AssetID),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
			})
		}
	}
	return rows, nil
}

// WriteCommandBatch writes commands to event_log.commands.
func (w *EventLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	const cols = 7
	return insertChunked(ctx, ex, len(commands), cols,
		`INSERT INTO event_log.commands
		(sequence, command_id, kind, caller, timestamp_us, payload, amount)
		VALUES `,
		" ON CONFLICT (sequence) DO NOTHING",
		func(i int, args []any) []any {
			c := commands[i]
			return append(args, c.Sequence, c.CommandID, c.Kind, c.Caller, c.TimestampUs, c.Payload, c.Amount)
		})
}

// WriteEventBatch writes events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	const cols = 11
	return insertChunked(ctx, ex, len(events), cols,
		`INSERT INTO event_log.events
		(sequence, command_seq, operation_seq, operation_id, operation, event_type, asset, payload, state_hash, prev_hash, timestamp)
		VALUES `,
		" ON CONFLICT (sequence) DO NOTHING",
		func(i int, args []any) []any {
			e := events[i]
			return append(args, e.Sequence, e.CommandSeq, e.OperationSeq, e.OperationID, e.Operation,
				e.EventType, e.Asset, e.Payload, e.StateHash, e.PrevHash, e.Timestamp)
		})
}

// WriteJournalBatch writes journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	const cols = 9
	return insertChunked(ctx, ex, len(journals), cols,
		`INSERT INTO event_log.journal
		(journal_id, batch_id, batch_sequence, command_seq, debit_account, credit_account, asset, amount, journal_type)
		VALUES `,
		" ON CONFLICT (journal_id) DO NOTHING",
		func(i int, args []any) []any {
			j := journals[i]
			return append(args, j.JournalID, j.BatchID, j.BatchSequence, j.CommandSeq,
				j.DebitAccount, j.CreditAccount, j.Asset, j.Amount, j.JournalType)
		})
}

// insertChunked builds multi-row INSERTs of at most maxParams arguments each.
func insertChunked(ctx context.Context, ex execer, n, cols int, prefix, suffix string, row func(i int, args []any) []any) error {
	perChunk := maxParams / cols
	for start := 0; start < n; start += perChunk {
		end := min(start+perChunk, n)

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*cols)
		for i := start; i < end; i++ {
			base := (i - start) * cols
			placeholders := make([]string, cols)
			for c := range cols {
				placeholders[c] = fmt.Sprintf("$%d", base+c+1)
			}
			values = append(values, "("+strings.Join(placeholders, ", ")+")")
			args = row(i, args)
		}

		if _, err := ex.ExecContext(ctx, prefix+strings.Join(values, ", ")+suffix, args...); err != nil {
			return err
		}
	}
	return nil
}

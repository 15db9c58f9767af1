package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// formatVersion 1: JSON-encoded core.State
const formatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, st *core.State) (int, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), st.Sequence, data, st.Vault.StateHash, formatVersion, len(data), st.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", st.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.State, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var st core.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &st, nil
}

// MarkVerified marks a snapshot as verified after a successful restore.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads commands with sequence >= fromSequence for replay.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_id, kind, caller, timestamp_us, payload, amount
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(&c.Sequence, &c.CommandID, &c.Kind, &c.Caller, &c.TimestampUs, &c.Payload, &c.Amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// CommandFromRow rebuilds the command a row was written from.
func CommandFromRow(row CommandRow) (*core.Command, error) {
	payload, err := core.DecodePayload(core.Kind(row.Kind), row.Payload)
	if err != nil {
		return nil, fmt.Errorf("command %d: %w", row.Sequence, err)
	}
	return &core.Command{
		ID:        row.CommandID,
		Caller:    row.Caller,
		Timestamp: time.UnixMicro(row.TimestampUs).UTC(),
		Payload:   payload,
	}, nil
}

// Recover restores the latest snapshot into p and replays every later
// command. It must run before the processor starts.
func (sm *SnapshotManager) Recover(ctx context.Context, p *core.Processor, pageSize int, metrics *observability.Metrics, logger zerolog.Logger) error {
	start := time.Now()

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := p.Restore(*snap); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		logger.Info().Int64("sequence", snap.Sequence).Str("state_hash", snap.Vault.StateHash).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot, cold start")
	}

	replayed := 0
	for {
		rows, err := sm.LoadCommandsFrom(ctx, p.Sequence()+1, pageSize)
		if err != nil {
			return fmt.Errorf("load commands from %d: %w", p.Sequence()+1, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			cmd, err := CommandFromRow(row)
			if err != nil {
				return err
			}
			if err := p.Replay(row.Sequence, cmd); err != nil {
				return err
			}
			replayed++
		}
	}

	if snap != nil {
		if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
			logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("mark snapshot verified")
		}
	}

	elapsed := time.Since(start)
	if metrics != nil {
		metrics.ReplayDuration.Set(elapsed.Seconds())
	}
	logger.Info().Int("replayed", replayed).Int64("sequence", p.Sequence()).Dur("elapsed", elapsed).Msg("recovery complete")
	return nil
}

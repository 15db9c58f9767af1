package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"PerpVault/internal/projection"

	"github.com/google/uuid"
)

// Store reads the Postgres projections.
type Store interface {
	PositionsByTrader(ctx context.Context, trader uuid.UUID) ([]PositionResponse, error)
	FundingHistory(ctx context.Context, asset string, limit int, before *int64) ([]projection.FundingHistoryEntry, error)
	PnLHistory(ctx context.Context, trader uuid.UUID, limit int, before *int64) ([]projection.PnLHistoryEntry, error)
	Watermark(ctx context.Context) (int64, error)
	HashChainBreaks(ctx context.Context, limit int) ([]int64, error)
}

// PostgresStore implements Store on the projection tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PositionsByTrader(ctx context.Context, trader uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := s.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, collateral_asset, index_asset, is_long, size, collateral, average_price,
		       entry_funding_rate, reserve_amount, realised_pnl, last_increased_time
		FROM projections.positions
		WHERE trader = $1
		ORDER BY position_id
	`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		p := PositionResponse{Trader: trader, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&p.PositionID, &p.CollateralAsset, &p.IndexAsset, &p.IsLong, &p.Size, &p.Collateral, &p.AveragePrice,
			&p.EntryFundingRate, &p.ReserveAmount, &p.RealisedPnl, &p.LastIncreasedTime,
		); err != nil {
			return nil, err
		}
		p.Display = positionDisplay(p)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// FundingHistory returns an asset's funding steps, newest first. before is
// an exclusive event-sequence cursor.
func (s *PostgresStore) FundingHistory(ctx context.Context, asset string, limit int, before *int64) ([]projection.FundingHistoryEntry, error) {
	query := `
		SELECT event_sequence, asset, rate_delta, cumulative_rate, intervals, bucket_time, timestamp
		FROM projections.funding_history
		WHERE asset = $1
	`
	args := []any{asset}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(" AND event_sequence < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY event_sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []projection.FundingHistoryEntry
	for rows.Next() {
		var h projection.FundingHistoryEntry
		if err := rows.Scan(&h.EventSequence, &h.Asset, &h.RateDelta, &h.CumulativeRate,
			&h.Intervals, &h.BucketTime, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *PostgresStore) PnLHistory(ctx context.Context, trader uuid.UUID, limit int, before *int64) ([]projection.PnLHistoryEntry, error) {
	query := `
		SELECT event_sequence, position_id, trader, has_profit, delta, timestamp
		FROM projections.pnl_history
		WHERE trader = $1
	`
	args := []any{trader}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(" AND event_sequence < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY event_sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []projection.PnLHistoryEntry
	for rows.Next() {
		var h projection.PnLHistoryEntry
		if err := rows.Scan(&h.EventSequence, &h.PositionID, &h.Trader, &h.HasProfit, &h.Delta, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *PostgresStore) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// HashChainBreaks returns event sequences whose prev_hash does not match
// the state_hash of the previous operation.
func (s *PostgresStore) HashChainBreaks(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.operation_seq <> e2.operation_seq
		  AND e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

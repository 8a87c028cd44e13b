package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownhft/updownbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert records one execution attempt.
func (s *FillStore) Insert(ctx context.Context, fill domain.Fill) error {
	const query = `
		INSERT INTO fills (
			intent_id, instrument_id, position_id, token, side,
			status, price, qty, fee, filled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		fill.IntentID, fill.InstrumentID, fill.PositionID,
		string(fill.Token), string(fill.Side),
		string(fill.Status), fill.Price, fill.Qty, fill.Fee, fill.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", fill.IntentID, err)
	}
	return nil
}

// ListByPosition returns fills for one position, newest first.
func (s *FillStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT intent_id, instrument_id, position_id, token, side,
	                 status, price, qty, fee, filled_at
	          FROM fills WHERE position_id = $1 ORDER BY filled_at DESC`
	args := []any{positionID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", positionID, err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var token, side, status string

		if err := rows.Scan(
			&f.IntentID, &f.InstrumentID, &f.PositionID, &token, &side,
			&status, &f.Price, &f.Qty, &f.Fee, &f.FilledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Token = domain.TickSide(token)
		f.Side = domain.OrderSide(side)
		f.Status = domain.FillStatus(status)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return fills, nil
}

// GetLastTimestamp returns the time of the most recent fill, or the zero
// time when no fills exist.
func (s *FillStore) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT filled_at FROM fills ORDER BY filled_at DESC LIMIT 1`).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("postgres: last fill timestamp: %w", err)
	}
	return ts, nil
}

// ListBefore returns fills recorded strictly before the cutoff, used by the
// archiver.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT intent_id, instrument_id, position_id, token, side,
		        status, price, qty, fee, filled_at
		 FROM fills WHERE filled_at < $1 ORDER BY filled_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before %s: %w", before, err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var token, side, status string

		if err := rows.Scan(
			&f.IntentID, &f.InstrumentID, &f.PositionID, &token, &side,
			&status, &f.Price, &f.Qty, &f.Fee, &f.FilledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Token = domain.TickSide(token)
		f.Side = domain.OrderSide(side)
		f.Status = domain.FillStatus(status)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills before rows: %w", err)
	}
	return fills, nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)

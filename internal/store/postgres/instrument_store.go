package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownhft/updownbot/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

// NewInstrumentStore creates a new InstrumentStore backed by the given connection pool.
func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

const instrumentSelectCols = `id, symbol, question, token_yes, token_no,
	expiry, tick_size, volume_24h, active`

const instrumentUpsert = `
	INSERT INTO instruments (
		id, symbol, question, token_yes, token_no,
		expiry, tick_size, volume_24h, active, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (id) DO UPDATE SET
		volume_24h = EXCLUDED.volume_24h,
		active     = EXCLUDED.active,
		updated_at = NOW()`

func scanInstrument(row pgx.Row) (domain.Instrument, error) {
	var inst domain.Instrument
	err := row.Scan(
		&inst.ID, &inst.Symbol, &inst.Question, &inst.TokenYes, &inst.TokenNo,
		&inst.Expiry, &inst.TickSize, &inst.Volume24h, &inst.Active,
	)
	return inst, err
}

// Upsert inserts an instrument or refreshes its mutable metadata. Identity
// fields never change after discovery.
func (s *InstrumentStore) Upsert(ctx context.Context, inst domain.Instrument) error {
	_, err := s.pool.Exec(ctx, instrumentUpsert,
		inst.ID, inst.Symbol, inst.Question, inst.TokenYes, inst.TokenNo,
		inst.Expiry, inst.TickSize, inst.Volume24h, inst.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert instrument %s: %w", inst.ID, err)
	}
	return nil
}

// UpsertBatch upserts a discovery page in one batch round trip.
func (s *InstrumentStore) UpsertBatch(ctx context.Context, insts []domain.Instrument) error {
	if len(insts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, inst := range insts {
		batch.Queue(instrumentUpsert,
			inst.ID, inst.Symbol, inst.Question, inst.TokenYes, inst.TokenNo,
			inst.Expiry, inst.TickSize, inst.Volume24h, inst.Active,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range insts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert instrument batch: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a single instrument.
func (s *InstrumentStore) GetByID(ctx context.Context, id string) (domain.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments WHERE id = $1`, id)

	inst, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", id, err)
	}
	return inst, nil
}

// GetByToken retrieves an instrument by either of its outcome token IDs.
func (s *InstrumentStore) GetByToken(ctx context.Context, tokenID string) (domain.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments
		 WHERE token_yes = $1 OR token_no = $1`, tokenID)

	inst, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument by token %s: %w", tokenID, err)
	}
	return inst, nil
}

// ListActive returns active, unexpired instruments ordered by soonest expiry.
func (s *InstrumentStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Instrument, error) {
	query := `SELECT ` + instrumentSelectCols + ` FROM instruments
		WHERE active AND expiry > NOW()
		ORDER BY expiry ASC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list active instruments: %w", err)
	}
	defer rows.Close()

	var insts []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		insts = append(insts, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active instruments rows: %w", err)
	}
	return insts, nil
}

// Count returns the total number of stored instruments.
func (s *InstrumentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM instruments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count instruments: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.InstrumentStore = (*InstrumentStore)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownhft/updownbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
// Rows are append-only scoring history; MarkExecuted flags the ones a
// strategy acted on.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records a scored opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	breakdown, err := json.Marshal(opp.Breakdown)
	if err != nil {
		return fmt.Errorf("postgres: marshal breakdown: %w", err)
	}

	const query = `
		INSERT INTO opportunities (
			id, instrument_id, symbol, question,
			spread, score, volume, action, breakdown,
			best_ask_yes, best_ask_no, pair_cost, detected_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.InstrumentID, opp.Symbol, opp.Question,
		opp.Spread, opp.Score, opp.Volume, string(opp.Action), breakdown,
		opp.BestAskYes, opp.BestAskNo, opp.PairCost, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags an opportunity as acted upon.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET executed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, instrument_id, symbol, question,
		        spread, score, volume, action, breakdown,
		        best_ask_yes, best_ask_no, pair_cost, detected_at
		 FROM opportunities
		 ORDER BY detected_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var action string
		var breakdown []byte

		if err := rows.Scan(
			&opp.ID, &opp.InstrumentID, &opp.Symbol, &opp.Question,
			&opp.Spread, &opp.Score, &opp.Volume, &action, &breakdown,
			&opp.BestAskYes, &opp.BestAskNo, &opp.PairCost, &opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.Action = domain.OpportunityAction(action)
		if breakdown != nil {
			if err := json.Unmarshal(breakdown, &opp.Breakdown); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal breakdown: %w", err)
			}
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities rows: %w", err)
	}
	return opps, nil
}

// ListBefore returns opportunities detected strictly before the cutoff,
// used by the archiver.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, instrument_id, symbol, question,
		        spread, score, volume, action, breakdown,
		        best_ask_yes, best_ask_no, pair_cost, detected_at
		 FROM opportunities
		 WHERE detected_at < $1
		 ORDER BY detected_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var action string
		var breakdown []byte

		if err := rows.Scan(
			&opp.ID, &opp.InstrumentID, &opp.Symbol, &opp.Question,
			&opp.Spread, &opp.Score, &opp.Volume, &action, &breakdown,
			&opp.BestAskYes, &opp.BestAskNo, &opp.PairCost, &opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.Action = domain.OpportunityAction(action)
		if breakdown != nil {
			if err := json.Unmarshal(breakdown, &opp.Breakdown); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal breakdown: %w", err)
			}
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before rows: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)

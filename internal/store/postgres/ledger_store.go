package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/domain"
)

// LedgerStore implements domain.LedgerStore on the pair_positions table.
// Save replaces the table contents in one transaction. Timestamps are kept
// at microsecond precision.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerSelectCols = `id,
	leg1_market, leg1_order_id, leg1_size::text, leg1_side, leg1_submitted,
	leg2_market, leg2_order_id, leg2_size::text, leg2_side, leg2_submitted,
	hedge_ratio, z_score, half_life, pair_status, comments, opened_at`

func scanLedgerRows(rows pgx.Rows) ([]domain.PairPosition, error) {
	positions := []domain.PairPosition{}
	for rows.Next() {
		var (
			p            domain.PairPosition
			size1, size2 string
			side1, side2 string
			status       string
		)
		if err := rows.Scan(
			&p.ID,
			&p.Leg1.Market, &p.Leg1.OrderID, &size1, &side1, &p.Leg1.SubmittedAt,
			&p.Leg2.Market, &p.Leg2.OrderID, &size2, &side2, &p.Leg2.SubmittedAt,
			&p.HedgeRatio, &p.ZScore, &p.HalfLife, &status, &p.Comments, &p.OpenedAt,
		); err != nil {
			return nil, err
		}
		var err error
		if p.Leg1.Size, err = decimal.NewFromString(size1); err != nil {
			return nil, fmt.Errorf("leg1_size of %s: %w", p.ID, err)
		}
		if p.Leg2.Size, err = decimal.NewFromString(size2); err != nil {
			return nil, fmt.Errorf("leg2_size of %s: %w", p.ID, err)
		}
		p.Leg1.Side = domain.OrderSide(side1)
		p.Leg2.Side = domain.OrderSide(side2)
		p.Status = domain.PairStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Load returns every ledger entry in the order it was saved.
func (s *LedgerStore) Load(ctx context.Context) ([]domain.PairPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerSelectCols+` FROM pair_positions ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load ledger: %w", err)
	}
	defer rows.Close()

	positions, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger: %w", err)
	}
	return positions, nil
}

// Save atomically replaces the ledger with positions.
func (s *LedgerStore) Save(ctx context.Context, positions []domain.PairPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM pair_positions`); err != nil {
		return fmt.Errorf("postgres: clear ledger: %w", err)
	}

	if len(positions) > 0 {
		const query = `
			INSERT INTO pair_positions (
				id, ordinal,
				leg1_market, leg1_order_id, leg1_size, leg1_side, leg1_submitted,
				leg2_market, leg2_order_id, leg2_size, leg2_side, leg2_submitted,
				hedge_ratio, z_score, half_life, pair_status, comments, opened_at, updated_at
			) VALUES (
				$1, $2,
				$3, $4, $5::text::numeric, $6, $7,
				$8, $9, $10::text::numeric, $11, $12,
				$13, $14, $15, $16, $17, $18, NOW()
			)`

		batch := &pgx.Batch{}
		for i, p := range positions {
			batch.Queue(query,
				p.ID, i,
				p.Leg1.Market, p.Leg1.OrderID, p.Leg1.Size.String(), string(p.Leg1.Side), p.Leg1.SubmittedAt,
				p.Leg2.Market, p.Leg2.OrderID, p.Leg2.Size.String(), string(p.Leg2.Side), p.Leg2.SubmittedAt,
				p.HedgeRatio, p.ZScore, p.HalfLife, string(p.Status), p.Comments, p.OpenedAt,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range positions {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert ledger entry %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger: %w", err)
	}
	return nil
}

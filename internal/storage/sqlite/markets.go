package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hetulpatel/darwin/internal/models"
)

const upsertMarketSQL = `
INSERT INTO markets (market_id, question, probability, volume, liquidity, end_date, token_id, category, updated_at, last_seen_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(market_id) DO UPDATE SET
	question=excluded.question,
	probability=excluded.probability,
	volume=excluded.volume,
	liquidity=excluded.liquidity,
	end_date=excluded.end_date,
	token_id=excluded.token_id,
	category=excluded.category,
	updated_at=excluded.updated_at,
	last_seen_at=excluded.last_seen_at;
`

func (s *Store) SaveMarket(ctx context.Context, m models.Market) error {
	return s.BulkUpsertMarkets(ctx, []models.Market{m})
}

// BulkUpsertMarkets writes all markets in one transaction.
func (s *Store) BulkUpsertMarkets(ctx context.Context, markets []models.Market) error {
	if len(markets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsertMarketSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	seen := s.now().UnixMilli()
	for _, m := range markets {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Question, m.Probability, m.Volume, m.Liquidity,
			toMillis(m.EndDate), m.TokenID, m.Category, toMillis(m.UpdatedAt), seen); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: upsert market %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMarkets returns markets ordered by liquidity, highest first.
func (s *Store) ListMarkets(ctx context.Context, limit int) ([]models.Market, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT market_id, question, probability, volume, liquidity, end_date, token_id, category, updated_at
FROM markets ORDER BY liquidity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()
	var out []models.Market
	for rows.Next() {
		var (
			m                  models.Market
			endDate, updatedAt sql.NullInt64
			token, category    sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Question, &m.Probability, &m.Volume, &m.Liquidity, &endDate, &token, &category, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		m.EndDate = fromMillis(endDate)
		m.UpdatedAt = fromMillis(updatedAt)
		m.TokenID = token.String
		m.Category = category.String
		out = append(out, m)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
)

const signalColumns = `id, market_id, question, darwin_estimate, lower_bound, market_price, ev_net,
	ev_net_lower_bound, direction, reasoning, headlines_json, confidence, fee, slippage, latency,
	resolution_risk, total_cost, tradeable, created_at, expires_at, commit_tx_id, commit_hash,
	commit_block, price_at_commit, committed_at, reveal_tx_id, revealed_at`

const insertSignalSQL = `
INSERT INTO signals (` + signalColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	darwin_estimate=excluded.darwin_estimate,
	lower_bound=excluded.lower_bound,
	market_price=excluded.market_price,
	ev_net=excluded.ev_net,
	ev_net_lower_bound=excluded.ev_net_lower_bound,
	direction=excluded.direction,
	reasoning=excluded.reasoning,
	headlines_json=excluded.headlines_json,
	confidence=excluded.confidence,
	tradeable=excluded.tradeable,
	expires_at=excluded.expires_at;
`

// SaveSignal inserts a signal. Saving an existing id refreshes its analysis
// fields and leaves the commitment columns untouched.
func (s *Store) SaveSignal(ctx context.Context, sig models.Signal) error {
	if sig.ID == "" {
		return fmt.Errorf("sqlite: signal id is required")
	}
	headlines, err := json.Marshal(sig.Headlines)
	if err != nil {
		return fmt.Errorf("sqlite: marshal headlines: %w", err)
	}
	c := sig.Commitment
	_, err = s.db.ExecContext(ctx, insertSignalSQL,
		sig.ID, sig.MarketID, sig.Question, sig.DarwinEstimate, sig.LowerBound, sig.MarketPrice,
		sig.EVNet, sig.EVNetLowerBound, string(sig.Direction), sig.Reasoning, string(headlines),
		string(sig.Confidence), sig.Costs.Fee, sig.Costs.Slippage, sig.Costs.Latency,
		sig.Costs.ResolutionRisk, sig.Costs.Total, boolInt(sig.Tradeable), toMillis(sig.CreatedAt),
		toMillis(sig.ExpiresAt), nullString(c.CommitTxID), nullString(c.CommitHash), int64(c.CommitBlock),
		c.PriceAtCommit, toMillis(c.CommittedAt), nullString(c.RevealTxID), toMillis(c.RevealedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save signal %s: %w", sig.ID, err)
	}
	return nil
}

func (s *Store) GetSignal(ctx context.Context, id string) (models.Signal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Signal{}, fmt.Errorf("sqlite: signal %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return models.Signal{}, fmt.Errorf("sqlite: get signal %s: %w", id, err)
	}
	return sig, nil
}

func (s *Store) ListSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.querySignals(ctx, `SELECT `+signalColumns+` FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) GetSignalsByMarket(ctx context.Context, marketID string) ([]models.Signal, error) {
	return s.querySignals(ctx, `SELECT `+signalColumns+` FROM signals WHERE market_id = ? ORDER BY created_at DESC`, marketID)
}

func (s *Store) HasRecentSignal(ctx context.Context, marketID string, within time.Duration) (bool, error) {
	cutoff := s.now().Add(-within).UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM signals WHERE market_id = ? AND created_at > ?`, marketID, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: recent signal %s: %w", marketID, err)
	}
	return n > 0, nil
}

// PruneExpired deletes signals whose market end time has passed.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE expires_at > 0 AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) UpdateSignalCommitment(ctx context.Context, id string, c models.Commitment) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE signals SET commit_tx_id = ?, commit_hash = ?, commit_block = ?, price_at_commit = ?, committed_at = ?
WHERE id = ?`, c.CommitTxID, c.CommitHash, int64(c.CommitBlock), c.PriceAtCommit, toMillis(c.CommittedAt), id)
	if err != nil {
		return fmt.Errorf("sqlite: update commitment %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *Store) UpdateSignalReveal(ctx context.Context, id, txID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET reveal_tx_id = ?, revealed_at = ? WHERE id = ?`, txID, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: update reveal %s: %w", id, err)
	}
	return requireRow(res, id)
}

// GetUncommittedSignals returns unexpired signals without a commit, oldest first.
func (s *Store) GetUncommittedSignals(ctx context.Context, now time.Time) ([]models.Signal, error) {
	return s.querySignals(ctx, `SELECT `+signalColumns+` FROM signals
WHERE (commit_tx_id IS NULL OR commit_tx_id = '') AND (expires_at = 0 OR expires_at > ?)
ORDER BY created_at ASC`, now.UnixMilli())
}

func (s *Store) querySignals(ctx context.Context, query string, args ...any) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query signals: %w", err)
	}
	defer rows.Close()
	var out []models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(sc scanner) (models.Signal, error) {
	var (
		sig                                 models.Signal
		direction, confidence               string
		reasoning, headlines                sql.NullString
		commitTx, commitHash, revealTx      sql.NullString
		commitBlock                         sql.NullInt64
		priceAtCommit                       sql.NullFloat64
		tradeable                           int
		createdAt, expiresAt                sql.NullInt64
		committedAt, revealedAt             sql.NullInt64
		fee, slippage, latency, risk, total sql.NullFloat64
	)
	err := sc.Scan(&sig.ID, &sig.MarketID, &sig.Question, &sig.DarwinEstimate, &sig.LowerBound,
		&sig.MarketPrice, &sig.EVNet, &sig.EVNetLowerBound, &direction, &reasoning, &headlines,
		&confidence, &fee, &slippage, &latency, &risk, &total, &tradeable, &createdAt, &expiresAt,
		&commitTx, &commitHash, &commitBlock, &priceAtCommit, &committedAt, &revealTx, &revealedAt)
	if err != nil {
		return models.Signal{}, err
	}
	sig.Direction = models.Direction(direction)
	sig.Confidence = models.Confidence(confidence)
	sig.Reasoning = reasoning.String
	if headlines.Valid && headlines.String != "" {
		if err := json.Unmarshal([]byte(headlines.String), &sig.Headlines); err != nil {
			return models.Signal{}, fmt.Errorf("decode headlines: %w", err)
		}
	}
	sig.Costs = models.CostBreakdown{
		Fee:            fee.Float64,
		Slippage:       slippage.Float64,
		Latency:        latency.Float64,
		ResolutionRisk: risk.Float64,
		Total:          total.Float64,
	}
	sig.Tradeable = tradeable != 0
	sig.CreatedAt = fromMillis(createdAt)
	sig.ExpiresAt = fromMillis(expiresAt)
	sig.Commitment = models.Commitment{
		CommitTxID:    commitTx.String,
		CommitHash:    commitHash.String,
		CommitBlock:   uint64(commitBlock.Int64),
		PriceAtCommit: priceAtCommit.Float64,
		CommittedAt:   fromMillis(committedAt),
		RevealTxID:    revealTx.String,
		RevealedAt:    fromMillis(revealedAt),
	}
	return sig, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: signal %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

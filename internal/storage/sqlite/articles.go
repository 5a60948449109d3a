package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) MarkArticleSeen(ctx context.Context, key, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_articles (title_key, source, seen_at) VALUES (?,?,?) ON CONFLICT(title_key) DO NOTHING`,
		key, source, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: mark article seen: %w", err)
	}
	return nil
}

func (s *Store) HasSeenArticle(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM seen_articles WHERE title_key = ?`, key).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: seen article: %w", err)
	}
	return n > 0, nil
}

// PruneArticles removes seen-article keys older than the cutoff (unix millis).
func (s *Store) PruneArticles(ctx context.Context, beforeMillis int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_articles WHERE seen_at < ?`, beforeMillis)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune articles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Package ports declares the collaborators the core depends on. Adapters in
// internal/polymarket, internal/news, internal/estimator, internal/storage and
// internal/ledger implement them.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// MarketSource lists and fetches markets from a venue.
type MarketSource interface {
	// FetchMarkets returns one page of open markets. A nil page ends paging;
	// an empty non-nil page means everything on it was filtered out.
	FetchMarkets(ctx context.Context, page int) ([]models.Market, error)
	FetchMarketByID(ctx context.Context, id string) (models.Market, error)
}

// PriceSource returns a point price for a live-feed instrument.
type PriceSource interface {
	FetchPrice(ctx context.Context, tokenID string) (float64, error)
}

// NewsSource searches for articles relevant to a query.
type NewsSource interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.NewsItem, error)
}

// Estimator produces a probability estimate for a market question.
type Estimator interface {
	Estimate(ctx context.Context, question string, news []models.NewsItem, endDate time.Time) (models.Estimate, error)
}

// SignalStore persists signals and their commitment state.
type SignalStore interface {
	SaveSignal(ctx context.Context, sig models.Signal) error
	GetSignal(ctx context.Context, id string) (models.Signal, error)
	ListSignals(ctx context.Context, limit int) ([]models.Signal, error)
	GetSignalsByMarket(ctx context.Context, marketID string) ([]models.Signal, error)
	HasRecentSignal(ctx context.Context, marketID string, within time.Duration) (bool, error)
	PruneExpired(ctx context.Context, now time.Time) (int, error)
	UpdateSignalCommitment(ctx context.Context, id string, c models.Commitment) error
	UpdateSignalReveal(ctx context.Context, id, txID string, at time.Time) error
	GetUncommittedSignals(ctx context.Context, now time.Time) ([]models.Signal, error)
}

// MarketStore persists the latest market snapshots.
type MarketStore interface {
	SaveMarket(ctx context.Context, m models.Market) error
	BulkUpsertMarkets(ctx context.Context, markets []models.Market) error
	ListMarkets(ctx context.Context, limit int) ([]models.Market, error)
}

// ArticleStore remembers which articles have been processed.
type ArticleStore interface {
	MarkArticleSeen(ctx context.Context, key, source string) error
	HasSeenArticle(ctx context.Context, key string) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	SignalStore
	MarketStore
	ArticleStore
}

// Receipt identifies a submitted memo transaction.
type Receipt struct {
	TxID  string
	Block uint64
}

// LedgerTx is a memo read back from the ledger.
type LedgerTx struct {
	TxID      string
	Memo      string
	Block     uint64
	Timestamp time.Time
}

// Ledger anchors memo text on a public ledger.
type Ledger interface {
	SubmitMemo(ctx context.Context, memo string) (Receipt, error)
	GetTransaction(ctx context.Context, txID string) (LedgerTx, error)
}

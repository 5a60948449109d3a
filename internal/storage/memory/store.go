// Package memory is a process-local ports.Store used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	signals  map[string]models.Signal
	markets  map[string]models.Market
	articles map[string]string
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		signals:  make(map[string]models.Signal),
		markets:  make(map[string]models.Market),
		articles: make(map[string]string),
		now:      time.Now,
	}
}

func (s *Store) SaveSignal(_ context.Context, sig models.Signal) error {
	if sig.ID == "" {
		return fmt.Errorf("memory: signal id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.Headlines = append([]string(nil), sig.Headlines...)
	s.signals[sig.ID] = sig
	return nil
}

func (s *Store) GetSignal(_ context.Context, id string) (models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return models.Signal{}, fmt.Errorf("memory: signal %s: %w", id, ports.ErrNotFound)
	}
	return sig, nil
}

func (s *Store) ListSignals(_ context.Context, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	out := make([]models.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig)
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetSignalsByMarket(_ context.Context, marketID string) ([]models.Signal, error) {
	s.mu.RLock()
	var out []models.Signal
	for _, sig := range s.signals {
		if sig.MarketID == marketID {
			out = append(out, sig)
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) HasRecentSignal(_ context.Context, marketID string, within time.Duration) (bool, error) {
	cutoff := s.now().Add(-within)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sig := range s.signals {
		if sig.MarketID == marketID && sig.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) PruneExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sig := range s.signals {
		if sig.Expired(now) {
			delete(s.signals, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateSignalCommitment(_ context.Context, id string, c models.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("memory: signal %s: %w", id, ports.ErrNotFound)
	}
	c.RevealTxID = sig.Commitment.RevealTxID
	c.RevealedAt = sig.Commitment.RevealedAt
	sig.Commitment = c
	s.signals[id] = sig
	return nil
}

func (s *Store) UpdateSignalReveal(_ context.Context, id, txID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("memory: signal %s: %w", id, ports.ErrNotFound)
	}
	sig.Commitment.RevealTxID = txID
	sig.Commitment.RevealedAt = at
	s.signals[id] = sig
	return nil
}

func (s *Store) GetUncommittedSignals(_ context.Context, now time.Time) ([]models.Signal, error) {
	s.mu.RLock()
	var out []models.Signal
	for _, sig := range s.signals {
		if !sig.Commitment.Committed() && !sig.Expired(now) {
			out = append(out, sig)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveMarket(_ context.Context, m models.Market) error {
	s.mu.Lock()
	s.markets[m.ID] = m
	s.mu.Unlock()
	return nil
}

func (s *Store) BulkUpsertMarkets(ctx context.Context, markets []models.Market) error {
	for _, m := range markets {
		if err := s.SaveMarket(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListMarkets(_ context.Context, limit int) ([]models.Market, error) {
	s.mu.RLock()
	out := make([]models.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Liquidity > out[j].Liquidity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkArticleSeen(_ context.Context, key, source string) error {
	s.mu.Lock()
	s.articles[key] = source
	s.mu.Unlock()
	return nil
}

func (s *Store) HasSeenArticle(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.articles[key]
	s.mu.RUnlock()
	return ok, nil
}

func sortNewestFirst(sigs []models.Signal) {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].CreatedAt.After(sigs[j].CreatedAt) })
}

var _ ports.Store = (*Store)(nil)

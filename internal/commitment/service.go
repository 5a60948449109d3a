// Package commitment anchors signals on a public ledger with a two-phase
// commit/reveal protocol.
package commitment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
)

var (
	ErrDisabled        = errors.New("commitment: disabled")
	ErrNotCommitted    = errors.New("commitment: signal has not been committed")
	ErrAlreadyRevealed = errors.New("commitment: signal already revealed")
	ErrHashMismatch    = errors.New("commitment: stored signal no longer matches its commit hash")
	ErrInFlight        = errors.New("commitment: commit already in progress")
)

// Config controls the service.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	Tag     string        `yaml:"tag"`
	Timeout time.Duration `yaml:"timeout"`
}

// MarketLookup returns the current market snapshot, used to record the price
// at commit time.
type MarketLookup interface {
	FetchMarketByID(ctx context.Context, id string) (models.Market, error)
}

// Service commits, reveals and verifies signals.
type Service struct {
	cfg     Config
	ledger  ports.Ledger
	store   ports.SignalStore
	markets MarketLookup
	now     func() time.Time

	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds a Service. markets may be nil, in which case the signal's own
// market price is recorded as the price at commit.
func New(cfg Config, ledger ports.Ledger, store ports.SignalStore, markets MarketLookup) *Service {
	if cfg.Tag == "" {
		cfg.Tag = DefaultTag
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &Service{
		cfg:      cfg,
		ledger:   ledger,
		store:    store,
		markets:  markets,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Enabled reports whether commits are written.
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.ledger != nil
}

// Commit writes the commit memo for sig and records it in the store.
func (s *Service) Commit(ctx context.Context, sig models.Signal) (models.Commitment, error) {
	if !s.Enabled() {
		return models.Commitment{}, ErrDisabled
	}
	if sig.Commitment.Committed() {
		return sig.Commitment, nil
	}
	if !s.claim(sig.ID) {
		return models.Commitment{}, ErrInFlight
	}
	defer s.release(sig.ID)
	if cur, err := s.store.GetSignal(ctx, sig.ID); err == nil && cur.Commitment.Committed() {
		return cur.Commitment, nil
	}

	hash, err := Hash(NewPayload(sig))
	if err != nil {
		return models.Commitment{}, err
	}
	memo := Memo{Tag: s.cfg.Tag, Kind: KindCommit, SignalID: sig.ID, Body: hash}.String()
	receipt, err := s.ledger.SubmitMemo(ctx, memo)
	if err != nil {
		return models.Commitment{}, fmt.Errorf("commitment: submit commit %s: %w", sig.ID, err)
	}

	c := models.Commitment{
		CommitTxID:    receipt.TxID,
		CommitHash:    hash,
		CommitBlock:   receipt.Block,
		PriceAtCommit: s.priceAtCommit(ctx, sig),
		CommittedAt:   s.now().UTC(),
	}
	if err := s.store.UpdateSignalCommitment(ctx, sig.ID, c); err != nil {
		return c, fmt.Errorf("commitment: record commit %s (tx %s): %w", sig.ID, receipt.TxID, err)
	}
	logging.With("commitment").WithFields(logging.Fields{
		"signal": sig.ID,
		"tx":     receipt.TxID,
		"block":  receipt.Block,
	}).Info("signal committed")
	return c, nil
}

func (s *Service) priceAtCommit(ctx context.Context, sig models.Signal) float64 {
	if s.markets == nil {
		return sig.MarketPrice
	}
	m, err := s.markets.FetchMarketByID(ctx, sig.MarketID)
	if err != nil {
		logging.With("commitment").WithField("market", sig.MarketID).Warnf("price at commit unavailable: %v", err)
		return sig.MarketPrice
	}
	return m.Probability
}

// CommitAsync commits sig in the background. Failures are logged; the
// signal stays uncommitted and the next recovery sweep retries it.
func (s *Service) CommitAsync(sig models.Signal) {
	if !s.Enabled() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if _, err := s.Commit(ctx, sig); err != nil && !errors.Is(err, ErrInFlight) {
			logging.With("commitment").WithField("signal", sig.ID).Errorf("async commit failed: %v", err)
		}
	}()
}

// Wait blocks until every CommitAsync goroutine has finished. Call it only
// during shutdown.
func (s *Service) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

// Reveal publishes the full payload of a committed signal. It returns
// ErrInFlight while a commit or another reveal of the same signal runs.
func (s *Service) Reveal(ctx context.Context, signalID string) (models.Commitment, error) {
	if !s.Enabled() {
		return models.Commitment{}, ErrDisabled
	}
	if !s.claim(signalID) {
		return models.Commitment{}, ErrInFlight
	}
	defer s.release(signalID)
	sig, err := s.store.GetSignal(ctx, signalID)
	if err != nil {
		return models.Commitment{}, fmt.Errorf("commitment: load %s: %w", signalID, err)
	}
	if !sig.Commitment.Committed() {
		return sig.Commitment, ErrNotCommitted
	}
	if sig.Commitment.Revealed() {
		return sig.Commitment, ErrAlreadyRevealed
	}

	payload := NewPayload(sig)
	if !Verify(payload, sig.Commitment.CommitHash) {
		return sig.Commitment, ErrHashMismatch
	}
	body, err := payload.Canonical()
	if err != nil {
		return sig.Commitment, err
	}
	memo := Memo{Tag: s.cfg.Tag, Kind: KindReveal, SignalID: sig.ID, Body: string(body)}.String()
	receipt, err := s.ledger.SubmitMemo(ctx, memo)
	if err != nil {
		return sig.Commitment, fmt.Errorf("commitment: submit reveal %s: %w", sig.ID, err)
	}

	revealedAt := s.now().UTC()
	if err := s.store.UpdateSignalReveal(ctx, sig.ID, receipt.TxID, revealedAt); err != nil {
		return sig.Commitment, fmt.Errorf("commitment: record reveal %s (tx %s): %w", sig.ID, receipt.TxID, err)
	}
	c := sig.Commitment
	c.RevealTxID = receipt.TxID
	c.RevealedAt = revealedAt
	logging.With("commitment").WithFields(logging.Fields{"signal": sig.ID, "tx": receipt.TxID}).Info("signal revealed")
	return c, nil
}

// Verification is the outcome of checking a signal against the ledger.
type Verification struct {
	SignalID      string    `json:"signal_id"`
	CommitHash    string    `json:"commit_hash"`
	CommitBlock   uint64    `json:"commit_block"`
	CommitTime    time.Time `json:"commit_time"`
	CommitMatches bool      `json:"commit_matches"`
	Revealed      bool      `json:"revealed"`
	RevealMatches bool      `json:"reveal_matches"`
	Payload       *Payload  `json:"payload,omitempty"`
}

// VerifyOnLedger reads the commit (and reveal, if any) memos back from the
// ledger and checks them against each other and against the stored signal.
func (s *Service) VerifyOnLedger(ctx context.Context, signalID string) (Verification, error) {
	if s == nil || s.ledger == nil {
		return Verification{}, ErrDisabled
	}
	sig, err := s.store.GetSignal(ctx, signalID)
	if err != nil {
		return Verification{}, fmt.Errorf("commitment: load %s: %w", signalID, err)
	}
	if !sig.Commitment.Committed() {
		return Verification{SignalID: signalID}, ErrNotCommitted
	}

	v := Verification{SignalID: signalID}
	commitTx, err := s.ledger.GetTransaction(ctx, sig.Commitment.CommitTxID)
	if err != nil {
		return v, fmt.Errorf("commitment: fetch commit tx: %w", err)
	}
	commitMemo, err := ParseMemo(commitTx.Memo)
	if err != nil {
		return v, err
	}
	v.CommitHash = commitMemo.Body
	v.CommitBlock = commitTx.Block
	v.CommitTime = commitTx.Timestamp
	v.CommitMatches = commitMemo.Kind == KindCommit &&
		commitMemo.SignalID == signalID &&
		commitMemo.Body == sig.Commitment.CommitHash &&
		Verify(NewPayload(sig), commitMemo.Body)

	if !sig.Commitment.Revealed() {
		return v, nil
	}
	v.Revealed = true
	revealTx, err := s.ledger.GetTransaction(ctx, sig.Commitment.RevealTxID)
	if err != nil {
		return v, fmt.Errorf("commitment: fetch reveal tx: %w", err)
	}
	revealMemo, err := ParseMemo(revealTx.Memo)
	if err != nil {
		return v, err
	}
	payload, err := DecodePayload(revealMemo.Body)
	if err != nil {
		return v, err
	}
	v.Payload = &payload
	v.RevealMatches = revealMemo.Kind == KindReveal &&
		revealMemo.SignalID == signalID &&
		payload.SignalID == signalID &&
		Verify(payload, commitMemo.Body)
	return v, nil
}

// RecoveryReport summarizes a recovery sweep.
type RecoveryReport struct {
	Pending   int
	Committed int
	Failed    int
}

// Recover commits every unexpired signal that has no commitment yet. A
// failure on one signal does not stop the sweep.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	if !s.Enabled() {
		return rep, nil
	}
	pending, err := s.store.GetUncommittedSignals(ctx, s.now())
	if err != nil {
		return rep, fmt.Errorf("commitment: list uncommitted: %w", err)
	}
	rep.Pending = len(pending)
	log := logging.With("commitment")
	for _, sig := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		_, err := s.Commit(callCtx, sig)
		cancel()
		if err != nil {
			rep.Failed++
			log.WithField("signal", sig.ID).Errorf("recovery commit failed: %v", err)
			continue
		}
		rep.Committed++
	}
	if rep.Pending > 0 {
		log.WithFields(logging.Fields{"pending": rep.Pending, "committed": rep.Committed, "failed": rep.Failed}).Info("recovery sweep finished")
	}
	return rep, nil
}

func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

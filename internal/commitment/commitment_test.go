package commitment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/ledger"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/storage/memory"
)

func exampleSignal() models.Signal {
	return models.Signal{
		ID:             "abc-123",
		MarketID:       "m-1",
		Question:       "Will the Fed cut rates in March?",
		Direction:      models.DirectionYes,
		DarwinEstimate: 0.7234,
		MarketPrice:    0.55,
		EVNet:          0.1734,
		CreatedAt:      time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC),
		ExpiresAt:      time.Now().Add(30 * 24 * time.Hour),
	}
}

func TestHashAndVerify(t *testing.T) {
	p := NewPayload(exampleSignal())
	h, err := Hash(p)
	require.NoError(t, err)
	assert.Len(t, h, 64)
	assert.Equal(t, strings.ToLower(h), h)
	assert.True(t, Verify(p, h))

	tampered := p
	tampered.DarwinEstimate = 0.8
	assert.False(t, Verify(tampered, h))
}

func TestHashDeterministic(t *testing.T) {
	a, err := Hash(NewPayload(exampleSignal()))
	require.NoError(t, err)
	b, err := Hash(NewPayload(exampleSignal()))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPayloadRoundingAndLayout(t *testing.T) {
	sig := exampleSignal()
	sig.DarwinEstimate = 0.12345
	sig.MarketPrice = 0.55000001
	p := NewPayload(sig)
	assert.Equal(t, 0.1235, p.DarwinEstimate)
	assert.Equal(t, 0.55, p.MarketPrice)

	b, err := p.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"signalId":"abc-123","marketId":"m-1","marketQuestion":"Will the Fed cut rates in March?","direction":"yes","darwinEstimate":0.1235,"marketPrice":0.55,"ev":0.1734,"createdAt":"2025-02-01T10:30:00.000Z"}`,
		string(b))

	back, err := DecodePayload(string(b))
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestParseMemo(t *testing.T) {
	m, err := ParseMemo(`DARWIN:REVEAL:abc-123:{"a":"b:c"}`)
	require.NoError(t, err)
	assert.Equal(t, KindReveal, m.Kind)
	assert.Equal(t, "abc-123", m.SignalID)
	assert.Equal(t, `{"a":"b:c"}`, m.Body)

	_, err = ParseMemo("DARWIN:COMMIT:abc")
	assert.Error(t, err)
	_, err = ParseMemo("DARWIN:OTHER:abc:x")
	assert.Error(t, err)
}

func newService(t *testing.T) (*Service, *ledger.Memory, *memory.Store) {
	t.Helper()
	l := ledger.NewMemory()
	st := memory.New()
	return New(Config{Enabled: true}, l, st, nil), l, st
}

func TestCommitRevealVerify(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()
	sig := exampleSignal()
	require.NoError(t, st.SaveSignal(ctx, sig))

	c, err := svc.Commit(ctx, sig)
	require.NoError(t, err)
	assert.Len(t, c.CommitHash, 64)
	assert.Equal(t, 0.55, c.PriceAtCommit)
	assert.Equal(t, "DARWIN:COMMIT:abc-123:"+c.CommitHash, l.Memos()[0])

	stored, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, c.CommitTxID, stored.Commitment.CommitTxID)

	_, err = svc.Reveal(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(l.Memos()[1], "DARWIN:REVEAL:abc-123:{"))

	_, err = svc.Reveal(ctx, sig.ID)
	assert.ErrorIs(t, err, ErrAlreadyRevealed)

	v, err := svc.VerifyOnLedger(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, v.CommitMatches)
	assert.True(t, v.Revealed)
	assert.True(t, v.RevealMatches)
	require.NotNil(t, v.Payload)
	assert.Equal(t, 0.7234, v.Payload.DarwinEstimate)
}

func TestRevealBeforeCommitRejected(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSignal(ctx, exampleSignal()))

	_, err := svc.Reveal(ctx, "abc-123")
	assert.ErrorIs(t, err, ErrNotCommitted)
	assert.Empty(t, l.Memos())
}

func TestRevealDetectsTamperedRecord(t *testing.T) {
	svc, _, st := newService(t)
	ctx := context.Background()
	sig := exampleSignal()
	require.NoError(t, st.SaveSignal(ctx, sig))
	_, err := svc.Commit(ctx, sig)
	require.NoError(t, err)

	stored, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	stored.DarwinEstimate = 0.99
	require.NoError(t, st.SaveSignal(ctx, stored))

	_, err = svc.Reveal(ctx, sig.ID)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestCommitIsIdempotent(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()
	sig := exampleSignal()
	require.NoError(t, st.SaveSignal(ctx, sig))

	first, err := svc.Commit(ctx, sig)
	require.NoError(t, err)
	second, err := svc.Commit(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, first.CommitTxID, second.CommitTxID)
	assert.Len(t, l.Memos(), 1)
}

func TestCommitAsyncAndWait(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()
	sig := exampleSignal()
	require.NoError(t, st.SaveSignal(ctx, sig))

	svc.CommitAsync(sig)
	svc.Wait()

	assert.Len(t, l.Memos(), 1)
	stored, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, stored.Commitment.Committed())
}

func TestDisabledServiceDoesNothing(t *testing.T) {
	l := ledger.NewMemory()
	st := memory.New()
	svc := New(Config{Enabled: false}, l, st, nil)

	svc.CommitAsync(exampleSignal())
	svc.Wait()
	_, err := svc.Commit(context.Background(), exampleSignal())
	assert.ErrorIs(t, err, ErrDisabled)
	rep, err := svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Pending)
	assert.Empty(t, l.Memos())
}

func TestRecoverContinuesPastFailures(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()

	a := exampleSignal()
	a.ID = "a"
	b := exampleSignal()
	b.ID = "b"
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	expired := exampleSignal()
	expired.ID = "old"
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	for _, s := range []models.Signal{a, b, expired} {
		require.NoError(t, st.SaveSignal(ctx, s))
	}

	l.FailWith(errors.New("rpc down"))
	rep, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Pending: 2, Failed: 2}, rep)

	l.FailWith(nil)
	rep, err = svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Pending: 2, Committed: 2}, rep)

	rep, err = svc.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pending)
}

type fixedMarket struct{ price float64 }

func (f fixedMarket) FetchMarketByID(_ context.Context, id string) (models.Market, error) {
	return models.Market{ID: id, Probability: f.price}, nil
}

func TestPriceAtCommitUsesLiveMarket(t *testing.T) {
	l := ledger.NewMemory()
	st := memory.New()
	svc := New(Config{Enabled: true}, l, st, fixedMarket{price: 0.61})
	sig := exampleSignal()
	require.NoError(t, st.SaveSignal(context.Background(), sig))

	c, err := svc.Commit(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, 0.61, c.PriceAtCommit)
}

func TestRevealWhileCommitInFlight(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSignal(ctx, exampleSignal()))

	require.True(t, svc.claim("abc-123"))
	_, err := svc.Reveal(ctx, "abc-123")
	assert.ErrorIs(t, err, ErrInFlight)
	svc.release("abc-123")
	assert.Empty(t, l.Memos())
}

func TestConcurrentRevealsPublishOnce(t *testing.T) {
	svc, l, st := newService(t)
	ctx := context.Background()
	sig := exampleSignal()
	require.NoError(t, st.SaveSignal(ctx, sig))
	_, err := svc.Commit(ctx, sig)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reveal(ctx, sig.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrInFlight) || errors.Is(err, ErrAlreadyRevealed), err)
	}
	reveals := 0
	for _, m := range l.Memos() {
		if strings.HasPrefix(m, "DARWIN:REVEAL:") {
			reveals++
		}
	}
	assert.Equal(t, 1, reveals)
}

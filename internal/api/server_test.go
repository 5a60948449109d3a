package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/commitment"
	"github.com/hetulpatel/darwin/internal/ledger"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/orchestrator"
	"github.com/hetulpatel/darwin/internal/ports"
	"github.com/hetulpatel/darwin/internal/storage/memory"
)

type stubScheduler struct {
	queued []string
}

func (s *stubScheduler) Status() orchestrator.Status {
	return orchestrator.Status{Running: true, QueueSize: len(s.queued), Workers: 3}
}

func (s *stubScheduler) EnqueueManual(_ context.Context, id string) (orchestrator.Entry, error) {
	if id != "known" {
		return orchestrator.Entry{}, fmt.Errorf("fetch market %s: %w", id, ports.ErrNotFound)
	}
	s.queued = append(s.queued, id)
	return orchestrator.Entry{Market: models.Market{ID: id}, Priority: 4, Reason: models.ReasonManual}, nil
}

type fixture struct {
	store   *memory.Store
	commits *commitment.Service
	sched   *stubScheduler
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	for i, m := range []string{"m1", "m1", "m2"} {
		require.NoError(t, store.SaveSignal(ctx, models.Signal{
			ID:          fmt.Sprintf("s%d", i+1),
			MarketID:    m,
			Question:    "Will it happen?",
			Direction:   models.DirectionYes,
			MarketPrice: 0.4,
			Tradeable:   i != 1,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
			ExpiresAt:   now.Add(24 * time.Hour),
		}))
	}
	require.NoError(t, store.SaveMarket(ctx, models.Market{ID: "m1", Question: "Will it happen?", Liquidity: 5000}))

	commits := commitment.New(commitment.Config{Enabled: true}, ledger.NewMemory(), store, nil)
	sched := &stubScheduler{}
	return &fixture{store: store, commits: commits, sched: sched, handler: New(store, sched, commits).Router()}
}

func (f *fixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = f.do(t, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["running"])

	noSched := New(f.store, nil, nil).Router()
	rec2 := httptest.NewRecorder()
	noSched.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}

func TestSignalsEndpoints(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/signals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["count"])

	_, body = f.do(t, http.MethodGet, "/api/signals?market_id=m1")
	assert.EqualValues(t, 2, body["count"])

	_, body = f.do(t, http.MethodGet, "/api/signals?tradeable=true&limit=10")
	assert.EqualValues(t, 2, body["count"])

	rec, _ = f.do(t, http.MethodGet, "/api/signals?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/signals/s1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", body["market_id"])

	rec, _ = f.do(t, http.MethodGet, "/api/signals/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/markets")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestRevealAndVerify(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodPost, "/api/signals/s1/reveal")
	assert.Equal(t, http.StatusConflict, rec.Code, "not committed yet")

	sig, err := f.store.GetSignal(context.Background(), "s1")
	require.NoError(t, err)
	_, err = f.commits.Commit(context.Background(), sig)
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodPost, "/api/signals/s1/reveal")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["reveal_tx_id"])

	rec, _ = f.do(t, http.MethodPost, "/api/signals/s1/reveal")
	assert.Equal(t, http.StatusConflict, rec.Code, "already revealed")

	rec, body = f.do(t, http.MethodGet, "/api/signals/s1/verify")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["commit_matches"])
	assert.Equal(t, true, body["reveal_matches"])

	rec, _ = f.do(t, http.MethodGet, "/api/signals/missing/verify")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost, "/api/markets/known/analyze")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "manual", body["reason"])
	assert.Equal(t, []string{"known"}, f.sched.queued)

	rec, _ = f.do(t, http.MethodPost, "/api/markets/unknown/analyze")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

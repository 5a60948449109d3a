package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/storage/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubNews struct {
	items []models.NewsItem
	err   error
}

func (s stubNews) Search(context.Context, string, int) ([]models.NewsItem, error) {
	return s.items, s.err
}

type stubEstimator struct {
	est   models.Estimate
	err   error
	calls int
}

func (s *stubEstimator) Estimate(context.Context, string, []models.NewsItem, time.Time) (models.Estimate, error) {
	s.calls++
	return s.est, s.err
}

type recordingCommitter struct {
	mu   sync.Mutex
	sigs []models.Signal
}

func (c *recordingCommitter) CommitAsync(sig models.Signal) {
	c.mu.Lock()
	c.sigs = append(c.sigs, sig)
	c.mu.Unlock()
}

type failingSink struct{ calls int }

func (s *failingSink) PublishSignal(context.Context, models.Signal) error {
	s.calls++
	return errors.New("broker down")
}

func market() models.Market {
	return models.Market{
		ID:          "m1",
		Question:    "Will the Federal Reserve cut rates in March?",
		Probability: 0.45,
		Liquidity:   100000,
		EndDate:     fixedNow.Add(30 * 24 * time.Hour),
	}
}

func estimate(p float64) models.Estimate {
	return models.Estimate{
		Probability: p,
		Reasoning:   "labor data softened",
		Confidence:  models.ConfidenceMedium,
		KeyFactors:  []string{"payrolls", "cpi"},
	}
}

func newTestPipeline(news stubNews, est *stubEstimator, committer Committer, sink SignalSink) (*Pipeline, *memory.Store) {
	store := memory.New()
	p := New(DefaultConfig(), news, est, store, committer, sink)
	p.now = func() time.Time { return fixedNow }
	p.newID = func() string { return "sig-1" }
	return p, store
}

func nodes(audit []AuditEntry) []Node {
	out := make([]Node, len(audit))
	for i, a := range audit {
		out[i] = a.Node
	}
	return out
}

func TestRunNoNewsShortCircuits(t *testing.T) {
	est := &stubEstimator{est: estimate(0.75)}
	p, store := newTestPipeline(stubNews{}, est, nil, nil)

	res := p.Run(context.Background(), market())
	assert.Equal(t, OutcomeNoNews, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Reasoning, "no news:"), res.Reasoning)
	assert.Equal(t, []Node{NodeFetchNews}, nodes(res.Audit))
	assert.Nil(t, res.Signal)
	assert.Nil(t, res.Estimate)
	assert.Zero(t, est.calls)

	sigs, err := store.ListSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestRunInsignificantDivergence(t *testing.T) {
	est := &stubEstimator{est: estimate(0.46)}
	committer := &recordingCommitter{}
	p, _ := newTestPipeline(stubNews{items: []models.NewsItem{{Title: "Fed holds"}}}, est, committer, nil)

	res := p.Run(context.Background(), market())
	assert.Equal(t, OutcomeNoSignal, res.Outcome)
	assert.Equal(t, []Node{NodeFetchNews, NodeEstimate, NodeDivergence}, nodes(res.Audit))
	assert.NotContains(t, nodes(res.Audit), NodeGenerate)
	require.NotNil(t, res.Divergence)
	assert.False(t, res.Divergence.Tradeable)
	assert.Nil(t, res.Signal)
	assert.Empty(t, committer.sigs)
}

func TestRunGeneratesSignal(t *testing.T) {
	est := &stubEstimator{est: estimate(0.75)}
	committer := &recordingCommitter{}
	sink := &failingSink{}
	news := stubNews{items: []models.NewsItem{{Title: "Fed officials signal cut"}, {Title: "  "}, {Title: "Markets price in March cut"}}}
	p, store := newTestPipeline(news, est, committer, sink)

	res := p.Run(context.Background(), market())
	require.Equal(t, OutcomeSignal, res.Outcome, res.Reasoning)
	assert.Equal(t, []Node{NodeFetchNews, NodeEstimate, NodeDivergence, NodeGenerate}, nodes(res.Audit))
	require.NotNil(t, res.Signal)

	sig := *res.Signal
	assert.Equal(t, "sig-1", sig.ID)
	assert.Equal(t, models.DirectionYes, sig.Direction)
	assert.True(t, sig.Tradeable)
	assert.Greater(t, sig.EVNet, 0.0)
	assert.Greater(t, sig.DarwinEstimate, sig.MarketPrice)
	assert.Equal(t, []string{"Fed officials signal cut", "Markets price in March cut"}, sig.Headlines)
	assert.Equal(t, market().EndDate, sig.ExpiresAt)
	assert.Equal(t, "labor data softened", sig.Reasoning)

	stored, err := store.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", stored.MarketID)
	require.Len(t, committer.sigs, 1)
	assert.Equal(t, "sig-1", committer.sigs[0].ID)
	assert.Equal(t, 1, sink.calls, "publish failure does not fail the run")
}

func TestRunEstimatorError(t *testing.T) {
	est := &stubEstimator{err: errors.New("rate limited")}
	p, _ := newTestPipeline(stubNews{items: []models.NewsItem{{Title: "x"}}}, est, nil, nil)

	res := p.Run(context.Background(), market())
	assert.Equal(t, OutcomeError, res.Outcome)
	require.Len(t, res.Audit, 2)
	assert.Equal(t, "rate limited", res.Audit[1].Error)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Reasoning, string(NodeEstimate))
}

func TestRunRejectsInvalidEstimate(t *testing.T) {
	bad := estimate(1.5)
	est := &stubEstimator{est: bad}
	p, _ := newTestPipeline(stubNews{items: []models.NewsItem{{Title: "x"}}}, est, nil, nil)

	res := p.Run(context.Background(), market())
	assert.Equal(t, OutcomeError, res.Outcome)
	var verr *models.ValidationError
	assert.ErrorAs(t, res.Err, &verr)
}

func TestRunNewsError(t *testing.T) {
	p, _ := newTestPipeline(stubNews{err: errors.New("timeout")}, &stubEstimator{}, nil, nil)
	res := p.Run(context.Background(), market())
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, []Node{NodeFetchNews}, nodes(res.Audit))
}

func TestTransitionTableIsLinear(t *testing.T) {
	seen := map[Node]bool{}
	node := NodeFetchNews
	for node != NodeDone {
		require.False(t, seen[node], "cycle at %s", node)
		seen[node] = true
		node = transitions[node]
	}
	assert.Len(t, seen, 4)
}

func TestSignalExpiresWithMarket(t *testing.T) {
	news := stubNews{items: []models.NewsItem{{Title: "Fed officials signal cut"}}}
	p, store := newTestPipeline(news, &stubEstimator{est: estimate(0.75)}, nil, nil)
	m := market()

	res := p.Run(context.Background(), m)
	require.Equal(t, OutcomeSignal, res.Outcome, res.Reasoning)
	require.Equal(t, m.EndDate, res.Signal.ExpiresAt)

	ctx := context.Background()
	n, err := store.PruneExpired(ctx, fixedNow.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "signal outlives the old 24h window")
	_, err = store.GetSignal(ctx, res.Signal.ID)
	require.NoError(t, err)

	n, err = store.PruneExpired(ctx, m.EndDate.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSignalWithoutEndDateUsesTTL(t *testing.T) {
	news := stubNews{items: []models.NewsItem{{Title: "Fed officials signal cut"}}}
	cfg := DefaultConfig()
	// With no end date the time feature would cancel the news shift.
	cfg.EV.WeightTime = 0
	p := New(cfg, news, &stubEstimator{est: estimate(0.75)}, memory.New(), nil, nil)
	p.now = func() time.Time { return fixedNow }
	m := market()
	m.EndDate = time.Time{}

	res := p.Run(context.Background(), m)
	require.Equal(t, OutcomeSignal, res.Outcome, res.Reasoning)
	assert.Equal(t, fixedNow.Add(DefaultConfig().SignalTTL), res.Signal.ExpiresAt)
}

func TestHeadlinesCappedAtDefault(t *testing.T) {
	items := []models.NewsItem{{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: "d"}}
	assert.Equal(t, []string{"a", "b", "c"}, headlines(items, DefaultConfig().Headlines))
}

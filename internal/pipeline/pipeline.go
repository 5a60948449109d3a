// Package pipeline runs one market through news lookup, probability
// estimation and divergence scoring, and emits a signal when the edge
// survives costs.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/ev"
	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/ports"
)

// Node is a pipeline state.
type Node string

const (
	NodeFetchNews  Node = "fetch_news"
	NodeEstimate   Node = "estimate_probability"
	NodeDivergence Node = "compute_divergence"
	NodeGenerate   Node = "generate_signal"
	NodeDone       Node = "done"
)

// transitions is the forward edge out of each node. A node that short
// circuits jumps straight to NodeDone.
var transitions = map[Node]Node{
	NodeFetchNews:  NodeEstimate,
	NodeEstimate:   NodeDivergence,
	NodeDivergence: NodeGenerate,
	NodeGenerate:   NodeDone,
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeSignal   Outcome = "signal"
	OutcomeNoNews   Outcome = "no_news"
	OutcomeNoSignal Outcome = "no_signal"
	OutcomeError    Outcome = "error"
)

// AuditEntry records one node execution.
type AuditEntry struct {
	Node   Node        `json:"node"`
	Input  interface{} `json:"input,omitempty"`
	Output interface{} `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
	At     time.Time   `json:"at"`
}

// Result is the outcome of one run.
type Result struct {
	Signal     *models.Signal           `json:"signal,omitempty"`
	Reasoning  string                   `json:"reasoning"`
	Outcome    Outcome                  `json:"outcome"`
	Audit      []AuditEntry             `json:"audit"`
	Estimate   *models.Estimate         `json:"estimate,omitempty"`
	Divergence *models.DivergenceResult `json:"divergence,omitempty"`
	Err        error                    `json:"-"`
}

// Committer anchors a new signal. commitment.Service satisfies it.
type Committer interface {
	CommitAsync(sig models.Signal)
}

// SignalSink receives new signals for downstream consumers.
type SignalSink interface {
	PublishSignal(ctx context.Context, sig models.Signal) error
}

// Config tunes a Pipeline.
type Config struct {
	MaxNews   int           `yaml:"max_news"`
	MinNetEV  float64       `yaml:"min_net_ev"`
	// SignalTTL is the expiry used only for markets without an end date.
	SignalTTL time.Duration `yaml:"signal_ttl"`
	Headlines int           `yaml:"headlines"`
	EV        ev.Config     `yaml:"ev"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		MaxNews:   10,
		MinNetEV:  0.03,
		SignalTTL: 24 * time.Hour,
		Headlines: 3,
		EV:        ev.DefaultConfig(),
	}
}

// Pipeline is safe for concurrent Run calls.
type Pipeline struct {
	cfg       Config
	news      ports.NewsSource
	estimator ports.Estimator
	store     ports.SignalStore
	committer Committer
	sink      SignalSink
	log       *logrus.Entry

	now   func() time.Time
	newID func() string
}

// New builds a Pipeline. committer and sink may be nil.
func New(cfg Config, news ports.NewsSource, estimator ports.Estimator, store ports.SignalStore, committer Committer, sink SignalSink) *Pipeline {
	def := DefaultConfig()
	if cfg.MaxNews <= 0 {
		cfg.MaxNews = def.MaxNews
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = def.SignalTTL
	}
	if cfg.Headlines <= 0 {
		cfg.Headlines = def.Headlines
	}
	if cfg.EV == (ev.Config{}) {
		cfg.EV = def.EV
	}
	return &Pipeline{
		cfg:       cfg,
		news:      news,
		estimator: estimator,
		store:     store,
		committer: committer,
		sink:      sink,
		log:       logging.With("pipeline"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// run carries the state threaded through the nodes of one execution.
type run struct {
	market     models.Market
	now        time.Time
	news       []models.NewsItem
	estimate   *models.Estimate
	divergence *models.DivergenceResult
	signal     *models.Signal
	outcome    Outcome
	reasoning  string
}

// step executes one node. It returns the audit input and output, whether
// to follow the forward transition, and an error that ends the run.
type step func(ctx context.Context, r *run) (in, out interface{}, proceed bool, err error)

func (p *Pipeline) steps() map[Node]step {
	return map[Node]step{
		NodeFetchNews:  p.fetchNews,
		NodeEstimate:   p.estimateProbability,
		NodeDivergence: p.computeDivergence,
		NodeGenerate:   p.generateSignal,
	}
}

// Run executes the graph for market m, starting at NodeFetchNews.
func (p *Pipeline) Run(ctx context.Context, m models.Market) Result {
	r := &run{market: m, now: p.now().UTC()}
	var (
		audit []AuditEntry
		err   error
	)
	steps := p.steps()
	node := NodeFetchNews
	for node != NodeDone {
		fn, ok := steps[node]
		if !ok {
			err = fmt.Errorf("pipeline: no step for node %q", node)
			break
		}
		in, out, proceed, stepErr := fn(ctx, r)
		entry := AuditEntry{Node: node, Input: in, Output: out, At: p.now().UTC()}
		if stepErr != nil {
			entry.Error = stepErr.Error()
		}
		audit = append(audit, entry)
		if stepErr != nil {
			err = fmt.Errorf("%s: %w", node, stepErr)
			break
		}
		if !proceed {
			break
		}
		node = transitions[node]
	}

	res := Result{Audit: audit, Signal: r.signal, Estimate: r.estimate, Divergence: r.divergence}
	switch {
	case err != nil:
		res.Outcome = OutcomeError
		res.Reasoning = "error: " + err.Error()
		res.Err = err
	case r.outcome != "":
		res.Outcome = r.outcome
		res.Reasoning = r.reasoning
	default:
		res.Outcome = OutcomeError
		res.Reasoning = "error: run ended without an outcome"
	}

	p.log.WithFields(logrus.Fields{
		"market_id": m.ID,
		"outcome":   res.Outcome,
		"nodes":     len(audit),
	}).Info("pipeline run finished")
	return res
}

func (p *Pipeline) fetchNews(ctx context.Context, r *run) (interface{}, interface{}, bool, error) {
	in := map[string]interface{}{"query": r.market.Question, "max_results": p.cfg.MaxNews}
	items, err := p.news.Search(ctx, r.market.Question, p.cfg.MaxNews)
	if err != nil {
		return in, nil, false, err
	}
	r.news = items
	out := map[string]interface{}{"articles": len(items), "headlines": headlines(items, p.cfg.Headlines)}
	if len(items) == 0 {
		r.outcome = OutcomeNoNews
		r.reasoning = "no news: no recent articles found for " + quote(r.market.Question)
		return in, out, false, nil
	}
	return in, out, true, nil
}

func (p *Pipeline) estimateProbability(ctx context.Context, r *run) (interface{}, interface{}, bool, error) {
	in := map[string]interface{}{"question": r.market.Question, "articles": len(r.news), "end_date": r.market.EndDate}
	est, err := p.estimator.Estimate(ctx, r.market.Question, r.news, r.market.EndDate)
	if err != nil {
		return in, nil, false, err
	}
	if err := est.Validate(); err != nil {
		return in, nil, false, err
	}
	r.estimate = &est
	return in, est, true, nil
}

func (p *Pipeline) computeDivergence(_ context.Context, r *run) (interface{}, interface{}, bool, error) {
	input := ev.Input{
		Estimate:    r.estimate.Probability,
		MarketPrice: r.market.Probability,
		EndDate:     r.market.EndDate,
		Liquidity:   r.market.Liquidity,
		Now:         r.now,
	}
	d := ev.Evaluate(input, p.cfg.EV)
	r.divergence = &d
	if !ev.Significant(d, p.cfg.MinNetEV) {
		r.outcome = OutcomeNoSignal
		r.reasoning = fmt.Sprintf("no signal: net EV %.4f (lower bound %.4f) below threshold %.4f or not tradeable",
			d.EVNet, d.EVNetLowerBound, p.cfg.MinNetEV)
		return input, d, false, nil
	}
	return input, d, true, nil
}

func (p *Pipeline) generateSignal(ctx context.Context, r *run) (interface{}, interface{}, bool, error) {
	d := *r.divergence
	sig := models.Signal{
		ID:              p.newID(),
		MarketID:        r.market.ID,
		Question:        r.market.Question,
		DarwinEstimate:  d.PHat,
		LowerBound:      d.PHatLowerBound,
		MarketPrice:     r.market.Probability,
		EVNet:           d.EVNet,
		EVNetLowerBound: d.EVNetLowerBound,
		Direction:       d.Direction,
		Reasoning:       r.estimate.Reasoning,
		Headlines:       headlines(r.news, p.cfg.Headlines),
		Confidence:      d.Confidence,
		Costs:           d.Costs,
		Tradeable:       d.Tradeable,
		CreatedAt:       r.now,
		ExpiresAt:       p.expiry(r),
	}

	// The signal exists from here on; downstream failures are only logged.
	if p.store != nil {
		if err := p.store.SaveSignal(ctx, sig); err != nil {
			p.log.WithError(err).WithField("signal_id", sig.ID).Error("save signal failed")
		}
	}
	if p.committer != nil {
		p.committer.CommitAsync(sig)
	}
	if p.sink != nil {
		if err := p.sink.PublishSignal(ctx, sig); err != nil {
			p.log.WithError(err).WithField("signal_id", sig.ID).Warn("publish signal failed")
		}
	}

	r.signal = &sig
	r.outcome = OutcomeSignal
	r.reasoning = fmt.Sprintf("signal: %s at %.4f vs market %.4f, net EV %.4f", sig.Direction, sig.DarwinEstimate, sig.MarketPrice, sig.EVNet)
	return map[string]interface{}{"market_id": r.market.ID}, sig, true, nil
}

// expiry is the market end time; a signal lives as long as its market.
func (p *Pipeline) expiry(r *run) time.Time {
	if r.market.EndDate.IsZero() {
		return r.now.Add(p.cfg.SignalTTL)
	}
	return r.market.EndDate
}

func headlines(items []models.NewsItem, max int) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if len(out) == max {
			break
		}
		if t := strings.TrimSpace(it.Title); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func quote(s string) string { return fmt.Sprintf("%q", s) }

// Package api serves the read API consumed by dashboards and operators.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/commitment"
	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/models"
	"github.com/hetulpatel/darwin/internal/orchestrator"
	"github.com/hetulpatel/darwin/internal/ports"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Scheduler is the orchestrator surface the API exposes.
type Scheduler interface {
	Status() orchestrator.Status
	EnqueueManual(ctx context.Context, marketID string) (orchestrator.Entry, error)
}

// Commitments is the commitment surface the API exposes.
type Commitments interface {
	Reveal(ctx context.Context, signalID string) (models.Commitment, error)
	VerifyOnLedger(ctx context.Context, signalID string) (commitment.Verification, error)
}

// Server holds the API dependencies.
type Server struct {
	store   ports.Store
	sched   Scheduler
	commits Commitments
	timeout time.Duration
	log     *logrus.Entry
}

// New builds a Server. sched and commits may be nil; their endpoints then
// answer 503.
func New(store ports.Store, sched Scheduler, commits Commitments) *Server {
	return &Server{
		store:   store,
		sched:   sched,
		commits: commits,
		timeout: 2 * time.Minute,
		log:     logging.With("api"),
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/markets", s.handleMarkets)
	api.POST("/markets/:id/analyze", s.handleAnalyze)
	api.GET("/signals", s.handleSignals)
	api.GET("/signals/:id", s.handleSignal)
	api.POST("/signals/:id/reveal", s.handleReveal)
	api.GET("/signals/:id/verify", s.handleVerify)
	return r
}

// Serve runs the API on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("api listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
			"took":   time.Since(start).Round(time.Microsecond),
		}).Debug("request")
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.sched == nil {
		respondError(c, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	c.JSON(http.StatusOK, s.sched.Status())
}

func (s *Server) handleMarkets(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	markets, err := s.store.ListMarkets(c.Request.Context(), limit)
	if err != nil {
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": nonNil(markets), "count": len(markets)})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	if s.sched == nil {
		respondError(c, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	entry, err := s.sched.EnqueueManual(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, entry)
	case errors.Is(err, ports.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	default:
		respondError(c, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) handleSignals(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	var (
		sigs []models.Signal
		err  error
	)
	if marketID := c.Query("market_id"); marketID != "" {
		sigs, err = s.store.GetSignalsByMarket(c.Request.Context(), marketID)
		if len(sigs) > limit {
			sigs = sigs[:limit]
		}
	} else {
		sigs, err = s.store.ListSignals(c.Request.Context(), limit)
	}
	if err != nil {
		s.internal(c, err)
		return
	}
	if c.Query("tradeable") == "true" {
		filtered := sigs[:0]
		for _, sig := range sigs {
			if sig.Tradeable {
				filtered = append(filtered, sig)
			}
		}
		sigs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"signals": nonNil(sigs), "count": len(sigs)})
}

func (s *Server) handleSignal(c *gin.Context) {
	sig, err := s.store.GetSignal(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			respondError(c, http.StatusNotFound, "signal not found")
			return
		}
		s.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) handleReveal(c *gin.Context) {
	if s.commits == nil {
		respondError(c, http.StatusServiceUnavailable, commitment.ErrDisabled.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	cm, err := s.commits.Reveal(ctx, c.Param("id"))
	if err != nil {
		s.commitmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, cm)
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.commits == nil {
		respondError(c, http.StatusServiceUnavailable, commitment.ErrDisabled.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	v, err := s.commits.VerifyOnLedger(ctx, c.Param("id"))
	if err != nil {
		s.commitmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) commitmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, commitment.ErrDisabled):
		respondError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, commitment.ErrNotCommitted),
		errors.Is(err, commitment.ErrAlreadyRevealed),
		errors.Is(err, commitment.ErrInFlight):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, commitment.ErrHashMismatch):
		respondError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.WithError(err).WithField("path", c.FullPath()).Error("ledger call failed")
		respondError(c, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) internal(c *gin.Context, err error) {
	s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	respondError(c, http.StatusInternalServerError, "internal error")
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(c, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}

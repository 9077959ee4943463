// Package api serves the operational endpoints: health, Prometheus metrics
// and the run audit trail.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/store"
)

// DefaultStaleAfter is how old the last run may get before /health reports
// degraded. Two hourly cycles plus the retry window.
const DefaultStaleAfter = 2*time.Hour + 10*time.Minute

// RunSource is the slice of the audit store the server reads.
type RunSource interface {
	Ping(ctx context.Context) error
	GetRawPayloadStats(ctx context.Context) (*store.RawPayloadStats, error)
	LastRun(ctx context.Context) (*store.RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
	GetRunHealth(ctx context.Context, days int) ([]store.RunHealthSummary, error)
}

// Schedule reports when the next run fires.
type Schedule interface {
	Next() time.Time
}

type Server struct {
	runs       RunSource
	addr       string
	log        *zap.Logger
	schedule   Schedule
	staleAfter time.Duration
	now        func() time.Time
}

func NewServer(runs RunSource, addr string, log *zap.Logger) *Server {
	return &Server{
		runs:       runs,
		addr:       addr,
		log:        log.Named("api"),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

// SetSchedule makes /health report the next scheduled run.
func (s *Server) SetSchedule(schedule Schedule) {
	s.schedule = schedule
}

func (s *Server) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/health", s.handleRunHealth)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", zap.Error(err))
		}
	}()

	s.log.Info("listening", zap.String("addr", s.addr))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

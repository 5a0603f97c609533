// Package httpapi serves the bot status: problem ledger, backlog position,
// request statistics and metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/internal/ledger"
	"github.com/MimeLyc/iwbot/internal/metrics"
	"github.com/MimeLyc/iwbot/internal/resolver"
)

// Driver is the part of the backlog driver the API reads.
type Driver interface {
	Snapshot() backlog.Snapshot
	Ledger() *ledger.Ledger
}

type passHistory interface {
	ListPasses(ctx context.Context, limit int) ([]backlog.PassRecord, error)
}

type statsSource interface {
	Top(n int) []resolver.Count
}

// passTrigger starts a pass of the given kind in the background. It
// returns false when one is already running.
type passTrigger func(kind string) bool

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	driver   Driver
	history  passHistory
	stats    statsSource
	trigger  passTrigger
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	now      func() time.Time

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithHistory(h passHistory) Option {
	return func(s *Server) {
		s.history = h
	}
}

func WithStats(stats statsSource) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

func WithTrigger(trigger passTrigger) Option {
	return func(s *Server) {
		s.trigger = trigger
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

func NewServer(driver Driver, opts ...Option) *Server {
	s := &Server{
		driver:         driver,
		now:            time.Now,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/problems", s.handleProblems)
	s.mux.HandleFunc("/api/problems/report", s.handleProblemReport)
	s.mux.HandleFunc("/api/backlog", s.handleBacklog)
	s.mux.HandleFunc("/api/backlog/stream", s.handleBacklogStream)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/passes", s.handlePasses)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.Handle("/metrics", metrics.Handler())
}

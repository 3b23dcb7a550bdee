// Package server wires every subsystem of the interview-assistant service
// into a running application: configuration, observability, the session
// registry, the audio and answer-agent network surfaces, and the optional
// external CV/JD/history store.
//
// Server owns the full lifecycle: New creates and connects all subsystems,
// Run serves HTTP until its context is cancelled, and Shutdown tears
// everything down in order.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/interviewd/interviewd/internal/agent"
	"github.com/interviewd/interviewd/internal/asr"
	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/external"
	"github.com/interviewd/interviewd/internal/gateway"
	"github.com/interviewd/interviewd/internal/health"
	"github.com/interviewd/interviewd/internal/llm"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/session"
	"github.com/interviewd/interviewd/internal/transcript"
)

// shutdownTimeout bounds how long Shutdown waits for the HTTP server and
// live sessions to drain before giving up.
const shutdownTimeout = 15 * time.Second

// Option is a functional option for [New]. Use these to inject test doubles
// in place of the subsystems New would otherwise build from cfg.
type Option func(*Server)

// WithAccessor injects a CV/JD/history accessor instead of the in-memory or
// Postgres default New would otherwise build from cfg.Memory.PostgresDSN.
func WithAccessor(a external.Accessor) Option {
	return func(s *Server) { s.accessor = a }
}

// Server owns every subsystem's lifetime and serves the interview-assistant
// HTTP surface: the audio ingestion WebSocket and the answer-agent's SSE
// and WebSocket endpoints.
type Server struct {
	cfg *config.Config

	metrics  *observe.Metrics
	registry *session.Registry
	llm      *llm.Client
	agent    *agent.Agent
	accessor external.Accessor

	httpSrv *http.Server

	// closers run in order during Shutdown, after the HTTP server stops
	// accepting new connections.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// New wires every subsystem together from cfg and returns a [Server] ready
// to [Server.Run]. Initialisation is synchronous and ordered: metrics, the
// session registry, the LLM client and answer agent, the external
// CV/JD/history accessor, and finally the HTTP route table.
func New(ctx context.Context, cfg *config.Config, metrics *observe.Metrics, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, metrics: metrics}
	for _, o := range opts {
		o(s)
	}

	// ── 1. ASR engine + post-processor + session registry ────────────────
	engine := asr.NewEngine(cfg.ASR.InferenceURL, cfg.ASR.Workers, asr.WithLanguage(cfg.ASR.Language))
	post := transcript.New(transcript.Options{
		MinSentenceLen:              cfg.Text.MinSentenceLen,
		EnableOralCleanup:           cfg.Text.EnableOralCleanup,
		EnableNumberNormalization:   cfg.Text.EnableNumberNormalization,
		EnablePunctuationCorrection: cfg.Text.EnablePunctuationCorrection,
	})
	s.registry = session.NewRegistry(*cfg, engine, post, metrics)

	// ── 2. LLM client + answer agent ──────────────────────────────────────
	s.llm = llm.New(cfg.LLM, metrics)
	s.agent = agent.New(s.llm, agent.NoopRetriever{}, cfg.Agent)

	// ── 3. External CV/JD/history accessor ────────────────────────────────
	if err := s.initAccessor(ctx); err != nil {
		return nil, fmt.Errorf("server: init accessor: %w", err)
	}

	// ── 4. HTTP route table ───────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(health.Checker{
		Name:  "sessions",
		Check: func(context.Context) error { return nil },
	}).Register(mux)

	gateway.NewAudioHandler(s.registry, metrics).Register(mux)
	gateway.NewAgentHandler(s.registry, s.agent, s.accessor).Register(mux)

	s.httpSrv = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	return s, nil
}

// initAccessor sets up the CV/JD/history accessor if one wasn't injected:
// a Postgres-backed store when cfg.Memory.PostgresDSN is set, or the
// in-memory default otherwise. Either way the accessor is wrapped in an
// [external.Guard] so a degraded store never fails the answer agent.
func (s *Server) initAccessor(ctx context.Context) error {
	if s.accessor != nil {
		return nil
	}

	if dsn := s.cfg.Memory.PostgresDSN; dsn != "" {
		pg, err := external.NewPostgresAccessor(ctx, dsn)
		if err != nil {
			return err
		}
		s.accessor = external.NewGuard(pg)
		s.closers = append(s.closers, func(context.Context) error {
			pg.Close()
			return nil
		})
		return nil
	}

	s.accessor = external.NewGuard(external.NewInMemoryAccessor())
	return nil
}

// Accessor returns the server's CV/JD/history accessor.
func (s *Server) Accessor() external.Accessor { return s.accessor }

// Registry returns the server's session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Run serves HTTP until ctx is cancelled, then returns nil (the caller is
// expected to follow up with [Server.Shutdown]).
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.httpSrv.Addr)
		errc <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	}
}

// Shutdown stops accepting new HTTP connections, drains live sessions, and
// runs closers in order. It respects ctx's deadline: if ctx expires before
// every step finishes, the remaining steps are skipped.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", s.registry.Len())

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "error", err)
		}

		s.registry.Shutdown(ctx, func(text string, start, end time.Time) {
			slog.Info("flushed in-flight segment on shutdown", "text", text)
		})

		for i, closer := range s.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(s.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ShutdownTimeout returns the deadline main.go should apply to the context
// passed to [Server.Shutdown].
func ShutdownTimeout() time.Duration { return shutdownTimeout }

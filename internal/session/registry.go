package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/interviewd/interviewd/internal/asr"
	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/transcript"
)

// Registry tracks every live [Session], keyed by session ID, and owns the
// shared dependencies (ASR engine, post-processor, metrics) each new
// Session is constructed with. One Registry serves the whole process.
//
// All exported methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg     config.Config
	engine  *asr.Engine
	post    *transcript.Processor
	metrics *observe.Metrics
}

// NewRegistry returns an empty [Registry] wired with the shared dependencies every
// Session it creates will share.
func NewRegistry(cfg config.Config, engine *asr.Engine, post *transcript.Processor, metrics *observe.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		engine:   engine,
		post:     post,
		metrics:  metrics,
	}
}

// GetOrCreate returns the session for id, constructing and registering a
// new one for the given source if none is live. An empty id is rejected,
// per the resolved Open Question that empty session identifiers are
// invalid rather than silently assigned.
//
// Per the WebSocket-accept lifecycle rule, a pre-existing record is reset
// before being handed back: its audio queue is recreated and its history
// and caches are cleared, as if the connection were fresh.
func (r *Registry) GetOrCreate(id string, source Source) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: empty session id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.Reset()
		slog.Info("session reset on reconnect", "session_id", id, "source", source)
		return s, nil
	}

	s := New(id, source, r.cfg, r.engine, r.post, r.metrics)
	r.sessions[id] = s
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("session registered", "session_id", id, "source", source)
	return s, nil
}

// Ephemeral constructs a [Session] for id without registering it in the
// registry, for callers (the answer-agent HTTP surface) that need a
// session handle for an id with no live audio connection. Matches the
// original service's SSE endpoint, which falls back to an unpersisted
// temporary session state when no audio session exists for the given id.
func (r *Registry) Ephemeral(id string, source Source) *Session {
	return New(id, source, r.cfg, r.engine, r.post, r.metrics)
}

// Get returns the session for id, or false if none is live.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and forgets the session for id, flushing any in-progress
// segment through onFinal. A no-op if id is not registered.
func (r *Registry) Remove(ctx context.Context, id string, onFinal asr.FinalFunc) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	s.Close(ctx, onFinal)
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Info("session removed", "session_id", id)
}

// Len returns the number of currently live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every live session, flushing in-progress segments
// through onFinal where possible.
func (r *Registry) Shutdown(ctx context.Context, onFinal asr.FinalFunc) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(ctx, id, onFinal)
	}
}

// Package external implements the read-only CV/JD/history accessors (C10):
// a narrow interface to the storage collaborator, an in-memory default
// implementation, and a best-effort guard that makes every operation
// non-fatal so the core voice pipeline keeps running when the backing
// store is unavailable.
package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/interviewd/interviewd/internal/session"
)

// CV is the resume document returned by [Accessor.GetCV].
type CV struct {
	Content  string
	Metadata map[string]any
}

// JD is the job-description document returned by [Accessor.GetJD].
type JD struct {
	Title        string
	Description  string
	Requirements string
}

// Accessor is the narrow, read-only interface to the CV/JD/history storage
// collaborator (spec §6). It is intentionally small: no writes, no search,
// no embeddings — only the three lookups the answer agent's prompt
// assembly needs.
type Accessor interface {
	// GetCV returns the CV for userID, or nil if none is on file. userID may
	// be empty, meaning "the default CV".
	GetCV(ctx context.Context, userID string) (*CV, error)

	// GetJD returns the job description associated with sessionID, or nil
	// if none is on file.
	GetJD(ctx context.Context, sessionID string) (*JD, error)

	// GetHistory returns the dialogue history for sessionID. Only consulted
	// when no live WebSocket session holds the authoritative in-process
	// history (spec §6: "only used when the WebSocket session is not
	// active and a stateless request arrives").
	GetHistory(ctx context.Context, sessionID string) ([]session.HistoryEntry, error)
}

// InMemoryAccessor is the default [Accessor]: a process-local map, suitable
// for development and for deployments with no external document store
// configured. Safe for concurrent use.
type InMemoryAccessor struct {
	mu      sync.Mutex
	cvs     map[string]CV
	jds     map[string]JD
	history map[string][]session.HistoryEntry
}

// NewInMemoryAccessor returns an empty [InMemoryAccessor].
func NewInMemoryAccessor() *InMemoryAccessor {
	return &InMemoryAccessor{
		cvs:     make(map[string]CV),
		jds:     make(map[string]JD),
		history: make(map[string][]session.HistoryEntry),
	}
}

// SetCV stores cv under userID (or the default CV if userID is empty).
func (a *InMemoryAccessor) SetCV(userID string, cv CV) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cvs[userID] = cv
}

// SetJD stores jd under sessionID.
func (a *InMemoryAccessor) SetJD(sessionID string, jd JD) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jds[sessionID] = jd
}

// SetHistory stores entries under sessionID, for the stateless-request
// fallback path.
func (a *InMemoryAccessor) SetHistory(sessionID string, entries []session.HistoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history[sessionID] = entries
}

func (a *InMemoryAccessor) GetCV(_ context.Context, userID string) (*CV, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cv, ok := a.cvs[userID]
	if !ok {
		return nil, nil
	}
	return &cv, nil
}

func (a *InMemoryAccessor) GetJD(_ context.Context, sessionID string) (*JD, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	jd, ok := a.jds[sessionID]
	if !ok {
		return nil, nil
	}
	return &jd, nil
}

func (a *InMemoryAccessor) GetHistory(_ context.Context, sessionID string) ([]session.HistoryEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries := a.history[sessionID]
	out := make([]session.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Guard wraps an [Accessor] and makes every operation non-fatal: on
// failure it logs a warning and returns a zero result instead of
// propagating the error, so the voice pipeline keeps running when the
// backing document store is degraded or unreachable.
//
// Safe for concurrent use.
type Guard struct {
	accessor Accessor
	degraded atomic.Bool
}

// NewGuard wraps accessor in a [Guard].
func NewGuard(accessor Accessor) *Guard {
	return &Guard{accessor: accessor}
}

func (g *Guard) GetCV(ctx context.Context, userID string) (*CV, error) {
	cv, err := g.accessor.GetCV(ctx, userID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("external accessor: GetCV failed, returning none", "user_id", userID, "error", err)
		return nil, nil
	}
	g.degraded.Store(false)
	return cv, nil
}

func (g *Guard) GetJD(ctx context.Context, sessionID string) (*JD, error) {
	jd, err := g.accessor.GetJD(ctx, sessionID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("external accessor: GetJD failed, returning none", "session_id", sessionID, "error", err)
		return nil, nil
	}
	g.degraded.Store(false)
	return jd, nil
}

func (g *Guard) GetHistory(ctx context.Context, sessionID string) ([]session.HistoryEntry, error) {
	entries, err := g.accessor.GetHistory(ctx, sessionID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("external accessor: GetHistory failed, returning empty", "session_id", sessionID, "error", err)
		return nil, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// IsDegraded reports whether the most recent operation on the underlying
// accessor failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Accessor = (*InMemoryAccessor)(nil)
var _ Accessor = (*Guard)(nil)

// Populate fills sess's CV/JD context from accessor if it is not already
// cached, mirroring the original service's "fetch once, cache on the
// session" behavior (spec §6: "Called at most once per session; result
// cached on the Session"). userID selects the CV; sess.ID selects the JD.
// An error from accessor is returned wrapped and leaves the session's
// context unchanged; with accessor wrapped in a [Guard], failures arrive
// as empty results and Populate returns nil.
func Populate(ctx context.Context, accessor Accessor, sess *session.Session, userID string) error {
	cvText, jdText := sess.Context()
	changed := false

	if cvText == "" {
		cv, err := accessor.GetCV(ctx, userID)
		if err != nil {
			return fmt.Errorf("external: get cv: %w", err)
		}
		if cv != nil {
			cvText = cv.Content
			changed = true
		}
	}

	if jdText == "" {
		jd, err := accessor.GetJD(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("external: get jd: %w", err)
		}
		if jd != nil {
			jdText = renderJD(*jd)
			changed = true
		}
	}

	if changed {
		sess.SetContext(cvText, jdText)
	}
	return nil
}

// renderJD flattens a structured [JD] into the plain text block the answer
// agent's prompt assembly expects.
func renderJD(jd JD) string {
	text := jd.Title
	if jd.Description != "" {
		text += "\n" + jd.Description
	}
	if jd.Requirements != "" {
		text += "\n" + jd.Requirements
	}
	return text
}

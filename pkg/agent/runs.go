// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agent

import (
	"context"
	"sync"
)

type runEntry struct {
	cancel context.CancelFunc
}

// RunTable tracks in-flight turns by run id so a caller can abort one
// best-effort while it is suspended at a provider call, tool invocation,
// or hook dispatch. Aborting cancels the turn's context; it does not roll
// back messages already persisted, and sandbox subprocesses rely on their
// own exec timeouts rather than the cancellation.
type RunTable struct {
	mu   sync.Mutex
	runs map[string]*runEntry
}

// NewRunTable builds an empty run table.
func NewRunTable() *RunTable {
	return &RunTable{runs: make(map[string]*runEntry)}
}

// Begin derives an abortable context for runID and registers its handle.
// The returned finish func must be called when the turn completes (on any
// path); it releases the handle and the derived context's resources.
// Beginning a runID that is already registered cancels and replaces the
// superseded turn's handle.
func (t *RunTable) Begin(ctx context.Context, runID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	entry := &runEntry{cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.runs[runID]; ok {
		prev.cancel()
	}
	t.runs[runID] = entry
	t.mu.Unlock()

	finish := func() {
		t.mu.Lock()
		if t.runs[runID] == entry {
			delete(t.runs, runID)
		}
		t.mu.Unlock()
		cancel()
	}
	return runCtx, finish
}

// Abort cancels the turn registered under runID, if any, and reports
// whether a handle was found. The entry stays registered until the turn's
// own finish func runs, so the aborted turn still observes cancellation at
// its next suspension point rather than vanishing from the table mid-poll.
func (t *RunTable) Abort(runID string) bool {
	t.mu.Lock()
	entry, ok := t.runs[runID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// Active returns how many turns currently hold a registered abort handle.
func (t *RunTable) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}

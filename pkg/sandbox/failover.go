package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/loomgate/loomgate/pkg/logger"
)

// corruptionMarkers is the fixed, language-neutral phrase list §4.4.4 uses
// to recognize a primary-backend error as a class the fallback can recover
// from, rather than a transient or command-specific failure worth
// surfacing as-is. Matching is case-insensitive substring containment.
var corruptionMarkers = []string{
	"connection refused",
	"cannot connect to the docker daemon",
	"no such file or directory",
	"config not found",
	"container is not running",
	"already exists",
	"bootstrap",
}

// isCorruptionError reports whether err's message matches one of the fixed
// corruption markers that justify a permanent failover to the fallback
// backend.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// FailoverSandbox wraps a primary and fallback backend; once the primary
// produces an error matching isCorruptionError, it flips to the fallback
// permanently (the flip is never reset, mirroring the corruption-recovery
// behavior of the CLI-driven primary backend this guards) and retries the
// operation that triggered the flip on the fallback.
type FailoverSandbox struct {
	primary  Sandbox
	fallback Sandbox

	useFallback atomic.Bool
}

// NewFailoverSandbox pairs a primary backend (e.g. AppleContainerSandbox)
// with a fallback (e.g. ContainerSandbox) that takes over once primary.Start,
// or a later operation, fails with an error matching the corruption predicate.
func NewFailoverSandbox(primary, fallback Sandbox) *FailoverSandbox {
	return &FailoverSandbox{primary: primary, fallback: fallback}
}

func (f *FailoverSandbox) active() Sandbox {
	if f.useFallback.Load() {
		return f.fallback
	}
	return f.primary
}

func (f *FailoverSandbox) switchToFallback(cause error) {
	if f.useFallback.CompareAndSwap(false, true) {
		logger.WarnCF("sandbox", "primary backend failed, switching to fallback", map[string]any{"error": cause.Error()})
	}
}

func (f *FailoverSandbox) Start(ctx context.Context) error {
	if f.active() == f.fallback {
		return f.fallback.Start(ctx)
	}
	if err := f.primary.Start(ctx); err != nil {
		if !isCorruptionError(err) {
			return fmt.Errorf("primary sandbox backend failed: %w", err)
		}
		f.switchToFallback(err)
		if fbErr := f.fallback.Start(ctx); fbErr != nil {
			return fmt.Errorf("primary sandbox backend failed: %v; fallback also failed: %w", err, fbErr)
		}
		return nil
	}
	return nil
}

func (f *FailoverSandbox) Prune(ctx context.Context) error {
	return f.active().Prune(ctx)
}

// Exec runs req against the active backend; if the primary is still active
// and the call fails with a corruption-class error, it switches to the
// fallback and retries req there once, per §4.4.4.
func (f *FailoverSandbox) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if f.useFallback.Load() {
		return f.fallback.Exec(ctx, req)
	}
	res, err := f.primary.Exec(ctx, req)
	if err != nil && isCorruptionError(err) {
		f.switchToFallback(err)
		return f.fallback.Exec(ctx, req)
	}
	return res, err
}

// ExecStream mirrors Exec's corruption-triggered failover-and-retry.
func (f *FailoverSandbox) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	if f.useFallback.Load() {
		return f.fallback.ExecStream(ctx, req, onEvent)
	}
	res, err := f.primary.ExecStream(ctx, req, onEvent)
	if err != nil && isCorruptionError(err) {
		f.switchToFallback(err)
		return f.fallback.ExecStream(ctx, req, onEvent)
	}
	return res, err
}

func (f *FailoverSandbox) Fs() FsBridge {
	return f.active().Fs()
}

// Resolve returns the currently active backend.
func (f *FailoverSandbox) Resolve(ctx context.Context) (Sandbox, error) {
	return f.active(), nil
}

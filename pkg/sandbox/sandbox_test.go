package sandbox

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	// Test SessionKey
	ctx := context.Background()
	if got := SessionKeyFromContext(ctx); got != "" {
		t.Fatalf("expected empty session key, got %q", got)
	}

	ctx = WithSessionKey(ctx, "session-123")
	if got := SessionKeyFromContext(ctx); got != "session-123" {
		t.Fatalf("expected session-123, got %q", got)
	}

	// Test nil contexts
	if got := SessionKeyFromContext(nil); got != "" { //nolint:staticcheck
		t.Fatalf("SessionKeyFromContext(nil) = %q, want empty", got)
	}
	if got := FromContext(nil); got != nil { //nolint:staticcheck
		t.Fatalf("FromContext(nil) = %v, want nil", got)
	}
	if got := managerFromContext(nil); got != nil { //nolint:staticcheck
		t.Fatalf("managerFromContext(nil) = %v, want nil", got)
	}

	// Test Sandbox context
	mockSb := &unavailableSandboxManager{}
	ctx = WithSandbox(context.Background(), mockSb)
	if got := FromContext(ctx); got != mockSb {
		t.Fatalf("expected to retrieve mock sandbox from context")
	}

	// Test Manager context resolving
	mockMgr := NewUnavailableSandboxManager(nil)
	ctx = WithManager(context.Background(), mockMgr)

	if got := managerFromContext(ctx); got != mockMgr {
		t.Fatalf("expected to retrieve mock manager from context")
	}

	// FromContext with Manager only should attempt to Resolve (which returns error/nil here)
	if got := FromContext(ctx); got != nil {
		t.Fatalf("expected nil from FromContext when Resolve fails, got %v", got)
	}
}

func TestTruncateExecOutput_AppliesDefaultAndMarker(t *testing.T) {
	res := &ExecResult{Stdout: "short", Stderr: "also short"}
	truncateExecOutput(res, 0)
	if res.Stdout != "short" || res.Stderr != "also short" {
		t.Fatalf("expected untouched output under the default cap, got %#v", res)
	}

	long := make([]byte, defaultMaxOutputBytes+10)
	for i := range long {
		long[i] = 'x'
	}
	res = &ExecResult{Stdout: string(long)}
	truncateExecOutput(res, 0)
	if len(res.Stdout) != defaultMaxOutputBytes+len(outputTruncatedMarker) {
		t.Fatalf("expected stdout capped to default+marker, got len %d", len(res.Stdout))
	}
	if res.Stdout[defaultMaxOutputBytes:] != outputTruncatedMarker {
		t.Fatalf("expected truncation marker suffix, got %q", res.Stdout[defaultMaxOutputBytes:])
	}
}

func TestTruncateExecOutput_CustomCapAndNil(t *testing.T) {
	truncateExecOutput(nil, 10) // must not panic

	res := &ExecResult{Stdout: "abcdefghij", Stderr: "xy"}
	truncateExecOutput(res, 4)
	if res.Stdout != "abcd"+outputTruncatedMarker {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
	if res.Stderr != "xy" {
		t.Fatalf("expected stderr under the cap to pass through untouched, got %q", res.Stderr)
	}
}

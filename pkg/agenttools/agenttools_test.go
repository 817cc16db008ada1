// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agenttools

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/loomgate/loomgate/pkg/agent"
	"github.com/loomgate/loomgate/pkg/config"
	"github.com/loomgate/loomgate/pkg/sandbox"
)

// fakeFS is an in-memory FsBridge stand-in so these tests don't touch the
// real filesystem.
type fakeFS struct {
	files map[string][]byte
}

func newFakeFS() *fakeFS { return &fakeFS{files: map[string][]byte{}} }

func (f *fakeFS) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *fakeFS) WriteFile(_ context.Context, path string, data []byte, _ bool) error {
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeFS) ReadDir(_ context.Context, _ string) ([]os.DirEntry, error) {
	return nil, errors.New("not implemented")
}

// fakeSandbox is a minimal sandbox.Sandbox stand-in that records Exec calls
// and serves fakeFS for Fs().
type fakeSandbox struct {
	fs       *fakeFS
	execReq  sandbox.ExecRequest
	execResp *sandbox.ExecResult
	execErr  error
}

func (s *fakeSandbox) Start(context.Context) error { return nil }
func (s *fakeSandbox) Prune(context.Context) error { return nil }
func (s *fakeSandbox) Exec(_ context.Context, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
	s.execReq = req
	if s.execErr != nil {
		return nil, s.execErr
	}
	if s.execResp != nil {
		return s.execResp, nil
	}
	return &sandbox.ExecResult{}, nil
}
func (s *fakeSandbox) ExecStream(ctx context.Context, req sandbox.ExecRequest, _ func(sandbox.ExecEvent) error) (*sandbox.ExecResult, error) {
	return s.Exec(ctx, req)
}
func (s *fakeSandbox) Fs() sandbox.FsBridge { return s.fs }

func ctxWithSandbox(sb sandbox.Sandbox) context.Context {
	return sandbox.WithSandbox(context.Background(), sb)
}

func TestExecTool_NoSandboxInContext(t *testing.T) {
	tool := NewExecTool(0)
	if _, err := tool.Execute(context.Background(), map[string]any{"command": "echo hi"}); err == nil {
		t.Fatal("expected error when no sandbox is in context")
	}
}

func TestExecTool_MissingCommand(t *testing.T) {
	tool := NewExecTool(0)
	sb := &fakeSandbox{fs: newFakeFS()}
	if _, err := tool.Execute(ctxWithSandbox(sb), map[string]any{}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestExecTool_RoutesThroughResolvedSandbox(t *testing.T) {
	tool := NewExecTool(4096)
	sb := &fakeSandbox{fs: newFakeFS(), execResp: &sandbox.ExecResult{Stdout: "hi", ExitCode: 0}}

	result, err := tool.Execute(ctxWithSandbox(sb), map[string]any{
		"command":     "echo hi",
		"args":        []any{"-n"},
		"working_dir": "sub",
		"timeout_ms":  float64(500),
		"env":         map[string]any{"FOO": "bar"},
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	m, ok := result.(map[string]any)
	if !ok || m["stdout"] != "hi" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if sb.execReq.WorkingDir != "sub" || sb.execReq.TimeoutMs != 500 {
		t.Fatalf("unexpected exec request forwarded: %#v", sb.execReq)
	}
	if len(sb.execReq.Args) != 1 || sb.execReq.Args[0] != "-n" {
		t.Fatalf("expected args to be forwarded, got %#v", sb.execReq.Args)
	}
	if sb.execReq.Env["FOO"] != "bar" {
		t.Fatalf("expected env to be forwarded, got %#v", sb.execReq.Env)
	}
	if sb.execReq.MaxOutputBytes != 4096 {
		t.Fatalf("expected configured MaxOutputBytes to be forwarded, got %d", sb.execReq.MaxOutputBytes)
	}
}

func TestReadWriteFileTool_RoundTrip(t *testing.T) {
	sb := &fakeSandbox{fs: newFakeFS()}
	ctx := ctxWithSandbox(sb)

	writeTool := NewWriteFileTool()
	if _, err := writeTool.Execute(ctx, map[string]any{"path": "a.txt", "content": "hello"}); err != nil {
		t.Fatalf("write_file error: %v", err)
	}

	readTool := NewReadFileTool()
	result, err := readTool.Execute(ctx, map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("read_file error: %v", err)
	}
	if result.(map[string]any)["content"] != "hello" {
		t.Fatalf("unexpected read result: %#v", result)
	}
}

func TestAppendFileTool_CreatesWhenMissingAndAppends(t *testing.T) {
	sb := &fakeSandbox{fs: newFakeFS()}
	ctx := ctxWithSandbox(sb)
	tool := NewAppendFileTool()

	if _, err := tool.Execute(ctx, map[string]any{"path": "log.txt", "content": "line1\n"}); err != nil {
		t.Fatalf("first append error: %v", err)
	}
	if _, err := tool.Execute(ctx, map[string]any{"path": "log.txt", "content": "line2\n"}); err != nil {
		t.Fatalf("second append error: %v", err)
	}

	data := sb.fs.files["log.txt"]
	if string(data) != "line1\nline2\n" {
		t.Fatalf("unexpected appended content: %q", string(data))
	}
}

func TestEditFileTool_ReplacesUniqueMatch(t *testing.T) {
	sb := &fakeSandbox{fs: newFakeFS()}
	sb.fs.files["a.txt"] = []byte("hello world")
	ctx := ctxWithSandbox(sb)

	tool := NewEditFileTool()
	if _, err := tool.Execute(ctx, map[string]any{"path": "a.txt", "old_string": "world", "new_string": "there"}); err != nil {
		t.Fatalf("edit_file error: %v", err)
	}
	if string(sb.fs.files["a.txt"]) != "hello there" {
		t.Fatalf("unexpected content after edit: %q", sb.fs.files["a.txt"])
	}
}

func TestEditFileTool_AmbiguousMatchRequiresReplaceAll(t *testing.T) {
	sb := &fakeSandbox{fs: newFakeFS()}
	sb.fs.files["a.txt"] = []byte("foo foo foo")
	ctx := ctxWithSandbox(sb)

	tool := NewEditFileTool()
	if _, err := tool.Execute(ctx, map[string]any{"path": "a.txt", "old_string": "foo", "new_string": "bar"}); err == nil {
		t.Fatal("expected ambiguous match error without replace_all")
	}

	if _, err := tool.Execute(ctx, map[string]any{"path": "a.txt", "old_string": "foo", "new_string": "bar", "replace_all": true}); err != nil {
		t.Fatalf("replace_all=true should succeed: %v", err)
	}
	if string(sb.fs.files["a.txt"]) != "bar bar bar" {
		t.Fatalf("unexpected content after replace_all: %q", sb.fs.files["a.txt"])
	}
}

func TestEditFileTool_NotFoundErrors(t *testing.T) {
	sb := &fakeSandbox{fs: newFakeFS()}
	sb.fs.files["a.txt"] = []byte("hello world")
	ctx := ctxWithSandbox(sb)

	tool := NewEditFileTool()
	if _, err := tool.Execute(ctx, map[string]any{"path": "a.txt", "old_string": "missing", "new_string": "x"}); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestEchoTool_ReturnsInputUnchanged(t *testing.T) {
	tool := NewEchoTool()
	result, err := tool.Execute(context.Background(), map[string]any{"text": "ping"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.(map[string]any)["text"] != "ping" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRegisterDefault_GatesToolsOutsideSandboxAllowList(t *testing.T) {
	registry := agent.NewToolRegistry()
	cfg := config.DefaultConfig()
	cfg.Tools.Sandbox.Tools.Allow = []string{"echo"}

	sessionSB := &fakeSandbox{fs: newFakeFS(), execResp: &sandbox.ExecResult{Stdout: "from-session"}}
	hostSB := &fakeSandbox{fs: newFakeFS(), execResp: &sandbox.ExecResult{Stdout: "from-host"}}

	RegisterDefault(registry, cfg, hostSB)

	tool, ok := registry.Get("exec")
	if !ok {
		t.Fatal("expected exec tool to be registered")
	}

	// exec is not in the allow list, so it must run against host regardless
	// of what the session's own sandbox resolves to.
	result, err := tool.Execute(ctxWithSandbox(sessionSB), map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.(map[string]any)["stdout"] != "from-host" {
		t.Fatalf("expected exec to be gated onto host sandbox, got: %#v", result)
	}
	if sessionSB.execReq.Command != "" {
		t.Fatal("expected session sandbox to never have been called")
	}
}

func TestRegisterDefault_AllowedToolUsesSessionSandbox(t *testing.T) {
	registry := agent.NewToolRegistry()
	cfg := config.DefaultConfig()
	cfg.Tools.Sandbox.Tools.Allow = []string{"exec"}

	sessionSB := &fakeSandbox{fs: newFakeFS(), execResp: &sandbox.ExecResult{Stdout: "from-session"}}
	hostSB := &fakeSandbox{fs: newFakeFS()}

	RegisterDefault(registry, cfg, hostSB)

	tool, _ := registry.Get("exec")
	result, err := tool.Execute(ctxWithSandbox(sessionSB), map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.(map[string]any)["stdout"] != "from-session" {
		t.Fatalf("expected exec to use session sandbox, got: %#v", result)
	}
}

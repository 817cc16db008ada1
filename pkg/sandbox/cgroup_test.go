//go:build linux

package sandbox

import (
	"context"
	"os/exec"
	"testing"
)

func skipIfNoSystemdRun(t *testing.T) {
	t.Helper()
	if err := exec.Command("systemd-run", "--version").Run(); err != nil {
		t.Skipf("systemd-run unavailable: %v", err)
	}
}

func TestCgroupSandbox_PropertyArgs(t *testing.T) {
	c := NewCgroupSandbox(CgroupSandboxConfig{
		Workspace: t.TempDir(),
		MemoryMax: "256M",
		CPUQuota:  0.5,
		PidsMax:   32,
	})

	args := c.propertyArgs()
	want := []string{
		"--property", "MemoryMax=256M",
		"--property", "CPUQuota=50%",
		"--property", "TasksMax=32",
	}
	if len(args) != len(want) {
		t.Fatalf("propertyArgs() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("propertyArgs()[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestCgroupSandbox_PropertyArgsEmpty(t *testing.T) {
	c := NewCgroupSandbox(CgroupSandboxConfig{Workspace: t.TempDir()})
	if args := c.propertyArgs(); len(args) != 0 {
		t.Fatalf("expected no property args, got %v", args)
	}
}

func TestCgroupSandbox_ScopeUnitUnique(t *testing.T) {
	c := NewCgroupSandbox(CgroupSandboxConfig{Workspace: t.TempDir(), ScopePrefix: "loomgate-test"})
	a := c.scopeUnit()
	b := c.scopeUnit()
	if a == b {
		t.Fatal("expected distinct scope unit names across calls")
	}
}

func TestCgroupSandbox_Prune(t *testing.T) {
	c := NewCgroupSandbox(CgroupSandboxConfig{Workspace: t.TempDir()})
	if err := c.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
}

func TestCgroupSandbox_ExecEmptyCommand(t *testing.T) {
	c := NewCgroupSandbox(CgroupSandboxConfig{Workspace: t.TempDir()})
	if _, err := c.Exec(context.Background(), ExecRequest{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCgroupSandbox_ExecRuns(t *testing.T) {
	skipIfNoSystemdRun(t)

	dir := t.TempDir()
	c := NewCgroupSandbox(CgroupSandboxConfig{Workspace: dir})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	res, err := c.Exec(context.Background(), ExecRequest{Command: "echo hello"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestCgroupSandbox_Resolve(t *testing.T) {
	c := NewCgroupSandbox(CgroupSandboxConfig{Workspace: t.TempDir()})
	sb, err := c.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if sb != c {
		t.Fatal("expected Resolve() to return the sandbox itself")
	}
}

//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CgroupSandboxConfig configures the systemd-run-per-command backend: each
// Exec call spawns a transient --user --scope unit with resource limits
// applied via systemd properties, instead of a long-lived container.
type CgroupSandboxConfig struct {
	ScopePrefix string
	Workspace   string
	MemoryMax   string
	CPUQuota    float64
	PidsMax     int64
}

// CgroupSandbox confines each command to its own systemd scope unit rather
// than a container image; it trades filesystem isolation for low overhead
// and no image/runtime dependency beyond systemd --user.
type CgroupSandbox struct {
	cfg CgroupSandboxConfig
	fs  FsBridge
}

// NewCgroupSandbox builds a cgroup-backed sandbox rooted at cfg.Workspace.
func NewCgroupSandbox(cfg CgroupSandboxConfig) *CgroupSandbox {
	if strings.TrimSpace(cfg.ScopePrefix) == "" {
		cfg.ScopePrefix = "loomgate-sandbox"
	}
	return &CgroupSandbox{
		cfg: cfg,
		fs:  &hostFS{workspace: cfg.Workspace, restrict: true},
	}
}

func (c *CgroupSandbox) scopeUnit() string {
	return fmt.Sprintf("%s-%d", c.cfg.ScopePrefix, time.Now().UnixNano())
}

func (c *CgroupSandbox) propertyArgs() []string {
	var args []string
	if strings.TrimSpace(c.cfg.MemoryMax) != "" {
		args = append(args, "--property", "MemoryMax="+c.cfg.MemoryMax)
	}
	if c.cfg.CPUQuota > 0 {
		args = append(args, "--property", fmt.Sprintf("CPUQuota=%d%%", int64(c.cfg.CPUQuota*100)))
	}
	if c.cfg.PidsMax > 0 {
		args = append(args, "--property", fmt.Sprintf("TasksMax=%d", c.cfg.PidsMax))
	}
	return args
}

// Start verifies systemd-run is reachable; it does not itself spawn a unit
// since units are transient and scoped to individual Exec calls.
func (c *CgroupSandbox) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "systemd-run", "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cgroup sandbox: systemd-run not available: %w", err)
	}
	return nil
}

// Prune is a no-op: scope units are transient and exit with their command.
func (c *CgroupSandbox) Prune(ctx context.Context) error {
	return nil
}

func (c *CgroupSandbox) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return aggregateExecStream(func(onEvent func(ExecEvent) error) (*ExecResult, error) {
		return c.ExecStream(ctx, req, onEvent)
	})
}

func (c *CgroupSandbox) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("cgroup sandbox: empty command")
	}

	cmdCtx := ctx
	cancel := func() {}
	if req.TimeoutMs > 0 {
		cmdCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
	}
	defer cancel()

	args := []string{"--user", "--scope", "--unit", c.scopeUnit()}
	args = append(args, c.propertyArgs()...)

	script := req.Command
	if len(req.Args) > 0 {
		script = shellEscapeArgs(req.Command, req.Args)
	}
	args = append(args, "sh", "-c", script)

	cmd := exec.CommandContext(cmdCtx, "systemd-run", args...)
	if req.WorkingDir != "" {
		dir, err := ValidatePath(req.WorkingDir, c.cfg.Workspace, true)
		if err != nil {
			return nil, err
		}
		cmd.Dir = dir
	} else {
		cmd.Dir = c.cfg.Workspace
	}
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), envPairs(sanitizeEnvVars(req.Env))...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return nil, fmt.Errorf("cgroup sandbox: exec failed: %w", runErr)
		}
	}

	if onEvent != nil {
		if stdout.Len() > 0 {
			if err := onEvent(ExecEvent{Type: ExecEventStdout, Chunk: stdout.Bytes()}); err != nil {
				return nil, err
			}
		}
		if stderr.Len() > 0 {
			if err := onEvent(ExecEvent{Type: ExecEventStderr, Chunk: stderr.Bytes()}); err != nil {
				return nil, err
			}
		}
		if err := onEvent(ExecEvent{Type: ExecEventExit, ExitCode: exitCode}); err != nil {
			return nil, err
		}
	}

	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
	truncateExecOutput(res, req.MaxOutputBytes)
	return res, nil
}

func (c *CgroupSandbox) Fs() FsBridge {
	return c.fs
}

// GetWorkspace reports the host directory this sandbox's commands run in.
func (c *CgroupSandbox) GetWorkspace(ctx context.Context) string {
	return c.cfg.Workspace
}

// Resolve returns the cgroup sandbox itself; it is a leaf backend.
func (c *CgroupSandbox) Resolve(ctx context.Context) (Sandbox, error) {
	return c, nil
}

//go:build darwin

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// AppleContainerSandboxConfig configures the `container` CLI backend
// (macOS 26+, Apple Silicon's native container runtime).
type AppleContainerSandboxConfig struct {
	Image           string
	ContainerPrefix string
	Name            string
	Workspace       string
}

// AppleContainerSandbox drives a long-lived container through the `container`
// CLI, the macOS-native counterpart to the Docker-engine-API backend.
type AppleContainerSandbox struct {
	mu         sync.Mutex
	cfg        AppleContainerSandboxConfig
	generation int
	fs         FsBridge
}

// NewAppleContainerSandbox builds a sandbox bound to cfg; Start creates or
// reuses the underlying container.
func NewAppleContainerSandbox(cfg AppleContainerSandboxConfig) *AppleContainerSandbox {
	if strings.TrimSpace(cfg.Image) == "" {
		cfg.Image = DefaultSandboxImage
	}
	if strings.TrimSpace(cfg.ContainerPrefix) == "" {
		cfg.ContainerPrefix = "loomgate-sandbox"
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = cfg.ContainerPrefix + "-default"
	}
	sb := &AppleContainerSandbox{cfg: cfg}
	sb.fs = &hostFS{workspace: cfg.Workspace, restrict: true}
	return sb
}

func (c *AppleContainerSandbox) containerName() string {
	return c.nameForGeneration(c.generation)
}

func (c *AppleContainerSandbox) nameForGeneration(gen int) string {
	if gen == 0 {
		return c.cfg.Name
	}
	return fmt.Sprintf("%s-g%d", c.cfg.Name, gen)
}

// IsAppleContainerAvailable reports whether the `container` CLI is on PATH
// and reachable.
func IsAppleContainerAvailable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "container", "--version").Run() == nil
}

// Start ensures the named container exists and is running, creating it
// (container run -d ... sleep infinity) if it's missing, restarting it if
// stopped, and rotating to a fresh generation name if recreation fails
// against a stuck name.
func (c *AppleContainerSandbox) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := c.containerName()
	state, err := c.inspectState(ctx, name)
	if err != nil {
		return fmt.Errorf("apple container: inspect failed: %w", err)
	}

	switch state {
	case containerStateRunning:
		return nil
	case containerStateStopped:
		if err := exec.CommandContext(ctx, "container", "start", name).Run(); err == nil {
			return nil
		}
		c.forceRemove(ctx, name)
	case containerStateAbsent:
		// fall through to create
	default:
		c.forceRemove(ctx, name)
	}

	if err := c.runNew(ctx, name); err != nil {
		c.generation++
		return c.runNew(ctx, c.containerName())
	}
	return nil
}

type containerState int

const (
	containerStateAbsent containerState = iota
	containerStateRunning
	containerStateStopped
	containerStateUnknown
)

func (c *AppleContainerSandbox) inspectState(ctx context.Context, name string) (containerState, error) {
	out, err := exec.CommandContext(ctx, "container", "inspect", name).Output()
	if err != nil {
		return containerStateAbsent, nil
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" || trimmed == "[]" {
		return containerStateAbsent, nil
	}
	if strings.Contains(trimmed, `"running"`) {
		return containerStateRunning, nil
	}
	if strings.Contains(trimmed, "stopped") || strings.Contains(trimmed, "exited") {
		return containerStateStopped, nil
	}
	return containerStateUnknown, nil
}

func (c *AppleContainerSandbox) forceRemove(ctx context.Context, name string) {
	_ = exec.CommandContext(ctx, "container", "rm", "-f", name).Run()
}

func (c *AppleContainerSandbox) runNew(ctx context.Context, name string) error {
	args := []string{"run", "-d", "--name", name, c.cfg.Image, "sleep", "infinity"}
	out, err := exec.CommandContext(ctx, "container", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("apple container: run failed: %w: %s", err, string(out))
	}
	return nil
}

// Prune stops and removes every generation name this sandbox has rotated
// through, 0..=current, so a poisoned earlier generation doesn't linger
// after the key moved past it.
func (c *AppleContainerSandbox) Prune(ctx context.Context) error {
	c.mu.Lock()
	maxGen := c.generation
	c.mu.Unlock()

	var firstErr error
	for gen := 0; gen <= maxGen; gen++ {
		name := c.nameForGeneration(gen)
		_ = exec.CommandContext(ctx, "container", "stop", name).Run()
		if err := exec.CommandContext(ctx, "container", "rm", "-f", name).Run(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *AppleContainerSandbox) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return aggregateExecStream(func(onEvent func(ExecEvent) error) (*ExecResult, error) {
		return c.ExecStream(ctx, req, onEvent)
	})
}

func (c *AppleContainerSandbox) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("apple container: empty command")
	}
	c.mu.Lock()
	name := c.containerName()
	c.mu.Unlock()

	script := req.Command
	if len(req.Args) > 0 {
		script = shellEscapeArgs(req.Command, req.Args)
	}

	args := []string{"exec"}
	for _, kv := range envPairs(sanitizeEnvVars(req.Env)) {
		args = append(args, "-e", kv)
	}
	args = append(args, name, "sh", "-c", script)
	cmd := exec.CommandContext(ctx, "container", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return nil, fmt.Errorf("apple container: exec failed: %w", err)
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

func (c *AppleContainerSandbox) Fs() FsBridge {
	return c.fs
}

func (c *AppleContainerSandbox) GetWorkspace(ctx context.Context) string {
	return c.cfg.Workspace
}

// Resolve returns the sandbox itself; it is a leaf backend.
func (c *AppleContainerSandbox) Resolve(ctx context.Context) (Sandbox, error) {
	return c, nil
}

// Package config carries the knobs the Agent Runtime reads at dispatch
// time. Loading config files, CLI flags, and env-var substitution live in
// the gateway layer; this package only exposes the resulting struct and
// populates it from the environment using the same tag-driven approach the
// original project uses for its nested config.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// SandboxMode mirrors the per-agent sandbox.mode values.
type SandboxMode string

const (
	SandboxModeOff     SandboxMode = "off"
	SandboxModeNonMain SandboxMode = "non-main"
	SandboxModeAll     SandboxMode = "all"
)

// WorkspaceAccess describes how a sandbox backend is allowed to touch the
// agent's own workspace directory.
type WorkspaceAccess string

const (
	// WorkspaceAccessNone keeps the sandbox workspace isolated from the
	// agent's host workspace; only a synced seed copy is visible.
	WorkspaceAccessNone WorkspaceAccess = "none"
	// WorkspaceAccessRO bind-mounts the agent workspace read-only.
	WorkspaceAccessRO WorkspaceAccess = "ro"
	// WorkspaceAccessRW bind-mounts the agent workspace read-write.
	WorkspaceAccessRW WorkspaceAccess = "rw"
)

// AgentSandboxDockerUlimitValue sets a single ulimit either symmetrically
// (Value) or with distinct soft/hard limits.
type AgentSandboxDockerUlimitValue struct {
	Value *int64
	Soft  *int64
	Hard  *int64
}

// AgentSandboxDockerConfig configures the Docker-engine-API sandbox
// backend. Fields left at their zero value fall back to ContainerSandbox's
// own hardening defaults (deny-all caps, no network, tmpfs scratch dirs).
type AgentSandboxDockerConfig struct {
	Image           string
	ContainerPrefix string
	Workdir         string
	ReadOnlyRoot    bool
	Tmpfs           []string
	Network         string
	User            string
	CapDrop         []string
	Env             map[string]string
	SetupCommand    string
	PidsLimit       int64
	Memory          string
	MemorySwap      string
	Cpus            float64
	Ulimits         map[string]AgentSandboxDockerUlimitValue
	SeccompProfile  string
	ApparmorProfile string
	DNS             []string
	ExtraHosts      []string
	Binds           []string

	// DockerHost overrides the Docker engine API endpoint (e.g.
	// "tcp://remote-builder:2376"); empty uses the client library's own
	// DOCKER_HOST/default-socket resolution.
	DockerHost string
	// TLSCertPath, TLSKeyPath, and TLSCAPath point at the client
	// certificate, key, and CA bundle used to authenticate to a
	// TLS-protected remote Docker engine. Leaving all three empty skips
	// TLS setup entirely.
	TLSCertPath string
	TLSKeyPath  string
	TLSCAPath   string
	// TLSVerify, when TLS is configured (cert and key both set), skips
	// server certificate verification when false; the zero value is false.
	TLSVerify bool
}

// AgentSandboxPruneConfig controls idle/age-based reclamation of scoped
// sandbox containers. Nil fields disable that prune criterion; IntPtr(0)
// means "prune immediately", distinct from leaving a field unset.
type AgentSandboxPruneConfig struct {
	IdleHours  *int
	MaxAgeDays *int
}

// AgentSandboxConfig is the sandbox policy for one agent (or the
// agents-wide default).
type AgentSandboxConfig struct {
	Mode            string
	Scope           string
	WorkspaceAccess string
	WorkspaceRoot   string

	// Backend picks the execution driver: "auto" (platform preference),
	// "docker", "apple", or "cgroup". Auto prefers the Apple container CLI
	// on macOS when its runtime responds, then the Docker engine, then
	// systemd-run scopes on Linux.
	Backend string

	// Packages are extra apt packages provisioned into the sandbox (or,
	// when sandboxing is off and the host is Debian-family, onto the host).
	Packages []string

	// Timezone, when set, is exported as TZ inside sandboxed commands.
	Timezone string

	Docker AgentSandboxDockerConfig
	Prune  AgentSandboxPruneConfig
}

// AgentDefaultsConfig holds the settings new agents inherit unless
// overridden per-agent.
type AgentDefaultsConfig struct {
	Sandbox AgentSandboxConfig
}

// AgentsConfig is the root of per-agent and agents-wide settings.
type AgentsConfig struct {
	Defaults AgentDefaultsConfig
}

// SandboxToolsConfig allow/deny-lists which registered tools are routed
// through the sandbox (vs. executed directly on the host).
type SandboxToolsConfig struct {
	Allow []string
	Deny  []string
}

// ToolsSandboxConfig scopes SandboxToolsConfig under the Tools namespace.
type ToolsSandboxConfig struct {
	Tools SandboxToolsConfig
}

// ToolsConfig is the root of tool-registry policy settings.
type ToolsConfig struct {
	Sandbox ToolsSandboxConfig
}

// Config is the set of environment-populated knobs the Agent Runtime reads.
type Config struct {
	MaxIterations      int `env:"MAX_ITERATIONS" envDefault:"25"`
	MaxToolResultBytes int `env:"MAX_TOOL_RESULT_BYTES" envDefault:"8192"`
	MaxOutputBytes     int `env:"SANDBOX_MAX_OUTPUT_BYTES" envDefault:"204800"`

	Agents AgentsConfig
	Tools  ToolsConfig

	DefaultProvider  string `env:"DEFAULT_PROVIDER" envDefault:"anthropic"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicAPIBase string `env:"ANTHROPIC_API_BASE"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIAPIBase    string `env:"OPENAI_API_BASE"`

	SessionStoreDriver string `env:"SESSION_STORE_DRIVER" envDefault:"sqlite"`
	SessionStoreDSN    string `env:"SESSION_STORE_DSN" envDefault:"loomgate.db"`

	TracingEndpoint string `env:"TRACING_ENDPOINT"`
	MetricsAddr     string `env:"METRICS_ADDR" envDefault:":9090"`
}

// IntPtr returns a pointer to v, for populating the optional *int fields of
// AgentSandboxPruneConfig.
func IntPtr(v int) *int {
	return &v
}

// DefaultConfig returns a Config populated with the same defaults Load()
// would apply from an empty environment. Callers that build a Config by
// hand (tests, and callers composing config before a Load() call) start
// from this rather than a bare zero value, since the sandbox's nested
// Agents/Tools settings have no env tags of their own.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:      25,
		MaxToolResultBytes: 8192,
		MaxOutputBytes:     204800,
		Agents: AgentsConfig{
			Defaults: AgentDefaultsConfig{
				Sandbox: AgentSandboxConfig{
					Mode:            string(SandboxModeAll),
					Scope:           "agent",
					WorkspaceAccess: string(WorkspaceAccessNone),
					WorkspaceRoot:   "~/.loomgate/sandboxes",
					Backend:         "auto",
					Docker: AgentSandboxDockerConfig{
						Image:           "debian:bookworm-slim",
						ContainerPrefix: "loomgate-sandbox-",
						Network:         "none",
					},
					Prune: AgentSandboxPruneConfig{
						IdleHours:  IntPtr(24),
						MaxAgeDays: IntPtr(7),
					},
				},
			},
		},
		DefaultProvider:    "anthropic",
		SessionStoreDriver: "sqlite",
		SessionStoreDSN:    "loomgate.db",
		MetricsAddr:        ":9090",
	}
}

// Load populates a Config from the process environment, applying defaults
// for anything unset. The nested Agents/Tools sandbox policy is seeded from
// DefaultConfig() first since those fields carry no env tags of their own.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

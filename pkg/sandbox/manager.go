package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loomgate/loomgate/internal/infra"
	"github.com/loomgate/loomgate/pkg/config"
	"github.com/loomgate/loomgate/pkg/routing"
)

// NewFromConfig builds a sandbox Manager from config and starts it before returning.
func NewFromConfig(workspace string, restrict bool, cfg *config.Config) Manager {
	return NewFromConfigWithAgent(workspace, restrict, cfg, routing.DefaultAgentID)
}

// NewFromConfigWithAgent builds a sandbox Manager with an explicit agent ID context.
func NewFromConfigWithAgent(workspace string, restrict bool, cfg *config.Config, agentID string) Manager {
	mode := string(config.SandboxModeOff)
	scope := "agent"
	workspaceAccess := string(config.WorkspaceAccessNone)
	workspaceRoot := "~/.loomgate/sandboxes"
	image := "debian:bookworm-slim"
	containerPrefix := "loomgate-sandbox-"
	backend := "auto"
	pruneIdleHours := 24
	pruneMaxAgeDays := 7
	dockerCfg := config.AgentSandboxDockerConfig{}
	var packages []string
	timezone := ""

	if cfg != nil {
		sb := cfg.Agents.Defaults.Sandbox
		if strings.TrimSpace(sb.Mode) != "" {
			mode = strings.TrimSpace(sb.Mode)
		}
		if strings.TrimSpace(sb.Scope) != "" {
			scope = strings.TrimSpace(sb.Scope)
		}
		if strings.TrimSpace(sb.WorkspaceAccess) != "" {
			workspaceAccess = strings.TrimSpace(sb.WorkspaceAccess)
		}
		if strings.TrimSpace(sb.WorkspaceRoot) != "" {
			workspaceRoot = strings.TrimSpace(sb.WorkspaceRoot)
		}
		if strings.TrimSpace(sb.Docker.Image) != "" {
			image = strings.TrimSpace(sb.Docker.Image)
		}
		if strings.TrimSpace(sb.Docker.ContainerPrefix) != "" {
			containerPrefix = strings.TrimSpace(sb.Docker.ContainerPrefix)
		}
		if strings.TrimSpace(sb.Backend) != "" {
			backend = strings.TrimSpace(sb.Backend)
		}
		if sb.Prune.IdleHours != nil {
			pruneIdleHours = *sb.Prune.IdleHours
		}
		if sb.Prune.MaxAgeDays != nil {
			pruneMaxAgeDays = *sb.Prune.MaxAgeDays
		}
		dockerCfg = sb.Docker
		packages = append([]string(nil), sb.Packages...)
		timezone = strings.TrimSpace(sb.Timezone)
	}

	agentID = routing.NormalizeAgentID(agentID)
	host := NewHostSandbox(workspace, restrict)
	_ = host.Start(context.Background())

	resolvedMode := normalizeSandboxMode(mode)
	if resolvedMode == config.SandboxModeOff {
		return host
	}
	resolvedScope := normalizeSandboxScope(scope)
	normalizedAccess := string(normalizeWorkspaceAccess(config.WorkspaceAccess(workspaceAccess)))
	workspaceRootAbs := resolveAbsPath(expandHomePath(workspaceRoot))
	agentWorkspaceAbs := resolveAbsPath(workspace)

	manager := &scopedSandboxManager{
		mode:            resolvedMode,
		scope:           resolvedScope,
		agentID:         agentID,
		host:            host,
		image:           image,
		containerPrefix: containerPrefix,
		backend:         backend,
		packages:        packages,
		timezone:        timezone,
		workspaceAccess: normalizedAccess,
		workspaceRoot:   workspaceRootAbs,
		agentWorkspace:  agentWorkspaceAbs,
		pruneIdleHours:  pruneIdleHours,
		pruneMaxAgeDays: pruneMaxAgeDays,
		dockerCfg:       dockerCfg,
		scoped:          map[string]Sandbox{},
		sessionImages:   map[string]string{},
		overrides:       NewOverrideStore(),
		lifecycle:       NewLifecycleBroadcaster(),
	}
	manager.fs = &managerFS{m: manager}
	if err := manager.Start(context.Background()); err != nil {
		return NewUnavailableSandboxManager(err)
	}
	return manager
}

func normalizeWorkspaceAccess(access config.WorkspaceAccess) config.WorkspaceAccess {
	v := strings.ToLower(strings.TrimSpace(string(access)))
	switch config.WorkspaceAccess(v) {
	case config.WorkspaceAccessRO, config.WorkspaceAccessRW:
		return config.WorkspaceAccess(v)
	default:
		return config.WorkspaceAccessNone
	}
}

func normalizeSandboxMode(mode string) config.SandboxMode {
	switch config.SandboxMode(strings.ToLower(strings.TrimSpace(mode))) {
	case config.SandboxModeAll, config.SandboxModeNonMain:
		return config.SandboxMode(strings.ToLower(strings.TrimSpace(mode)))
	default:
		return config.SandboxModeOff
	}
}

func normalizeSandboxScope(scope string) string {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "session", "shared":
		return strings.ToLower(strings.TrimSpace(scope))
	default:
		return "agent"
	}
}

func expandHomePath(p string) string {
	raw := strings.TrimSpace(p)
	if raw == "" {
		return raw
	}
	if raw == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(raw, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, raw[2:])
	}
	return raw
}

func resolveAbsPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return trimmed
	}
	return abs
}

// scopedSandboxManager routes execution to a host sandbox or one of several
// lazily-created container sandboxes, keyed by session/agent scope.
type scopedSandboxManager struct {
	mode            config.SandboxMode
	scope           string
	agentID         string
	host            Sandbox
	image           string
	containerPrefix string
	backend         string
	packages        []string
	timezone        string
	workspaceAccess string
	workspaceRoot   string
	agentWorkspace  string
	pruneIdleHours  int
	pruneMaxAgeDays int
	dockerCfg       config.AgentSandboxDockerConfig

	mu     sync.Mutex
	scoped map[string]Sandbox
	fs     FsBridge

	// imageMu guards the per-session and runtime-global image overrides
	// consulted by ResolveImage; decisions read-lock, mutations write-lock.
	imageMu       sync.RWMutex
	sessionImages map[string]string
	globalImage   string

	overrides *OverrideStore
	lifecycle *LifecycleBroadcaster

	loopMu   sync.Mutex
	loopStop context.CancelFunc
	loopDone chan struct{}
}

// Subscribe registers a listener for this manager's sandbox lifecycle
// events (provisioning/provisioned/provision-failed), per §4.4.5.
func (m *scopedSandboxManager) Subscribe() (<-chan LifecycleEvent, func()) {
	return m.lifecycle.Subscribe()
}

// SetOverride pins whether sessionKey is sandboxed, independent of mode,
// until RemoveOverride is called. It implements §4.4.1's per-session
// override.
func (m *scopedSandboxManager) SetOverride(sessionKey string, v bool) {
	m.overrides.SetOverride(m.normalizeSessionKey(sessionKey), v)
}

// RemoveOverride clears a prior SetOverride for sessionKey.
func (m *scopedSandboxManager) RemoveOverride(sessionKey string) {
	m.overrides.RemoveOverride(m.normalizeSessionKey(sessionKey))
}

// IsSandboxed reports whether sessionKey would currently be routed through
// a sandbox, honoring any override set via SetOverride.
func (m *scopedSandboxManager) IsSandboxed(sessionKey string) bool {
	return m.shouldSandboxKey(m.normalizeSessionKey(sessionKey))
}

// SetImageOverride pins the sandbox image used when provisioning for
// sessionKey, superseding the runtime-global and config images.
func (m *scopedSandboxManager) SetImageOverride(sessionKey, image string) {
	key := m.normalizeSessionKey(sessionKey)
	m.imageMu.Lock()
	defer m.imageMu.Unlock()
	if strings.TrimSpace(image) == "" {
		delete(m.sessionImages, key)
		return
	}
	m.sessionImages[key] = strings.TrimSpace(image)
}

// RemoveImageOverride clears a prior SetImageOverride for sessionKey.
func (m *scopedSandboxManager) RemoveImageOverride(sessionKey string) {
	key := m.normalizeSessionKey(sessionKey)
	m.imageMu.Lock()
	defer m.imageMu.Unlock()
	delete(m.sessionImages, key)
}

// SetGlobalImage sets (or, with an empty string, clears) the runtime-wide
// image override that beats the config image for every session without its
// own override.
func (m *scopedSandboxManager) SetGlobalImage(image string) {
	m.imageMu.Lock()
	defer m.imageMu.Unlock()
	m.globalImage = strings.TrimSpace(image)
}

// ResolveImage picks the image a sandbox provisioned for sessionKey should
// run, highest priority first: an explicit skill image, the per-session
// override, the runtime-global override, the config image, then
// DefaultSandboxImage.
func (m *scopedSandboxManager) ResolveImage(sessionKey, skillImage string) string {
	if strings.TrimSpace(skillImage) != "" {
		return strings.TrimSpace(skillImage)
	}
	key := m.normalizeSessionKey(sessionKey)
	m.imageMu.RLock()
	defer m.imageMu.RUnlock()
	if img, ok := m.sessionImages[key]; ok {
		return img
	}
	if m.globalImage != "" {
		return m.globalImage
	}
	if strings.TrimSpace(m.image) != "" {
		return strings.TrimSpace(m.image)
	}
	return DefaultSandboxImage
}

// CleanupSession reclaims the sandbox provisioned for sessionKey (including
// every generation name its backend may have rotated through) and clears
// the session's sandbox and image overrides.
func (m *scopedSandboxManager) CleanupSession(ctx context.Context, sessionKey string) error {
	key := m.normalizeSessionKey(sessionKey)
	scopeKey := m.scopeKeyForSession(key)

	m.mu.Lock()
	sb, ok := m.scoped[scopeKey]
	if ok {
		delete(m.scoped, scopeKey)
	}
	m.mu.Unlock()

	m.overrides.RemoveOverride(key)
	m.RemoveImageOverride(key)

	if !ok {
		return nil
	}
	return sb.Prune(ctx)
}

func (m *scopedSandboxManager) Start(ctx context.Context) error {
	if m.mode == config.SandboxModeOff {
		return nil
	}
	if _, err := m.getOrCreateSandbox(ctx, m.defaultScopeKey()); err != nil {
		return err
	}
	m.ensurePruneLoop()
	return nil
}

func (m *scopedSandboxManager) Prune(ctx context.Context) error {
	m.stopPruneLoop(ctx)

	m.mu.Lock()
	scoped := make([]Sandbox, 0, len(m.scoped))
	for _, sb := range m.scoped {
		scoped = append(scoped, sb)
	}
	m.mu.Unlock()

	var firstErr error
	for _, sb := range scoped {
		if err := sb.Prune(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *scopedSandboxManager) ensurePruneLoop() {
	if m.pruneIdleHours <= 0 && m.pruneMaxAgeDays <= 0 {
		return
	}
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopStop != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopStop = cancel
	m.loopDone = done

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = m.pruneOnce(loopCtx)
			}
		}
	}()
}

func (m *scopedSandboxManager) stopPruneLoop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.loopMu.Lock()
	stop := m.loopStop
	done := m.loopDone
	m.loopStop = nil
	m.loopDone = nil
	m.loopMu.Unlock()
	if stop == nil {
		return
	}
	stop()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *scopedSandboxManager) pruneOnce(ctx context.Context) error {
	if m.pruneIdleHours <= 0 && m.pruneMaxAgeDays <= 0 {
		return nil
	}

	regPath := filepath.Join(infra.ResolveHomeDir(), "sandbox", defaultSandboxRegistryFile)
	registryMu.Lock()
	data, err := loadRegistry(regPath)
	registryMu.Unlock()
	if err != nil {
		return err
	}

	pruneCfg := ContainerSandboxConfig{
		PruneIdleHours:  m.pruneIdleHours,
		PruneMaxAgeDays: m.pruneMaxAgeDays,
	}
	now := time.Now().UnixMilli()

	m.mu.Lock()
	byContainer := make(map[string]Sandbox, len(m.scoped))
	for _, sb := range m.scoped {
		if containerSb, ok := sb.(*ContainerSandbox); ok {
			byContainer[containerSb.cfg.ContainerName] = sb
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, entry := range data.Entries {
		if !shouldPruneEntry(pruneCfg, now, entry) {
			continue
		}
		if sb, ok := byContainer[entry.ContainerName]; ok {
			if err := sb.Prune(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := stopAndRemoveContainerByName(ctx, entry.ContainerName); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := removeRegistryEntry(regPath, entry.ContainerName); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (m *scopedSandboxManager) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if !m.shouldSandbox(ctx) {
		return m.host.Exec(ctx, req)
	}
	sb, err := m.getOrCreateSandbox(ctx, m.scopeKeyFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return sb.Exec(ctx, req)
}

func (m *scopedSandboxManager) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	if !m.shouldSandbox(ctx) {
		return m.host.ExecStream(ctx, req, onEvent)
	}
	sb, err := m.getOrCreateSandbox(ctx, m.scopeKeyFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return sb.ExecStream(ctx, req, onEvent)
}

func (m *scopedSandboxManager) Fs() FsBridge {
	return m.fs
}

// Resolve returns the concrete sandbox (host or scoped container) that Exec
// would route to for ctx, creating the container lazily if needed.
func (m *scopedSandboxManager) Resolve(ctx context.Context) (Sandbox, error) {
	if !m.shouldSandbox(ctx) {
		return m.host, nil
	}
	return m.getOrCreateSandbox(ctx, m.scopeKeyFromContext(ctx))
}

// GetWorkspace reports the workspace path the sandbox resolved for ctx would
// use; it delegates to the host or to the scoped container/host sandbox.
func (m *scopedSandboxManager) GetWorkspace(ctx context.Context) string {
	sb, err := m.Resolve(ctx)
	if err != nil || sb == nil {
		return ""
	}
	return getWorkspaceOf(sb, ctx)
}

func getWorkspaceOf(sb Sandbox, ctx context.Context) string {
	type workspaceGetter interface {
		GetWorkspace(ctx context.Context) string
	}
	if wg, ok := sb.(workspaceGetter); ok {
		return wg.GetWorkspace(ctx)
	}
	return ""
}

func (m *scopedSandboxManager) shouldSandbox(ctx context.Context) bool {
	return m.shouldSandboxKey(m.normalizeSessionKey(SessionKeyFromContext(ctx)))
}

// shouldSandboxKey implements §4.4.1's per-session override resolution: an
// override set via SetOverride wins regardless of mode; otherwise the
// decision derives from mode exactly as before (Off -> false, All -> true,
// NonMain -> key != main).
func (m *scopedSandboxManager) shouldSandboxKey(sessionKey string) bool {
	if v, ok := m.overrides.Lookup(sessionKey); ok {
		return v
	}
	switch m.mode {
	case config.SandboxModeAll:
		return true
	case config.SandboxModeNonMain:
		return sessionKey != m.mainSessionKey()
	default:
		return false
	}
}

func (m *scopedSandboxManager) mainSessionKey() string {
	return routing.BuildAgentMainSessionKey(m.agentID)
}

func (m *scopedSandboxManager) normalizeSessionKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	main := m.mainSessionKey()
	if trimmed == "" {
		return main
	}
	if strings.EqualFold(trimmed, "main") || strings.EqualFold(trimmed, main) {
		return main
	}
	if parsed := routing.ParseAgentSessionKey(trimmed); parsed != nil {
		if routing.NormalizeAgentID(parsed.AgentID) == m.agentID && strings.EqualFold(strings.TrimSpace(parsed.Rest), "main") {
			return main
		}
	}
	return trimmed
}

func (m *scopedSandboxManager) scopeKeyFromContext(ctx context.Context) string {
	return m.scopeKeyForSession(m.normalizeSessionKey(SessionKeyFromContext(ctx)))
}

func (m *scopedSandboxManager) scopeKeyForSession(sessionKey string) string {
	switch m.scope {
	case "shared":
		return "shared"
	case "session":
		return sessionKey
	default:
		if parsed := routing.ParseAgentSessionKey(sessionKey); parsed != nil {
			return "agent:" + routing.NormalizeAgentID(parsed.AgentID)
		}
		return "agent:" + m.agentID
	}
}

func (m *scopedSandboxManager) defaultScopeKey() string {
	return m.scopeKeyFromContext(WithSessionKey(context.Background(), m.mainSessionKey()))
}

func (m *scopedSandboxManager) getOrCreateSandbox(ctx context.Context, scopeKey string) (Sandbox, error) {
	m.mu.Lock()
	if sb, ok := m.scoped[scopeKey]; ok {
		m.mu.Unlock()
		return sb, nil
	}
	sessionKey := m.normalizeSessionKey(SessionKeyFromContext(ctx))
	sb := m.buildScopedSandbox(ctx, scopeKey, sessionKey)
	m.scoped[scopeKey] = sb
	m.mu.Unlock()

	containerName := strings.TrimSpace(m.containerPrefix) + slugScopeKey(scopeKey)
	m.lifecycle.Publish(LifecycleEvent{Kind: LifecycleProvisioning, Container: containerName, Packages: m.packages})

	if err := sb.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.scoped, scopeKey)
		m.mu.Unlock()
		m.lifecycle.Publish(LifecycleEvent{Kind: LifecycleProvisionFailed, Container: containerName, Error: err.Error()})
		return nil, err
	}
	m.lifecycle.Publish(LifecycleEvent{Kind: LifecycleProvisioned, Container: containerName})
	return sb, nil
}

func (m *scopedSandboxManager) scopedWorkspace(scopeKey string) string {
	workspace := m.agentWorkspace
	if m.workspaceAccess == string(config.WorkspaceAccessNone) || strings.TrimSpace(workspace) == "" {
		workspace = filepath.Join(m.workspaceRoot, slugScopeKey(scopeKey), "workspace")
	}
	return workspace
}

// buildScopedSandbox constructs the backend the configured (or
// auto-resolved) kind names. The Apple CLI backend is wrapped in a
// failover pair with the Docker backend whenever the Docker daemon also
// responds, so a corrupted primary runtime switches over mid-session
// instead of failing the session.
func (m *scopedSandboxManager) buildScopedSandbox(ctx context.Context, scopeKey, sessionKey string) Sandbox {
	image := m.ResolveImage(sessionKey, "")
	workspace := m.scopedWorkspace(scopeKey)
	containerName := strings.TrimSpace(m.containerPrefix) + slugScopeKey(scopeKey)

	switch m.resolveBackend(ctx) {
	case backendApple:
		if apple, ok := newAppleScopedSandbox(image, strings.TrimSpace(m.containerPrefix), containerName, workspace); ok {
			docker := m.buildScopedContainerSandbox(scopeKey, image)
			if dockerDaemonReachable(ctx, ContainerSandboxConfig{
				DockerHost:  m.dockerCfg.DockerHost,
				TLSCertPath: m.dockerCfg.TLSCertPath,
				TLSKeyPath:  m.dockerCfg.TLSKeyPath,
				TLSCAPath:   m.dockerCfg.TLSCAPath,
				TLSVerify:   m.dockerCfg.TLSVerify,
			}) {
				return NewFailoverSandbox(apple, docker)
			}
			return apple
		}
		return m.buildScopedContainerSandbox(scopeKey, image)
	case backendCgroup:
		if cg, ok := newCgroupScopedSandbox(
			strings.Trim(strings.TrimSpace(m.containerPrefix), "-"),
			workspace,
			m.dockerCfg.Memory,
			m.dockerCfg.Cpus,
			m.dockerCfg.PidsLimit,
		); ok {
			return cg
		}
		return m.buildScopedContainerSandbox(scopeKey, image)
	default:
		return m.buildScopedContainerSandbox(scopeKey, image)
	}
}

func (m *scopedSandboxManager) buildScopedContainerSandbox(scopeKey, image string) Sandbox {
	workspace := m.scopedWorkspace(scopeKey)

	env := make(map[string]string, len(m.dockerCfg.Env)+1)
	for k, v := range m.dockerCfg.Env {
		env[k] = v
	}
	if m.timezone != "" {
		env["TZ"] = m.timezone
	}

	// Extra packages are installed post-create unless the image is already
	// a pre-built sandbox tag that baked them in.
	setup := m.dockerCfg.SetupCommand
	if setup == "" && len(m.packages) > 0 && !IsSandboxImageTag(image) {
		setup = "apt-get update && apt-get install -y " + strings.Join(m.packages, " ")
	}

	return NewContainerSandbox(ContainerSandboxConfig{
		Image:           image,
		ContainerName:   strings.TrimSpace(m.containerPrefix) + slugScopeKey(scopeKey),
		ContainerPrefix: m.containerPrefix,
		Workspace:       workspace,
		AgentWorkspace:  m.agentWorkspace,
		WorkspaceAccess: m.workspaceAccess,
		WorkspaceRoot:   m.workspaceRoot,
		PruneIdleHours:  m.pruneIdleHours,
		PruneMaxAgeDays: m.pruneMaxAgeDays,
		Workdir:         m.dockerCfg.Workdir,
		ReadOnlyRoot:    m.dockerCfg.ReadOnlyRoot,
		Tmpfs:           m.dockerCfg.Tmpfs,
		Network:         m.dockerCfg.Network,
		User:            m.dockerCfg.User,
		CapDrop:         m.dockerCfg.CapDrop,
		Env:             env,
		SetupCommand:    setup,
		PidsLimit:       m.dockerCfg.PidsLimit,
		Memory:          m.dockerCfg.Memory,
		MemorySwap:      m.dockerCfg.MemorySwap,
		Cpus:            m.dockerCfg.Cpus,
		Ulimits:         m.dockerCfg.Ulimits,
		SeccompProfile:  m.dockerCfg.SeccompProfile,
		ApparmorProfile: m.dockerCfg.ApparmorProfile,
		DNS:             m.dockerCfg.DNS,
		ExtraHosts:      m.dockerCfg.ExtraHosts,
		Binds:           m.dockerCfg.Binds,
		DockerHost:      m.dockerCfg.DockerHost,
		TLSCertPath:     m.dockerCfg.TLSCertPath,
		TLSKeyPath:      m.dockerCfg.TLSKeyPath,
		TLSCAPath:       m.dockerCfg.TLSCAPath,
		TLSVerify:       m.dockerCfg.TLSVerify,
	})
}

type managerFS struct {
	m *scopedSandboxManager
}

func (f *managerFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if !f.m.shouldSandbox(ctx) {
		return f.m.host.Fs().ReadFile(ctx, path)
	}
	sb, err := f.m.getOrCreateSandbox(ctx, f.m.scopeKeyFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return sb.Fs().ReadFile(ctx, path)
}

func (f *managerFS) WriteFile(ctx context.Context, path string, data []byte, mkdir bool) error {
	if !f.m.shouldSandbox(ctx) {
		return f.m.host.Fs().WriteFile(ctx, path, data, mkdir)
	}
	sb, err := f.m.getOrCreateSandbox(ctx, f.m.scopeKeyFromContext(ctx))
	if err != nil {
		return err
	}
	return sb.Fs().WriteFile(ctx, path, data, mkdir)
}

func (f *managerFS) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if !f.m.shouldSandbox(ctx) {
		return f.m.host.Fs().ReadDir(ctx, path)
	}
	sb, err := f.m.getOrCreateSandbox(ctx, f.m.scopeKeyFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return sb.Fs().ReadDir(ctx, path)
}

// hostOnlyManager wraps a HostSandbox so it satisfies Manager when sandboxing
// is disabled entirely; Resolve always returns the same host instance.
type hostOnlyManager struct {
	host Sandbox
}

func (m *hostOnlyManager) Start(ctx context.Context) error { return m.host.Start(ctx) }
func (m *hostOnlyManager) Prune(ctx context.Context) error { return m.host.Prune(ctx) }
func (m *hostOnlyManager) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return m.host.Exec(ctx, req)
}
func (m *hostOnlyManager) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	return m.host.ExecStream(ctx, req, onEvent)
}
func (m *hostOnlyManager) Fs() FsBridge { return m.host.Fs() }
func (m *hostOnlyManager) Resolve(ctx context.Context) (Sandbox, error) {
	return m.host, nil
}
func (m *hostOnlyManager) GetWorkspace(ctx context.Context) string {
	return getWorkspaceOf(m.host, ctx)
}

// unavailableSandboxManager is returned when the configured sandbox mode
// requires containers but the backend failed to start (e.g. no Docker
// daemon). Every operation fails with the original cause, except Prune,
// which is a safe no-op since there is nothing to reclaim.
type unavailableSandboxManager struct {
	err error
}

// NewUnavailableSandboxManager wraps reason as a Manager that always reports
// the sandbox as unavailable.
func NewUnavailableSandboxManager(reason error) *unavailableSandboxManager {
	if reason == nil {
		reason = errors.New("sandbox unavailable")
	}
	return &unavailableSandboxManager{err: reason}
}

func (m *unavailableSandboxManager) Start(ctx context.Context) error { return m.err }
func (m *unavailableSandboxManager) Prune(ctx context.Context) error { return nil }
func (m *unavailableSandboxManager) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return nil, m.err
}
func (m *unavailableSandboxManager) ExecStream(ctx context.Context, req ExecRequest, onEvent func(ExecEvent) error) (*ExecResult, error) {
	return nil, m.err
}
func (m *unavailableSandboxManager) Fs() FsBridge { return &unavailableFS{err: m.err} }
func (m *unavailableSandboxManager) Resolve(ctx context.Context) (Sandbox, error) {
	return nil, m.err
}
func (m *unavailableSandboxManager) GetWorkspace(ctx context.Context) string { return "" }

type unavailableFS struct {
	err error
}

func (f *unavailableFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return nil, f.err
}
func (f *unavailableFS) WriteFile(ctx context.Context, path string, data []byte, mkdir bool) error {
	return f.err
}
func (f *unavailableFS) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	return nil, f.err
}

// slugScopeKey sanitizes a scope key for use in a container name: every
// character outside [A-Za-z0-9_.-] maps to '-', case and length preserved,
// so the full name is always <prefix>-<sanitized-key>[-g<generation>].
func slugScopeKey(scopeKey string) string {
	raw := strings.TrimSpace(scopeKey)
	if raw == "" {
		return "default"
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

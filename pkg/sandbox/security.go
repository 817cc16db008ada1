package sandbox

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var blockedHostPaths = []string{
	"/boot",
	"/dev",
	"/etc",
	"/private/etc",
	"/private/var/run",
	"/private/var/run/docker.sock",
	"/proc",
	"/root",
	"/run",
	"/run/containerd",
	"/run/crio",
	"/run/docker.sock",
	"/run/podman",
	"/run/user",
	"/sys",
	"/tmp/podman.sock",
	"/var/run",
	"/var/run/containerd",
	"/var/run/crio",
	"/var/run/docker.sock",
	"/xdg_runtime_dir",
}

var blockedHostPathSuffixes = []string{
	"/.docker/run/docker.sock",
	"/.docker/desktop/docker.sock",
	"/.colima/default/docker.sock",
	"/.rd/docker.sock",
}

// blockedEnvVarPatterns keys off the credentials the Agent Runtime itself
// holds (config.Config's provider keys, the session store DSN, and any
// OTLP exporter auth header) plus a catch-all suffix match, so a tool
// running with the process's own environ never sees the secrets that
// authenticate loomgate to its own dependencies.
var blockedEnvVarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^ANTHROPIC_API_KEY$`),
	regexp.MustCompile(`(?i)^OPENAI_API_KEY$`),
	regexp.MustCompile(`(?i)^SESSION_STORE_DSN$`),
	regexp.MustCompile(`(?i)^(OTEL|TRACING)_EXPORTER_OTLP_HEADERS$`),
	regexp.MustCompile(`(?i)^AWS_(SECRET_ACCESS_KEY|SECRET_KEY|SESSION_TOKEN)$`),
	regexp.MustCompile(`(?i)^(GH|GITHUB)_TOKEN$`),
	regexp.MustCompile(`(?i)_?(API_KEY|TOKEN|PASSWORD|PRIVATE_KEY|SECRET|DSN)$`),
}

func validateSandboxSecurity(cfg ContainerSandboxConfig) error {
	if err := validateBindMounts(cfg.Binds); err != nil {
		return err
	}
	if err := validateNetworkMode(cfg.Network); err != nil {
		return err
	}
	if err := validateSeccompProfile(cfg.SeccompProfile); err != nil {
		return err
	}
	if err := validateApparmorProfile(cfg.ApparmorProfile); err != nil {
		return err
	}
	return nil
}

func validateBindMounts(binds []string) error {
	for _, raw := range binds {
		bind := strings.TrimSpace(raw)
		if bind == "" {
			continue
		}
		source := parseBindSourcePath(bind)
		if !strings.HasPrefix(source, "/") {
			return fmt.Errorf("sandbox security: bind mount %q uses a non-absolute source path %q", bind, source)
		}
		normalized := normalizeHostPath(source)
		if err := validateBindSourcePath(bind, normalized); err != nil {
			return err
		}
		if resolvedPath := tryRealpathAbsolute(normalized); resolvedPath != normalized {
			if err := validateBindSourcePath(bind, resolvedPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateBindSourcePath(bind, source string) error {
	if source == "/" {
		return fmt.Errorf("sandbox security: bind mount %q covers blocked path %q", bind, "/")
	}
	for _, blocked := range blockedHostPaths {
		if source == blocked || strings.HasPrefix(source, blocked+"/") {
			return fmt.Errorf("sandbox security: bind mount %q targets blocked path %q", bind, blocked)
		}
	}
	for _, suffix := range blockedHostPathSuffixes {
		if source == suffix || strings.HasSuffix(source, suffix) {
			return fmt.Errorf("sandbox security: bind mount %q targets blocked path suffix %q", bind, suffix)
		}
	}
	isSocket, err := isUnixSocketPath(source)
	if err != nil {
		return fmt.Errorf("sandbox security: bind mount %q source %q cannot be validated: %w", bind, source, err)
	}
	if isSocket {
		return fmt.Errorf("sandbox security: bind mount %q targets unix socket %q", bind, source)
	}
	return nil
}

func parseBindSourcePath(bind string) string {
	trimmed := strings.TrimSpace(bind)
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return trimmed
	}
	return trimmed[:idx]
}

func normalizeHostPath(raw string) string {
	normalized := path.Clean(strings.TrimSpace(raw))
	if normalized == "." || normalized == "" {
		return "/"
	}
	if normalized != "/" {
		normalized = strings.TrimRight(normalized, "/")
		if normalized == "" {
			return "/"
		}
	}
	return normalized
}

func tryRealpathAbsolute(p string) string {
	if !strings.HasPrefix(p, "/") {
		return p
	}
	if _, err := os.Stat(p); err != nil {
		return p
	}
	resolved, err := filepathEvalSymlinks(p)
	if err != nil {
		return p
	}
	return normalizeHostPath(resolved)
}

func validateNetworkMode(network string) error {
	if strings.EqualFold(strings.TrimSpace(network), "host") {
		return fmt.Errorf("sandbox security: network mode %q is blocked", network)
	}
	return nil
}

func validateSeccompProfile(profile string) error {
	if strings.EqualFold(strings.TrimSpace(profile), "unconfined") {
		return fmt.Errorf("sandbox security: seccomp profile %q is blocked", profile)
	}
	return nil
}

func validateApparmorProfile(profile string) error {
	if strings.EqualFold(strings.TrimSpace(profile), "unconfined") {
		return fmt.Errorf("sandbox security: apparmor profile %q is blocked", profile)
	}
	return nil
}

func sanitizeEnvVars(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for rawKey, value := range in {
		key := strings.TrimSpace(rawKey)
		if key == "" {
			continue
		}
		if isBlockedEnvVarKey(key) {
			continue
		}
		if strings.Contains(value, "\x00") {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isBlockedEnvVarKey(key string) bool {
	for _, pattern := range blockedEnvVarPatterns {
		if pattern.MatchString(key) {
			return true
		}
	}
	return false
}

var filepathEvalSymlinks = func(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

var osLstat = func(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

func isUnixSocketPath(p string) (bool, error) {
	fi, err := osLstat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.Mode()&os.ModeSocket != 0, nil
}

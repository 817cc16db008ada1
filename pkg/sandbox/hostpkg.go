// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/loomgate/loomgate/pkg/logger"
)

// aptPackageCandidates returns the literal package name plus the alias
// variants worth trying, in priority order, before giving up on it.
// Debian's 64-bit time_t transition renamed a swath of runtime libraries
// with a "t64" suffix (e.g. libc6 -> libc6t64 on some releases, and the
// reverse on others); trying both directions plus a bare "lib" prefix
// variant resolves most of the apt-get aliasing a hand-written package
// list runs into across Debian/Ubuntu releases.
func aptPackageCandidates(name string) []string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil
	}
	candidates := []string{trimmed}
	if strings.HasSuffix(trimmed, "t64") {
		candidates = append(candidates, strings.TrimSuffix(trimmed, "t64"))
	} else {
		candidates = append(candidates, trimmed+"t64")
	}
	if !strings.HasPrefix(trimmed, "lib") {
		candidates = append(candidates, "lib"+trimmed)
	}
	return candidates
}

// AptCandidateLookup resolves whether a named package (or one of its
// aliases) is installable, used to pick the first workable candidate name
// for a package before handing it to apt-get install.
type AptCandidateLookup func(ctx context.Context, candidate string) bool

// ResolveAptPackage picks the first of a package's alias candidates that
// lookup reports as installable. It returns ("", false) when none resolve,
// the caller's cue to skip the package with a warning rather than fail the
// whole provisioning run.
func ResolveAptPackage(ctx context.Context, name string, lookup AptCandidateLookup) (string, bool) {
	for _, candidate := range aptPackageCandidates(name) {
		if lookup(ctx, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// aptCachePolicyLookup shells out to `apt-cache policy` to test whether a
// candidate package name is known to the configured apt sources.
func aptCachePolicyLookup(ctx context.Context, candidate string) bool {
	out, err := exec.CommandContext(ctx, "apt-cache", "policy", candidate).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Candidate:") && !strings.Contains(string(out), "Candidate: (none)")
}

// IsDebianFamilyHost reports whether the current host is Debian-family
// with apt-get available, the precondition for host package provisioning
// when sandboxing is disabled (§4.4's "Host package provisioning").
func IsDebianFamilyHost() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	if _, err := exec.LookPath("apt-get"); err != nil {
		return false
	}
	_, err := os.Stat("/etc/debian_version")
	return err == nil
}

// nonInteractiveSudoAvailable reports whether `sudo -n true` succeeds,
// meaning a sudo invocation can proceed without blocking on a password
// prompt.
func nonInteractiveSudoAvailable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "sudo", "-n", "true").Run() == nil
}

// InstallHostPackages installs packages directly on the host via apt-get,
// used only when sandboxing is disabled (config.SandboxModeOff) and the
// host is Debian-family. Unresolvable aliases are skipped with a warning;
// install failures are warnings, never fatal, per §4.4.
func InstallHostPackages(ctx context.Context, packages []string) {
	if len(packages) == 0 || !IsDebianFamilyHost() {
		return
	}

	resolved := make([]string, 0, len(packages))
	for _, pkg := range packages {
		candidate, ok := ResolveAptPackage(ctx, pkg, aptCachePolicyLookup)
		if !ok {
			logger.WarnCF("sandbox", "skipping unresolvable host package", map[string]any{"package": pkg})
			continue
		}
		resolved = append(resolved, candidate)
	}
	if len(resolved) == 0 {
		return
	}

	useSudo := os.Geteuid() != 0
	if useSudo && !nonInteractiveSudoAvailable(ctx) {
		logger.WarnCF("sandbox", "skipping host package install: not root and no non-interactive sudo", nil)
		return
	}

	args := []string{"apt-get", "install", "-y"}
	args = append(args, resolved...)
	var cmd *exec.Cmd
	if useSudo {
		cmd = exec.CommandContext(ctx, "sudo", append([]string{"-n"}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, args[0], args[1:]...)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.WarnCF("sandbox", "host package install failed", map[string]any{
			"packages": resolved, "error": err.Error(), "output": string(out),
		})
	}
}

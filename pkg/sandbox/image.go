// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// sandboxImageSuffix marks images this package considers its own, as
// opposed to arbitrary base images (debian:bookworm-slim, etc.) a caller
// might also have pulled.
const sandboxImageSuffix = "-sandbox"

// ImageTag derives a deterministic tag for a sandbox image built from base
// plus an extra package set. The hash only depends on the *set* of
// packages, not their order, so repeated resolution against the same
// (repo, base, packages) always names the same image regardless of how the
// caller assembled the package list.
func ImageTag(repo, base string, packages []string) string {
	sorted := append([]string(nil), packages...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte("v4"))
	h.Write([]byte(repo))
	h.Write([]byte(base))
	for _, pkg := range sorted {
		h.Write([]byte(pkg))
	}
	sum := h.Sum(nil)
	return repo + ":" + strings.ToLower(hex.EncodeToString(sum))[:16]
}

// IsSandboxImageTag reports whether ref names an image this package built,
// recognized by the "-sandbox" repo suffix convention used by ImageTag's
// repo argument (e.g. "loomgate-sandbox:deadbeefdeadbeef").
func IsSandboxImageTag(ref string) bool {
	repo, _, ok := strings.Cut(ref, ":")
	if !ok {
		return false
	}
	return strings.HasSuffix(repo, sandboxImageSuffix)
}

// FilterSandboxImages returns the subset of refs that are sandbox-built
// images, for a backend's "list local images" operation.
func FilterSandboxImages(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if IsSandboxImageTag(ref) {
			out = append(out, ref)
		}
	}
	return out
}

// ErrNotSandboxImage is returned by RemoveImage-style callers when asked to
// remove an image ref that ImageTag did not derive.
var ErrNotSandboxImage = sandboxImageRemovalError("refusing to remove non-sandbox image")

type sandboxImageRemovalError string

func (e sandboxImageRemovalError) Error() string { return string(e) }

// CheckRemovable returns ErrNotSandboxImage unless ref is a sandbox-built
// image tag, guarding backends' image-removal paths against deleting a
// caller's own unrelated images.
func CheckRemovable(ref string) error {
	if !IsSandboxImageTag(ref) {
		return ErrNotSandboxImage
	}
	return nil
}

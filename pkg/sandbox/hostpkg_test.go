package sandbox

import (
	"context"
	"testing"
)

func TestAptPackageCandidates_T64Variants(t *testing.T) {
	candidates := aptPackageCandidates("libfoo1")
	if candidates[0] != "libfoo1" {
		t.Fatalf("expected literal name first, got %v", candidates)
	}
	found := false
	for _, c := range candidates {
		if c == "libfoo1t64" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected t64 suffix variant among candidates, got %v", candidates)
	}
}

func TestAptPackageCandidates_StripsT64Suffix(t *testing.T) {
	candidates := aptPackageCandidates("libbar2t64")
	found := false
	for _, c := range candidates {
		if c == "libbar2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected t64-stripped variant among candidates, got %v", candidates)
	}
}

func TestResolveAptPackage_SkipsWhenNoneResolve(t *testing.T) {
	_, ok := ResolveAptPackage(context.Background(), "totally-unknown-pkg", func(ctx context.Context, candidate string) bool {
		return false
	})
	if ok {
		t.Fatal("expected resolution to fail when no candidate is installable")
	}
}

func TestResolveAptPackage_PicksFirstInstallableCandidate(t *testing.T) {
	got, ok := ResolveAptPackage(context.Background(), "libfoo1", func(ctx context.Context, candidate string) bool {
		return candidate == "libfoo1t64"
	})
	if !ok || got != "libfoo1t64" {
		t.Fatalf("expected libfoo1t64 to resolve, got %q, %v", got, ok)
	}
}

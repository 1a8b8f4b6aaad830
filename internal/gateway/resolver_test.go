package gateway

import (
	"slices"
	"strings"
	"testing"
)

func TestCandidates_LoopbackExpansion(t *testing.T) {
	got := Candidates("http://localhost:1234/v1")

	if got[0] != "http://localhost:1234/v1" {
		t.Errorf("configured URL must come first, got %q", got[0])
	}

	for _, want := range []string{
		"http://localhost:1234/v1",
		"http://127.0.0.1:1234/v1",
		"http://127.0.0.1:1234/api/v0",
		"http://[::1]:1234/v1",
		"http://localhost:1234",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("candidates missing %q: %v", want, got)
		}
	}

	seen := make(map[string]bool)
	for _, c := range got {
		if seen[c] {
			t.Errorf("duplicate candidate %q", c)
		}
		seen[c] = true
	}
}

func TestCandidates_NonLoopbackHostNotExpanded(t *testing.T) {
	got := Candidates("http://workstation.lan:8080/v1")

	if got[0] != "http://workstation.lan:8080/v1" {
		t.Errorf("configured URL must come first, got %q", got[0])
	}
	for _, c := range got {
		if strings.Contains(c, "localhost") || strings.Contains(c, "127.0.0.1") || strings.Contains(c, "::1") {
			t.Errorf("unexpected loopback candidate %q for non-loopback input", c)
		}
	}
}

func TestCandidates_IPv6PortReattachment(t *testing.T) {
	got := Candidates("http://[::1]:1234/v1")

	if got[0] != "http://[::1]:1234/v1" {
		t.Errorf("expected bracketed IPv6 host preserved, got %q", got[0])
	}
	if !slices.Contains(got, "http://127.0.0.1:1234/v1") {
		t.Errorf("IPv6 loopback should expand to IPv4 candidates: %v", got)
	}
}

func TestCandidates_APIv0RootStripping(t *testing.T) {
	got := Candidates("http://localhost:1234/api/v0")

	for _, want := range []string{
		"http://localhost:1234/api/v0",
		"http://localhost:1234/v1",
		"http://localhost:1234",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("candidates missing %q: %v", want, got)
		}
	}
}

func TestCandidates_TrailingSlashStripped(t *testing.T) {
	got := Candidates("http://localhost:1234/v1/")
	if got[0] != "http://localhost:1234/v1" {
		t.Errorf("trailing slash should be stripped, got %q", got[0])
	}
}

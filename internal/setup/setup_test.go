package setup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVerifyReportsEveryCheck(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	cacheDir := filepath.Join(t.TempDir(), "cache")
	checks, err := Verify(cacheDir)
	if err == nil {
		t.Fatalf("expected missing tools to fail verification")
	}
	if len(checks) != len(RequiredTools)+1 {
		t.Fatalf("expected %d checks, got %d", len(RequiredTools)+1, len(checks))
	}
	for _, tool := range RequiredTools {
		if !strings.Contains(err.Error(), tool) {
			t.Fatalf("error %q does not name %s", err, tool)
		}
	}
	if last := checks[len(checks)-1]; last.Err != nil {
		t.Fatalf("cache check failed: %v", last.Err)
	}
	if info, err := os.Stat(cacheDir); err != nil || !info.IsDir() {
		t.Fatalf("cache directory not created: %v", err)
	}
}

func TestVerifyFindsTools(t *testing.T) {
	bin := t.TempDir()
	for _, tool := range RequiredTools {
		if err := os.WriteFile(filepath.Join(bin, tool), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatalf("write %s: %v", tool, err)
		}
	}
	t.Setenv("PATH", bin)

	if _, err := Verify(t.TempDir()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestDefaultsFollowXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_CACHE_HOME", "/xdg/cache")

	if got := DefaultConfigFile(); got != "/xdg/config/linux-system-roles.json" {
		t.Fatalf("DefaultConfigFile() = %q", got)
	}
	if got := DefaultCacheDir(); got != "/xdg/cache/linux-system-roles" {
		t.Fatalf("DefaultCacheDir() = %q", got)
	}
}

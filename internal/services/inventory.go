package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultInventoryURL is the dynamic inventory that boots qcow2 guests.
	DefaultInventoryURL = "https://pagure.io/fork/rmeggins/standard-test-roles/raw/linux-system-roles/f/inventory/standard-inventory-qcow2"
	// SystemInventory is used when a remote inventory cannot be downloaded.
	SystemInventory = "/usr/share/ansible/inventory/standard-inventory-qcow2"

	inventoryFileName = "standard-inventory-qcow2"
)

// inventoryScript returns a local inventory for source. Remote sources are
// downloaded into workDir and made executable; any failure falls back to
// SystemInventory.
func (s *RunService) inventoryScript(ctx context.Context, source, workDir string) string {
	if !strings.HasPrefix(source, "http") {
		return source
	}
	logger := s.logger().With("inventory", source)

	target := filepath.Join(workDir, inventoryFileName)
	if err := s.downloadInventory(ctx, source, target); err != nil {
		logger.Warn("inventory download failed; using system inventory", "error", err, "fallback", SystemInventory)
		return SystemInventory
	}
	logger.Debug("downloaded inventory", "path", target)
	return target
}

func (s *RunService) downloadInventory(ctx context.Context, source, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("create inventory request: %w", err)
	}
	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("download inventory: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download inventory: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create inventory directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create inventory file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write inventory file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close inventory file: %w", err)
	}
	// The inventory runs as an executable and the guest tooling reads it as
	// another user.
	if err := os.Chmod(target, 0o777); err != nil {
		return fmt.Errorf("chmod inventory file: %w", err)
	}
	return nil
}

// validateInventoryOutput checks the name ansible will accept for a written
// inventory: exactly "inventory" or a .yml file.
func validateInventoryOutput(path string) error {
	if path == "" {
		return nil
	}
	base := filepath.Base(path)
	if base == "inventory" || filepath.Ext(base) == ".yml" {
		return nil
	}
	return &ConfigError{
		Field:   "write-inventory",
		Message: fmt.Sprintf("%s must be named 'inventory' or must end in '.yml'", path),
	}
}

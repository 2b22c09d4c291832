package setup

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	configFileName = "linux-system-roles.json"
	cacheDirName   = "linux-system-roles"
)

// RequiredTools are the host programs a run shells out to.
var RequiredTools = []string{"qemu-img", "ansible-playbook"}

// DefaultConfigFile returns ~/.config/linux-system-roles.json, honouring
// XDG_CONFIG_HOME.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".config", configFileName)
	}
	return filepath.Join(dir, configFileName)
}

// DefaultCacheDir returns ~/.cache/linux-system-roles, honouring
// XDG_CACHE_HOME.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".cache", cacheDirName)
	}
	return filepath.Join(dir, cacheDirName)
}

// Check is the result of one host check.
type Check struct {
	Name string
	Err  error
}

// Verify checks that the required tools are on PATH and that cacheDir can
// be created and written. Every check runs; the joined error lists each
// failure.
func Verify(cacheDir string) ([]Check, error) {
	var checks []Check
	for _, tool := range RequiredTools {
		path, err := exec.LookPath(tool)
		if err != nil {
			err = fmt.Errorf("%s not found on PATH: %w", tool, err)
		} else {
			getLogger().Debug("found host tool", "tool", tool, "path", path)
		}
		checks = append(checks, Check{Name: tool, Err: err})
	}
	checks = append(checks, Check{Name: "cache " + cacheDir, Err: verifyWritable(cacheDir)})

	var errs []error
	for _, check := range checks {
		if check.Err != nil {
			errs = append(errs, check.Err)
		}
	}
	return checks, errors.Join(errs...)
}

func verifyWritable(dir string) error {
	if dir == "" {
		return errors.New("cache directory is not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".runqemu-verify-*")
	if err != nil {
		return fmt.Errorf("cache directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("remove probe file: %w", err)
	}
	return nil
}

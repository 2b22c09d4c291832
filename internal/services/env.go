package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/cochaviz/runqemu/internal/models"
)

// baseEnv is the environment the image and run options contribute before
// the process environment is overlaid.
func baseEnv(image models.ImageDescriptor, opts RunOptions) map[string]string {
	env := make(map[string]string, len(image.Env)+4)
	for k, v := range image.Env {
		env[k] = v
	}
	// Unparsed inventory makes ansible-playbook fail instead of running
	// against an empty host list.
	env["ANSIBLE_INVENTORY_ANY_UNPARSED_IS_FAILED"] = "true"
	if opts.Conditioning.UseYumCache {
		env["TEST_YUM_CACHE_PATHS"] = filepath.Join(opts.CacheDir, image.Name+"_yum_cache")
		env["TEST_YUM_VARLIB_PATHS"] = filepath.Join(opts.CacheDir, image.Name+"_yum_varlib")
	}
	return env
}

// finishEnv adds the guest settings, overlays the process environment and
// prepares the artifacts directory.
func finishEnv(env, process map[string]string, imageFile string, opts RunOptions) error {
	env["TEST_SUBJECTS"] = imageFile
	if opts.Debug {
		env["TEST_DEBUG"] = "true"
	}
	if opts.ImageAlias != "" {
		env["TEST_HOSTALIASES"] = opts.ImageAlias
	}
	if opts.CollectionPath != "" {
		env["ANSIBLE_COLLECTIONS_PATHS"] = opts.CollectionPath
	}
	for k, v := range process {
		env[k] = v
	}

	artifacts := opts.Artifacts
	if artifacts == "" {
		artifacts = env["TEST_ARTIFACTS"]
	}
	if artifacts == "" {
		artifacts = "artifacts"
	}
	abs, err := filepath.Abs(artifacts)
	if err != nil {
		return fmt.Errorf("resolve artifacts directory %q: %w", artifacts, err)
	}
	env["TEST_ARTIFACTS"] = abs
	if _, ok := process["ANSIBLE_LOG_PATH"]; !ok {
		env["ANSIBLE_LOG_PATH"] = filepath.Join(abs, "ansible.log")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create artifacts directory: %w", err)
	}
	return nil
}

// SplitArgs separates runner arguments from playbooks at the first "--".
// Without a separator every argument is a playbook. Later separators are
// dropped.
func SplitArgs(args []string) (runnerArgs, playbooks []string) {
	notSeparator := func(arg string, _ int) bool { return arg != "--" }
	for i, arg := range args {
		if arg == "--" {
			return append([]string(nil), args[:i]...), lo.Filter(args[i+1:], notSeparator)
		}
	}
	return nil, append([]string(nil), args...)
}

func absPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", p, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

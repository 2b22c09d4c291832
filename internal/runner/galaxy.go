package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// InstallRequirements installs the collections listed in
// <sourceDir>/meta/requirements.yml into collectionPath. It reports whether
// a requirements file was found.
func InstallRequirements(ctx context.Context, exec Executor, sourceDir, collectionPath string) (bool, error) {
	reqFile := filepath.Join(sourceDir, "meta", "requirements.yml")
	info, err := os.Stat(reqFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", reqFile, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	if collectionPath == "" {
		return true, fmt.Errorf("%s exists but no collection path is configured", reqFile)
	}

	cmd := Command{
		Path: "ansible-galaxy",
		Args: []string{"collection", "install", "-p", collectionPath, "-vv", "-r", reqFile},
	}
	if err := exec.Run(ctx, cmd); err != nil {
		return true, fmt.Errorf("install collection requirements: %w", err)
	}
	return true, nil
}

// CallbackOptions selects the output callbacks for a run.
type CallbackOptions struct {
	Pretty    bool
	Profile   bool
	TaskLimit int
	// PluginDir receives debug.py and profile_tasks.py from ansible.posix
	// and is exported as ANSIBLE_CALLBACK_PLUGINS. Empty leaves plugin
	// lookup to ansible.
	PluginDir string
}

var callbackOverrides = []string{
	"ANSIBLE_CALLBACK_PLUGINS",
	"ANSIBLE_CALLBACK_WHITELIST",
	"ANSIBLE_STDOUT_CALLBACK",
}

// ConfigureCallbacks sets the debug stdout callback and the profile_tasks
// callback in env, installing the plugins into opts.PluginDir first. Nothing
// is changed when the caller's environment already configures callbacks.
func ConfigureCallbacks(ctx context.Context, exec Executor, callerEnv, env map[string]string, opts CallbackOptions) error {
	for _, key := range callbackOverrides {
		if _, ok := callerEnv[key]; ok {
			return nil
		}
	}
	if !opts.Pretty && !opts.Profile {
		return nil
	}

	if opts.PluginDir != "" {
		if err := installCallbackPlugins(ctx, exec, opts); err != nil {
			return err
		}
		env["ANSIBLE_CALLBACK_PLUGINS"] = opts.PluginDir
	}

	if opts.Pretty {
		env["ANSIBLE_STDOUT_CALLBACK"] = "debug"
	}
	if !opts.Profile {
		return nil
	}

	supported, err := ansibleConfigKnows(ctx, exec, "ANSIBLE_CALLBACKS_ENABLED")
	if err != nil {
		return err
	}
	if supported {
		env["ANSIBLE_CALLBACKS_ENABLED"] = "profile_tasks"
	} else {
		env["ANSIBLE_CALLBACK_WHITELIST"] = "profile_tasks"
	}
	if opts.TaskLimit > -1 {
		env["PROFILE_TASKS_TASK_OUTPUT_LIMIT"] = fmt.Sprint(opts.TaskLimit)
	}
	return nil
}

// installCallbackPlugins fetches ansible.posix into a scratch directory next
// to opts.PluginDir and moves the wanted callback plugins out of it. Plugins
// already present are kept and galaxy is not called when none is missing.
func installCallbackPlugins(ctx context.Context, exec Executor, opts CallbackOptions) (err error) {
	if err := os.MkdirAll(opts.PluginDir, 0o755); err != nil {
		return fmt.Errorf("create callback plugin dir: %w", err)
	}

	var missing []string
	if opts.Pretty {
		missing = appendIfMissing(missing, opts.PluginDir, "debug.py")
	}
	if opts.Profile {
		missing = appendIfMissing(missing, opts.PluginDir, "profile_tasks.py")
	}
	if len(missing) == 0 {
		return nil
	}

	scratch, err := os.MkdirTemp(filepath.Dir(opts.PluginDir), ".runqemu-galaxy-*")
	if err != nil {
		return fmt.Errorf("create galaxy scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("remove galaxy scratch dir: %w", rmErr))
		}
	}()

	cmd := Command{
		Path: "ansible-galaxy",
		Args: []string{"collection", "install", "-p", scratch, "-vv", "ansible.posix"},
	}
	if err := exec.Run(ctx, cmd); err != nil {
		return fmt.Errorf("install ansible.posix: %w", err)
	}

	source := filepath.Join(scratch, "ansible_collections", "ansible", "posix", "plugins", "callback")
	for _, name := range missing {
		if err := os.Rename(filepath.Join(source, name), filepath.Join(opts.PluginDir, name)); err != nil {
			return fmt.Errorf("install callback plugin %s: %w", name, err)
		}
	}
	return nil
}

func appendIfMissing(names []string, dir, name string) []string {
	if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
		return names
	}
	return append(names, name)
}

func ansibleConfigKnows(ctx context.Context, exec Executor, name string) (bool, error) {
	out, err := exec.Output(ctx, Command{Path: "ansible-config", Args: []string{"list"}})
	if err != nil {
		return false, fmt.Errorf("list ansible config: %w", err)
	}
	pattern := regexp.MustCompile(`(?m)name: ` + regexp.QuoteMeta(name) + `$`)
	return pattern.Match(out), nil
}

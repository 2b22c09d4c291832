// Package runner invokes ansible-playbook and related ansible tools, and
// optionally waits for the guest process the inventory started to exit.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LockFileEnv names the variable through which the inventory reports the
// guest's process id.
const LockFileEnv = "LOCK_ON_FILE"

// Request describes one playbook run.
type Request struct {
	Inventory string
	Args      []string
	Playbooks []string
	Dir       string
	Env       map[string]string
	// Wait blocks until the guest process recorded in the lock file exits.
	Wait bool
}

// Runner runs playbooks against an inventory.
type Runner interface {
	Run(ctx context.Context, req Request) error
}

// AnsibleRunner runs ansible-playbook through an Executor.
type AnsibleRunner struct {
	Binary   string
	Executor Executor
	// LockDir holds lock files; empty means os.TempDir().
	LockDir string
	// PollInterval defaults to one second.
	PollInterval time.Duration
	// WaitTimeout bounds the wait for the guest process; zero waits forever.
	WaitTimeout time.Duration
	Logger      *slog.Logger

	alive func(pid int) (bool, error)
}

var _ Runner = (*AnsibleRunner)(nil)

// Run executes ansible-playbook -vv --inventory=<inv> <args> <playbooks>.
func (r *AnsibleRunner) Run(ctx context.Context, req Request) error {
	if len(req.Playbooks) == 0 {
		return errors.New("no playbooks to run")
	}

	env := make(map[string]string, len(req.Env)+1)
	for k, v := range req.Env {
		env[k] = v
	}

	var lockFile string
	if req.Wait {
		lockFile = filepath.Join(r.lockDir(), "runqemu-lock-"+uuid.NewString())
		env[LockFileEnv] = lockFile
	}

	args := append([]string{"-vv", "--inventory=" + req.Inventory}, req.Args...)
	args = append(args, req.Playbooks...)
	cmd := Command{Path: r.binary(), Args: args, Env: EnvList(env), Dir: req.Dir}

	logger := r.logger().With("inventory", req.Inventory, "playbooks", strings.Join(req.Playbooks, ","))
	logger.Info("running playbooks", "dir", req.Dir, "wait", req.Wait)

	if err := r.executor().Run(ctx, cmd); err != nil {
		if lockFile != "" {
			if rmErr := removeIfExists(lockFile); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
		}
		return err
	}

	if lockFile == "" {
		return nil
	}
	return r.waitOnLockFile(ctx, lockFile, logger)
}

func (r *AnsibleRunner) waitOnLockFile(ctx context.Context, lockFile string, logger *slog.Logger) error {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no guest process recorded; nothing to wait for")
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}
	if err := os.Remove(lockFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse guest pid from lock file: %w", err)
	}

	logger.Info("waiting for guest process to exit", "pid", pid)
	alive := r.alive
	if alive == nil {
		alive = ProcessAlive
	}
	if err := WaitForExit(ctx, pid, r.PollInterval, r.WaitTimeout, alive); err != nil {
		return err
	}
	logger.Info("guest process exited", "pid", pid)
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func (r *AnsibleRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "ansible-playbook"
}

func (r *AnsibleRunner) executor() Executor {
	if r.Executor != nil {
		return r.Executor
	}
	return &ExecExecutor{}
}

func (r *AnsibleRunner) lockDir() string {
	if r.LockDir != "" {
		return r.LockDir
	}
	return os.TempDir()
}

func (r *AnsibleRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

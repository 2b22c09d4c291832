// Package snapshot keeps a qcow2 copy-on-write snapshot of a cached image
// conditioned and fresh.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cochaviz/runqemu/internal/runner"
)

const (
	// DefaultMaxAge is how long a snapshot is reused before it is rebuilt.
	DefaultMaxAge = 24 * time.Hour
	// DefaultSettle is the pause after conditioning before the snapshot is used.
	DefaultSettle = time.Second
	// Suffix is appended to the image path to name its snapshot.
	Suffix = ".snap"
)

// PathFor returns the snapshot path for an image file.
func PathFor(imageFile string) string {
	return imageFile + Suffix
}

// Status is the outcome of a staleness check.
type Status struct {
	Stale  bool
	Reason string
}

// Manager checks and rebuilds snapshots.
type Manager struct {
	Executor runner.Executor
	Runner   runner.Runner
	// MaxAge defaults to DefaultMaxAge.
	MaxAge  time.Duration
	QemuImg string
	Logger  *slog.Logger

	now       func() time.Time
	changedAt func(path string) (time.Time, error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// Check reports whether snap must be rebuilt: it is missing, older than
// MaxAge, or older than its backing image. A snapshot exactly MaxAge old is
// still fresh.
func (m *Manager) Check(backing, snap string) (Status, error) {
	snapTime, err := m.changeTime(snap)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Status{Stale: true, Reason: "snapshot does not exist"}, nil
		}
		return Status{}, fmt.Errorf("stat snapshot %s: %w", snap, err)
	}

	if m.clock().Sub(snapTime) > m.maxAge() {
		return Status{Stale: true, Reason: "snapshot is too old"}, nil
	}

	backingTime, err := m.changeTime(backing)
	if err != nil {
		return Status{}, fmt.Errorf("stat backing image %s: %w", backing, err)
	}
	if snapTime.Before(backingTime) {
		return Status{Stale: true, Reason: "snapshot is older than backing image"}, nil
	}
	return Status{}, nil
}

// Refresh rebuilds snap from backing when Check says it is stale, then runs
// the conditioning playbooks in req against it and waits for the guest to
// exit. It reports whether a rebuild happened. A failed run leaves the
// snapshot as it is.
func (m *Manager) Refresh(ctx context.Context, backing, snap string, settle time.Duration, req runner.Request) (bool, error) {
	logger := m.logger().With("snapshot", snap, "backing", backing)

	status, err := m.Check(backing, snap)
	if err != nil {
		return false, err
	}
	if !status.Stale {
		logger.Info("reusing snapshot")
		return false, nil
	}
	if len(req.Playbooks) == 0 {
		return false, errors.New("snapshot refresh needs conditioning playbooks")
	}
	if m.Runner == nil {
		return false, errors.New("snapshot refresh needs a playbook runner")
	}

	logger.Info("creating snapshot", "reason", status.Reason)
	if err := m.create(ctx, backing, snap); err != nil {
		return false, err
	}

	req.Env = conditioningEnv(req.Env)
	req.Wait = true
	if err := m.Runner.Run(ctx, req); err != nil {
		return true, fmt.Errorf("condition snapshot: %w", err)
	}

	// The host can still be writing the overlay after the guest process is
	// gone, and booting it straight away has produced corrupted guests. The
	// sync plus pause is an empirical workaround, not a guarantee.
	if settle <= 0 {
		settle = DefaultSettle
	}
	logger.Info("created snapshot; waiting for disk sync", "settle", settle)
	if err := m.executor().Run(ctx, runner.Command{Path: "/bin/sync"}); err != nil {
		return true, fmt.Errorf("sync host filesystems: %w", err)
	}
	if err := m.pause(ctx, settle); err != nil {
		return true, err
	}
	return true, nil
}

// Erase removes snap if it exists.
func Erase(snap string) (bool, error) {
	if err := os.Remove(snap); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("erase snapshot %s: %w", snap, err)
	}
	return true, nil
}

func (m *Manager) create(ctx context.Context, backing, snap string) error {
	if backing == "" {
		return errors.New("backing image path is empty")
	}
	if snap == "" {
		return errors.New("snapshot path is empty")
	}

	backingAbs, err := filepath.Abs(backing)
	if err != nil {
		return fmt.Errorf("resolve backing image path %q: %w", backing, err)
	}
	if _, err := os.Stat(backingAbs); err != nil {
		return fmt.Errorf("stat backing image %q: %w", backingAbs, err)
	}
	snapAbs, err := filepath.Abs(snap)
	if err != nil {
		return fmt.Errorf("resolve snapshot path %q: %w", snap, err)
	}
	if err := os.MkdirAll(filepath.Dir(snapAbs), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory for %q: %w", snapAbs, err)
	}

	cmd := runner.Command{
		Path: m.qemuImg(),
		Args: []string{"create", "-f", "qcow2", "-b", backingAbs, "-F", "qcow2", snapAbs},
	}
	if err := m.executor().Run(ctx, cmd); err != nil {
		return fmt.Errorf("create snapshot with qemu-img: %w", err)
	}
	return nil
}

// conditioningEnv makes the guest write into the image, drops debug mode,
// and keeps conditioning artifacts apart from the test run's.
func conditioningEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out["TEST_WRITE_TO_IMAGE"] = "True"
	delete(out, "TEST_DEBUG")
	if artifacts, ok := out["TEST_ARTIFACTS"]; ok {
		out["TEST_ARTIFACTS"] = artifacts + ".snap"
	}
	return out
}

func (m *Manager) maxAge() time.Duration {
	if m.MaxAge > 0 {
		return m.MaxAge
	}
	return DefaultMaxAge
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *Manager) changeTime(path string) (time.Time, error) {
	if m.changedAt != nil {
		return m.changedAt(path)
	}
	return statusChangeTime(path)
}

func (m *Manager) pause(ctx context.Context, d time.Duration) error {
	if m.sleep != nil {
		return m.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Manager) qemuImg() string {
	if m.QemuImg != "" {
		return m.QemuImg
	}
	return "qemu-img"
}

func (m *Manager) executor() runner.Executor {
	if m.Executor != nil {
		return m.Executor
	}
	return &runner.ExecExecutor{}
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWaitTimeout is returned when the guest process outlives the wait timeout.
var ErrWaitTimeout = errors.New("timed out waiting for guest process to exit")

// ProcessAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func ProcessAlive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, fmt.Errorf("probe pid %d: %w", pid, err)
	}
}

// WaitForExit polls alive every interval until the process is gone. A
// process that is already gone returns immediately. timeout <= 0 waits
// without bound.
func WaitForExit(ctx context.Context, pid int, interval, timeout time.Duration, alive func(int) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		running, err := alive(pid)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("pid %d after %s: %w", pid, timeout, ErrWaitTimeout)
		case <-ticker.C:
		}
	}
}

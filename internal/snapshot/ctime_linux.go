//go:build linux

package snapshot

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// statusChangeTime returns the inode change time, which qemu-img create
// resets when it writes a new snapshot.
func statusChangeTime(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return time.Unix(st.Ctim.Unix()), nil
}

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Provenance keys, from the freedesktop common extended attributes.
const (
	OriginURLKey    = "user.xdg.origin.url"
	LastModifiedKey = "user.dublincore.date"
)

// ProvenanceStore keeps out-of-band key/value tags for a cached file.
// Get reports ok=false when the tag or the file is absent. Rename moves a
// file into place together with its tags.
type ProvenanceStore interface {
	Get(path, key string) (value string, ok bool, err error)
	Set(path, key, value string) error
	Rename(oldPath, newPath string) error
}

var (
	_ ProvenanceStore = XattrStore{}
	_ ProvenanceStore = SidecarStore{}
	_ ProvenanceStore = AutoStore{}
)

// XattrStore stores tags as extended attributes. They travel with the inode,
// so Rename is a single atomic os.Rename.
type XattrStore struct{}

func (XattrStore) Get(path, key string) (string, bool, error) {
	for {
		size, err := unix.Getxattr(path, key, nil)
		if err != nil {
			return "", false, missingAsAbsent(path, key, err)
		}
		if size == 0 {
			return "", true, nil
		}
		buf := make([]byte, size)
		n, err := unix.Getxattr(path, key, buf)
		if errors.Is(err, unix.ERANGE) {
			// value grew between the two calls
			continue
		}
		if err != nil {
			return "", false, missingAsAbsent(path, key, err)
		}
		return string(buf[:n]), true, nil
	}
}

func (XattrStore) Set(path, key, value string) error {
	if err := unix.Setxattr(path, key, []byte(value), 0); err != nil {
		return fmt.Errorf("set xattr %s on %s: %w", key, path, err)
	}
	return nil
}

func (XattrStore) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func missingAsAbsent(path, key string, err error) error {
	if errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return fmt.Errorf("get xattr %s on %s: %w", key, path, err)
}

// SidecarStore keeps tags in a JSON file next to the data file. It works on
// filesystems without user xattrs, but Rename is two renames and a crash
// between them leaves the data file untagged, which later reads treat as
// stale.
type SidecarStore struct{}

// SidecarSuffix is appended to a data file's path to name its sidecar.
const SidecarSuffix = ".provenance.json"

// SidecarPath returns where tags for path are kept.
func SidecarPath(path string) string {
	return path + SidecarSuffix
}

func (SidecarStore) read(path string) (map[string]string, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	tags := map[string]string{}
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SidecarPath(path), err)
	}
	return tags, nil
}

func (s SidecarStore) Get(path, key string) (string, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	tags, err := s.read(path)
	if err != nil {
		return "", false, err
	}
	value, ok := tags[key]
	return value, ok, nil
}

func (s SidecarStore) Set(path, key, value string) error {
	tags, err := s.read(path)
	if err != nil {
		return err
	}
	tags[key] = value
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}

	sidecar := SidecarPath(path)
	tmp, err := os.CreateTemp(filepath.Dir(sidecar), filepath.Base(sidecar)+".*")
	if err != nil {
		return fmt.Errorf("create sidecar for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write sidecar for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write sidecar for %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), sidecar)
}

func (SidecarStore) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	err := os.Rename(SidecarPath(oldPath), SidecarPath(newPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("move provenance for %s: %w", newPath, err)
	}
	return nil
}

// AutoStore uses xattrs and falls back to a sidecar file when the
// filesystem does not support user extended attributes.
type AutoStore struct{}

func (AutoStore) Get(path, key string) (string, bool, error) {
	value, ok, err := XattrStore{}.Get(path, key)
	if isUnsupported(err) {
		return SidecarStore{}.Get(path, key)
	}
	return value, ok, err
}

func (AutoStore) Set(path, key, value string) error {
	err := XattrStore{}.Set(path, key, value)
	if isUnsupported(err) {
		return SidecarStore{}.Set(path, key, value)
	}
	return err
}

func (AutoStore) Rename(oldPath, newPath string) error {
	return SidecarStore{}.Rename(oldPath, newPath)
}

func isUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}

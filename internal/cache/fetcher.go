// Package cache keeps one local copy per image label and refreshes it only
// when the origin URL or the origin's Last-Modified stamp changes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// Fetcher downloads images into a cache directory.
type Fetcher struct {
	// Origins maps URL schemes to origins. http and https default to an
	// HTTPOrigin when not set.
	Origins map[string]Origin
	Store   ProvenanceStore
	Metrics *Metrics
	Logger  *slog.Logger
}

// TargetPath returns where Fetch stores rawURL for label: the label plus the
// extension of the URL's file name.
func TargetPath(rawURL, cacheDir, label string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse image url %q: %w", rawURL, err)
	}
	name := label + path.Ext(path.Base(u.Path))
	target, err := securejoin.SecureJoin(cacheDir, name)
	if err != nil {
		return "", fmt.Errorf("join %s under %s: %w", name, cacheDir, err)
	}
	if filepath.Dir(target) != filepath.Clean(cacheDir) {
		return "", fmt.Errorf("label %q does not name a file directly under %s", label, cacheDir)
	}
	return target, nil
}

// Fetch makes sure the cache holds rawURL under label and returns its path.
// The body is only transferred when the file is missing or its provenance
// tags disagree with rawURL and the origin's current Last-Modified value.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, cacheDir, label string) (string, error) {
	start := time.Now()
	logger := f.logger().With("label", label, "url", rawURL)

	target, err := TargetPath(rawURL, cacheDir, label)
	if err != nil {
		return "", err
	}

	origin, err := f.origin(rawURL)
	if err != nil {
		return "", err
	}

	lastModified, err := origin.LastModified(ctx, rawURL)
	if err != nil {
		f.Metrics.RecordLookup(ctx, label, ResultError, 0, time.Since(start))
		return "", &FetchError{URL: rawURL, Err: err}
	}

	stale, reason, err := f.isStale(target, rawURL, lastModified)
	if err != nil {
		return "", err
	}
	if !stale {
		logger.Info("using cached image", "path", target)
		f.Metrics.RecordLookup(ctx, label, ResultHit, 0, time.Since(start))
		return target, nil
	}

	logger.Info("fetching image", "path", target, "reason", reason)
	size, err := f.download(ctx, origin, rawURL, target, lastModified)
	if err != nil {
		logger.Warn("image fetch failed", "error", err)
		f.Metrics.RecordLookup(ctx, label, ResultError, 0, time.Since(start))
		return "", &FetchError{URL: rawURL, Err: err}
	}

	logger.Info("fetched image", "path", target, "size", datasize.ByteSize(size).HumanReadable(), "duration", time.Since(start).Round(time.Millisecond))
	f.Metrics.RecordLookup(ctx, label, ResultMiss, size, time.Since(start))
	return target, nil
}

func (f *Fetcher) isStale(target, rawURL, lastModified string) (bool, string, error) {
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, "not cached", nil
		}
		return false, "", fmt.Errorf("stat cached image: %w", err)
	}

	store := f.store()
	origin, ok, err := store.Get(target, OriginURLKey)
	if err != nil {
		return false, "", err
	}
	if !ok || origin != rawURL {
		return true, "origin url changed", nil
	}

	// Without a date from the origin there is nothing to compare against.
	if lastModified == "" {
		return true, "origin has no last-modified date", nil
	}

	stamp, ok, err := store.Get(target, LastModifiedKey)
	if err != nil {
		return false, "", err
	}
	if !ok || stamp == "" || stamp != lastModified {
		return true, "origin modified", nil
	}
	return false, "", nil
}

// download writes the body to a temporary file in the target's directory,
// tags it, and renames it over target. The temporary file never survives a
// failure and target is untouched unless the rename happens.
func (f *Fetcher) download(ctx context.Context, origin Origin, rawURL, target, lastModified string) (size int64, err error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("remove partial download: %w", rmErr))
			}
			os.Remove(SidecarPath(tmpPath))
		}
	}()

	body, err := origin.Open(ctx, rawURL)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	size, err = io.Copy(tmp, body)
	body.Close()
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("copy body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temporary file: %w", err)
	}

	store := f.store()
	if err := store.Set(tmpPath, OriginURLKey, rawURL); err != nil {
		return 0, err
	}
	if err := store.Set(tmpPath, LastModifiedKey, lastModified); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return 0, fmt.Errorf("chmod temporary file: %w", err)
	}
	if err := store.Rename(tmpPath, target); err != nil {
		return 0, fmt.Errorf("move image into place: %w", err)
	}
	return size, nil
}

func (f *Fetcher) origin(rawURL string) (Origin, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse image url %q: %w", rawURL, err)
	}
	if origin, ok := f.Origins[u.Scheme]; ok && origin != nil {
		return origin, nil
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return &HTTPOrigin{Client: http.DefaultClient}, nil
	}
	return nil, fmt.Errorf("unsupported image url scheme %q", u.Scheme)
}

func (f *Fetcher) store() ProvenanceStore {
	if f.Store != nil {
		return f.Store
	}
	return AutoStore{}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

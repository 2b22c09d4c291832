package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"f34.qcow2.snap", "f34_setup.yml", "f34_post_setup.yml", ".f34.qcow2.1.part", "f340.qcow2"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if path, ok, err := Cached(dir, "f34"); err != nil || ok {
		t.Fatalf("Cached() = %q, %v, %v; want no match", path, ok, err)
	}

	image := filepath.Join(dir, "f34.qcow2")
	if err := os.WriteFile(image, nil, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	path, ok, err := Cached(dir, "f34")
	if err != nil || !ok || path != image {
		t.Fatalf("Cached() = %q, %v, %v; want %q", path, ok, err, image)
	}
}

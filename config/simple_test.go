package simple

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cochaviz/runqemu/internal/logging"
	"github.com/cochaviz/runqemu/internal/models"
	"github.com/cochaviz/runqemu/internal/repositories/local"
	"github.com/cochaviz/runqemu/internal/settings"
)

const imagesConfig = `{
  "images": [
    {"name": "fedora-34", "source": "https://example.com/f34.qcow2", "env": {"FOO": "bar"}},
    {"name": "rhel-9", "compose": "https://example.com/compose/RHEL-9", "variant": "BaseOS"}
  ]
}`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linux-system-roles.json")
	if err := os.WriteFile(path, []byte(imagesConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestSelectImage(t *testing.T) {
	t.Parallel()

	s := &settings.Settings{Config: writeConfig(t), Cache: t.TempDir(), S3Region: "us-east-1", S3Anonymous: true}
	c, err := New(context.Background(), s, logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.ImageName = "fedora-34"
	image, err := c.SelectImage(s)
	if err != nil {
		t.Fatalf("SelectImage() error = %v", err)
	}
	if image.Source != "https://example.com/f34.qcow2" || image.Env["FOO"] != "bar" {
		t.Fatalf("unexpected descriptor %+v", image)
	}

	s.ImageName = "missing"
	if _, err := c.SelectImage(s); !errors.Is(err, local.ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}

	s.ImageName, s.ImageFile = "", "/images/custom.qcow2"
	image, err = c.SelectImage(s)
	if err != nil {
		t.Fatalf("SelectImage(file) error = %v", err)
	}
	if image.Name != "custom.qcow2" || image.File != "/images/custom.qcow2" {
		t.Fatalf("unexpected file descriptor %+v", image)
	}
}

func TestResolveUsesConfig(t *testing.T) {
	t.Parallel()

	s := &settings.Settings{Config: writeConfig(t), Cache: t.TempDir(), ImageName: "fedora-34", S3Region: "us-east-1", S3Anonymous: true}
	url, err := Resolve(context.Background(), s, logging.Discard())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if url != "https://example.com/f34.qcow2" {
		t.Fatalf("Resolve() = %q", url)
	}
}

func TestResolveRequiresOneImage(t *testing.T) {
	t.Parallel()

	s := &settings.Settings{Config: local.NoConfig, ImageName: "a", ImageFile: "/b.qcow2"}
	if _, err := Resolve(context.Background(), s, logging.Discard()); err == nil {
		t.Fatalf("expected an error when both image options are given")
	}
}

func TestListReportsCacheState(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(cacheDir, "fedora-34.qcow2"), nil, 0o644); err != nil {
		t.Fatalf("write cached image: %v", err)
	}
	s := &settings.Settings{Config: writeConfig(t), Cache: cacheDir, S3Region: "us-east-1", S3Anonymous: true}

	images, err := List(context.Background(), s, logging.Discard())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if !images[0].Cached || images[0].Method != models.ResolveSource {
		t.Fatalf("fedora-34 = %+v", images[0])
	}
	if images[1].Cached || images[1].Method != models.ResolveCompose {
		t.Fatalf("rhel-9 = %+v", images[1])
	}
}

func TestRunOptions(t *testing.T) {
	t.Parallel()

	s := &settings.Settings{
		Cache:             "/cache",
		Inventory:         "/inv",
		UseSnapshot:       true,
		PostSnapSleepTime: 4,
		ProfileTaskLimit:  -1,
		SetupYml:          []string{"a.yml"},
		WaitOnQemu:        true,
	}
	opts := RunOptions(s, models.ImageDescriptor{Name: "x"}, []string{"t.yml"})
	if !opts.Conditioning.UseSnapshot || opts.SettleTime != 4*time.Second || opts.Callbacks.TaskLimit != -1 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if !opts.WaitOnGuest || opts.CacheDir != "/cache" || opts.SetupPlaybooks[0] != "a.yml" || opts.Args[0] != "t.yml" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestResolveArch(t *testing.T) {
	t.Parallel()

	if _, err := resolveArch(HostArch); err != nil {
		t.Fatalf("resolveArch(host) error = %v", err)
	}
	if got, err := resolveArch("amd64"); err != nil || got != "x86_64" {
		t.Fatalf("resolveArch(amd64) = %v, %v", got, err)
	}
	if _, err := resolveArch("sparc"); err == nil {
		t.Fatalf("expected error for sparc")
	}
}

// Package conditioning writes the playbooks that prepare a guest before the
// test playbooks run: a pre-setup document and, when a snapshot is being
// taken, a post-setup document that flushes and powers the guest off.
package conditioning

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/runqemu/internal/models"
)

// Options selects which generated tasks are included.
type Options struct {
	RemoveCloudInit bool
	UseSnapshot     bool
	UseYumCache     bool
}

// Scripts holds the written playbook paths. An empty path means the
// document had no content and no file exists.
type Scripts struct {
	PreSetup  string
	PostSetup string
}

// Paths returns the non-empty playbooks in execution order.
func (s Scripts) Paths() []string {
	var out []string
	if s.PreSetup != "" {
		out = append(out, s.PreSetup)
	}
	if s.PostSetup != "" {
		out = append(out, s.PostSetup)
	}
	return out
}

// PreSetupPath is where the pre-setup playbook for label is written.
func PreSetupPath(cacheDir, label string) string {
	return filepath.Join(cacheDir, label+"_setup.yml")
}

// PostSetupPath is where the post-setup playbook for label is written.
func PostSetupPath(cacheDir, label string) string {
	return filepath.Join(cacheDir, label+"_post_setup.yml")
}

// Builder renders and writes the conditioning playbooks.
type Builder struct {
	Logger *slog.Logger
}

// Build writes the playbooks for image into cacheDir. A document with no
// content removes any file left from an earlier run.
func (b *Builder) Build(image models.ImageDescriptor, cacheDir string, opts Options) (Scripts, error) {
	if err := image.Validate(); err != nil {
		return Scripts{}, err
	}
	logger := b.logger().With("image", image.Name)

	pre, post := Documents(image.Setup, opts)

	var scripts Scripts
	var err error
	if scripts.PreSetup, err = writeOrRemove(PreSetupPath(cacheDir, image.Name), pre); err != nil {
		return Scripts{}, err
	}
	if scripts.PostSetup, err = writeOrRemove(PostSetupPath(cacheDir, image.Name), post); err != nil {
		return Scripts{}, err
	}

	logger.Debug("conditioning playbooks prepared", "pre_setup", scripts.PreSetup, "post_setup", scripts.PostSetup)
	return scripts, nil
}

// Documents returns the pre-setup and post-setup documents as lists of
// plays. Caller supplied plays come first, then the generated play when it
// has tasks.
func Documents(setup *models.Setup, opts Options) (pre []any, post []any) {
	play := Play{
		Name:        "Set up host for test playbooks",
		Hosts:       "all",
		GatherFacts: false,
	}

	if !setup.IsEmpty() {
		if setup.Plays != nil {
			for _, p := range setup.Plays {
				pre = append(pre, p)
			}
		} else {
			play.Tasks = append(play.Tasks, Task{Action: Raw{Command: setup.Raw}})
		}
	}

	if opts.RemoveCloudInit {
		play.Tasks = append(play.Tasks, cloudInitRemoval()...)
	}

	if opts.UseSnapshot || opts.UseYumCache {
		play.GatherFacts = true
		play.Tasks = append(play.Tasks, packageCacheWarmup()...)
	}

	if len(play.Tasks) > 0 {
		pre = append(pre, play)
	}

	if opts.UseSnapshot {
		post = append(post, Play{
			Name:        "Post setup - these happen last",
			Hosts:       "all",
			GatherFacts: false,
			Tasks:       flushAndShutdown(),
		})
	}
	return pre, post
}

func writeOrRemove(path string, doc []any) (string, error) {
	if len(doc) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("remove stale playbook %s: %w", path, err)
		}
		return "", nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("render playbook %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("render playbook %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create playbook dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write playbook %s: %w", path, err)
	}
	return path, nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

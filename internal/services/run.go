package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cochaviz/runqemu/internal/conditioning"
	"github.com/cochaviz/runqemu/internal/models"
	"github.com/cochaviz/runqemu/internal/runner"
	"github.com/cochaviz/runqemu/internal/snapshot"
)

// ScriptBuilder writes the conditioning playbooks for an image.
type ScriptBuilder interface {
	Build(image models.ImageDescriptor, cacheDir string, opts conditioning.Options) (conditioning.Scripts, error)
}

// SnapshotRefresher rebuilds and conditions a snapshot when it is stale.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, backing, snap string, settle time.Duration, req runner.Request) (bool, error)
}

// RunOptions is everything one test run needs.
type RunOptions struct {
	Image    models.ImageDescriptor
	CacheDir string
	// Inventory is a local path or an http(s) URL.
	Inventory      string
	WorkDir        string
	SourceDir      string
	CollectionPath string
	Artifacts      string
	ImageAlias     string
	Debug          bool
	Callbacks      runner.CallbackOptions
	Conditioning   conditioning.Options
	// SetupPlaybooks run after the generated pre-setup playbook and before
	// the post-setup one.
	SetupPlaybooks []string
	// Args holds runner arguments and playbooks, separated by "--".
	Args             []string
	WaitOnGuest      bool
	WriteInventory   string
	EraseOldSnapshot bool
	SettleTime       time.Duration
}

// RunService prepares an image and runs playbooks against it.
type RunService struct {
	Images    *ImageService
	Scripts   ScriptBuilder
	Snapshots SnapshotRefresher
	Runner    runner.Runner
	// Executor runs ansible-galaxy and ansible-config.
	Executor   runner.Executor
	HTTPClient *http.Client
	// Environ defaults to os.Environ.
	Environ func() []string
	Logger  *slog.Logger
}

type runPlan struct {
	imageFile  string
	snapshot   string
	inventory  string
	env        map[string]string
	runnerArgs []string
	playbooks  []string
	setup      []string
	dir        string
}

// Run fetches and conditions the image, then runs the caller's playbooks.
// With snapshots enabled the playbooks run against a conditioned snapshot
// of the image; otherwise the conditioning playbooks run first in the same
// invocation.
func (s *RunService) Run(ctx context.Context, opts RunOptions) error {
	logger := s.logger().With("image", opts.Image.Name)

	plan, err := s.prepare(ctx, opts, true)
	if err != nil {
		return err
	}

	playbooks := plan.playbooks
	if opts.Conditioning.UseSnapshot {
		plan.env["TEST_SUBJECTS"] = plan.snapshot
		if err := s.refresh(ctx, plan, opts); err != nil {
			return err
		}
	} else {
		playbooks = append(append([]string(nil), plan.setup...), playbooks...)
	}
	if opts.WriteInventory != "" {
		plan.env["TEST_INVENTORY"] = opts.WriteInventory
	}

	logger.Info("running playbooks", "subject", plan.env["TEST_SUBJECTS"], "playbooks", len(playbooks))
	return s.Runner.Run(ctx, runner.Request{
		Inventory: plan.inventory,
		Args:      plan.runnerArgs,
		Playbooks: playbooks,
		Dir:       plan.dir,
		Env:       plan.env,
		Wait:      opts.WaitOnGuest,
	})
}

// Snapshot prepares the image and refreshes its snapshot without running
// any test playbooks. It returns the snapshot path.
func (s *RunService) Snapshot(ctx context.Context, opts RunOptions) (string, error) {
	opts.Conditioning.UseSnapshot = true
	plan, err := s.prepare(ctx, opts, false)
	if err != nil {
		return "", err
	}
	plan.env["TEST_SUBJECTS"] = plan.snapshot
	if err := s.refresh(ctx, plan, opts); err != nil {
		return "", err
	}
	return plan.snapshot, nil
}

func (s *RunService) prepare(ctx context.Context, opts RunOptions, needPlaybooks bool) (*runPlan, error) {
	if err := validateInventoryOutput(opts.WriteInventory); err != nil {
		return nil, err
	}
	runnerArgs, playbooks := SplitArgs(opts.Args)
	if needPlaybooks && len(playbooks) == 0 {
		return nil, &ConfigError{Field: "playbooks", Message: "at least one playbook is required"}
	}
	if opts.CacheDir == "" {
		return nil, &ConfigError{Field: "cache", Message: "cache directory is required"}
	}

	imageFile, err := s.Images.Fetch(ctx, opts.Image, opts.CacheDir)
	if err != nil {
		return nil, err
	}
	image := opts.Image
	image.File = imageFile

	scripts, err := s.Scripts.Build(image, opts.CacheDir, opts.Conditioning)
	if err != nil {
		return nil, err
	}
	var setup []string
	if scripts.PreSetup != "" {
		setup = append(setup, scripts.PreSetup)
	}
	setup = append(setup, opts.SetupPlaybooks...)
	if scripts.PostSetup != "" {
		setup = append(setup, scripts.PostSetup)
	}

	if opts.CollectionPath == "" {
		opts.CollectionPath = opts.WorkDir
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	process := runner.EnvMap(s.environ())

	env := baseEnv(image, opts)
	if _, err := runner.InstallRequirements(ctx, s.executor(), sourceDir(opts.SourceDir), opts.CollectionPath); err != nil {
		return nil, err
	}
	inventory := s.inventoryScript(ctx, opts.Inventory, workDir)
	if opts.Callbacks.PluginDir == "" {
		opts.Callbacks.PluginDir = filepath.Join(workDir, "callback_plugins")
	}
	if err := runner.ConfigureCallbacks(ctx, s.executor(), process, env, opts.Callbacks); err != nil {
		return nil, err
	}
	if err := finishEnv(env, process, imageFile, opts); err != nil {
		return nil, err
	}

	if playbooks, err = absPaths(playbooks); err != nil {
		return nil, err
	}
	if setup, err = absPaths(setup); err != nil {
		return nil, err
	}

	plan := &runPlan{
		imageFile:  imageFile,
		snapshot:   snapshot.PathFor(imageFile),
		inventory:  inventory,
		env:        env,
		runnerArgs: runnerArgs,
		playbooks:  playbooks,
		setup:      setup,
	}
	// The first playbook's directory is the working directory so that files
	// next to it, such as provision.fmf, are found.
	switch {
	case len(playbooks) > 0:
		plan.dir = filepath.Dir(playbooks[0])
	case len(setup) > 0:
		plan.dir = filepath.Dir(setup[0])
	default:
		plan.dir = opts.CacheDir
	}

	if opts.EraseOldSnapshot {
		erased, err := snapshot.Erase(plan.snapshot)
		if err != nil {
			return nil, err
		}
		if erased {
			s.logger().Info("erased old snapshot", "snapshot", plan.snapshot)
		}
	}
	return plan, nil
}

func (s *RunService) refresh(ctx context.Context, plan *runPlan, opts RunOptions) error {
	if s.Snapshots == nil {
		return errors.New("snapshots requested but no snapshot manager is configured")
	}
	_, err := s.Snapshots.Refresh(ctx, plan.imageFile, plan.snapshot, opts.SettleTime, runner.Request{
		Inventory: plan.inventory,
		Args:      plan.runnerArgs,
		Playbooks: plan.setup,
		Dir:       plan.dir,
		Env:       plan.env,
	})
	return err
}

func sourceDir(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

func (s *RunService) environ() []string {
	if s.Environ != nil {
		return s.Environ()
	}
	return os.Environ()
}

func (s *RunService) executor() runner.Executor {
	if s.Executor != nil {
		return s.Executor
	}
	return &runner.ExecExecutor{}
}

func (s *RunService) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *RunService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

package simple

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/cochaviz/runqemu/arch"
	"github.com/cochaviz/runqemu/internal/cache"
	"github.com/cochaviz/runqemu/internal/conditioning"
	"github.com/cochaviz/runqemu/internal/images"
	"github.com/cochaviz/runqemu/internal/logging"
	"github.com/cochaviz/runqemu/internal/models"
	"github.com/cochaviz/runqemu/internal/repositories/local"
	"github.com/cochaviz/runqemu/internal/runner"
	"github.com/cochaviz/runqemu/internal/services"
	"github.com/cochaviz/runqemu/internal/settings"
	"github.com/cochaviz/runqemu/internal/snapshot"
)

// HostArch selects the architecture of the running machine.
const HostArch = "host"

const meterName = "github.com/cochaviz/runqemu/internal/cache"

// Components is the wired object graph for one invocation.
type Components struct {
	Repository *local.ImageRepository
	Images     *services.ImageService
	Runs       *services.RunService
}

// New wires the services for s. Nothing is downloaded or executed.
func New(ctx context.Context, s *settings.Settings, logger *slog.Logger) (*Components, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	architecture, err := resolveArch(s.Arch)
	if err != nil {
		return nil, err
	}

	metrics, err := cache.NewMetrics(otel.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("register cache metrics: %w", err)
	}

	origins := map[string]cache.Origin{}
	if s3Origin, err := cache.NewS3Origin(ctx, s.S3Region, s.S3Anonymous); err != nil {
		logger.Warn("s3 image origins unavailable", "error", err)
	} else {
		origins["s3"] = s3Origin
	}

	client := &http.Client{}
	executor := &runner.ExecExecutor{}
	ansible := &runner.AnsibleRunner{
		Executor:    executor,
		WaitTimeout: s.WaitTimeout,
		Logger:      logger.With("runner", "ansible-playbook"),
	}

	imageService := &services.ImageService{
		Locator: &images.Locator{
			Client: client,
			Arch:   architecture,
			Logger: logger.With("service", "locator"),
		},
		Fetcher: &cache.Fetcher{
			Origins: origins,
			Store:   cache.AutoStore{},
			Metrics: metrics,
			Logger:  logger.With("service", "cache"),
		},
		Logger: logger.With("service", "images"),
	}

	return &Components{
		Repository: &local.ImageRepository{Path: s.Config},
		Images:     imageService,
		Runs: &services.RunService{
			Images:  imageService,
			Scripts: &conditioning.Builder{Logger: logger.With("service", "conditioning")},
			Snapshots: &snapshot.Manager{
				Executor: executor,
				Runner:   ansible,
				MaxAge:   s.SnapshotMaxAge,
				Logger:   logger.With("service", "snapshot"),
			},
			Runner:     ansible,
			Executor:   executor,
			HTTPClient: client,
			Logger:     logger.With("service", "run"),
		},
	}, nil
}

// SelectImage returns the descriptor named by s: a synthesized one for
// --image-file, otherwise the config entry for --image-name.
func (c *Components) SelectImage(s *settings.Settings) (models.ImageDescriptor, error) {
	if s.ImageFile != "" {
		return models.ImageDescriptor{Name: filepath.Base(s.ImageFile), File: s.ImageFile}, nil
	}
	image, err := c.Repository.Get(s.ImageName)
	if err != nil {
		return models.ImageDescriptor{}, err
	}
	return *image, nil
}

// RunOptions translates settings and passthrough arguments into a run.
func RunOptions(s *settings.Settings, image models.ImageDescriptor, args []string) services.RunOptions {
	return services.RunOptions{
		Image:          image,
		CacheDir:       s.Cache,
		Inventory:      s.Inventory,
		WorkDir:        s.WorkDir,
		SourceDir:      s.SourceDir,
		CollectionPath: s.CollectionPath,
		Artifacts:      s.Artifacts,
		ImageAlias:     s.ImageAlias,
		Debug:          s.Debug,
		Callbacks: runner.CallbackOptions{
			Pretty:    s.Pretty,
			Profile:   s.Profile,
			TaskLimit: s.ProfileTaskLimit,
		},
		Conditioning: conditioning.Options{
			RemoveCloudInit: s.RemoveCloudInit,
			UseSnapshot:     s.UseSnapshot,
			UseYumCache:     s.UseYumCache,
		},
		SetupPlaybooks:   s.SetupYml,
		Args:             args,
		WaitOnGuest:      s.WaitOnQemu,
		WriteInventory:   s.WriteInventory,
		EraseOldSnapshot: s.EraseOldSnapshot,
		SettleTime:       s.SettleTime(),
	}
}

// Run fetches and conditions the selected image and runs args against it.
func Run(ctx context.Context, s *settings.Settings, args []string, logger *slog.Logger) error {
	c, image, err := prepare(ctx, s, logger)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := c.Runs.Run(ctx, RunOptions(s, image, args)); err != nil {
		return err
	}
	logging.Ensure(logger).Info("playbooks finished", "image", image.Name, "duration", time.Since(start).Round(time.Second))
	return nil
}

// Fetch caches the selected image and returns its local path.
func Fetch(ctx context.Context, s *settings.Settings, logger *slog.Logger) (string, error) {
	c, image, err := prepare(ctx, s, logger)
	if err != nil {
		return "", err
	}
	return c.Images.Fetch(ctx, image, s.Cache)
}

// Resolve returns the download URL, or local file, of the selected image.
func Resolve(ctx context.Context, s *settings.Settings, logger *slog.Logger) (string, error) {
	c, image, err := prepare(ctx, s, logger)
	if err != nil {
		return "", err
	}
	return c.Images.Resolve(ctx, image)
}

// Snapshot refreshes the snapshot of the selected image and returns its path.
func Snapshot(ctx context.Context, s *settings.Settings, logger *slog.Logger) (string, error) {
	c, image, err := prepare(ctx, s, logger)
	if err != nil {
		return "", err
	}
	return c.Runs.Snapshot(ctx, RunOptions(s, image, nil))
}

// List reports every configured image and whether it is cached.
func List(ctx context.Context, s *settings.Settings, logger *slog.Logger) ([]services.CachedImage, error) {
	c, err := New(ctx, s, logger)
	if err != nil {
		return nil, err
	}
	configured, err := c.Repository.List()
	if err != nil {
		return nil, err
	}
	return c.Images.Inspect(configured, s.Cache)
}

func prepare(ctx context.Context, s *settings.Settings, logger *slog.Logger) (*Components, models.ImageDescriptor, error) {
	if err := s.Validate(); err != nil {
		return nil, models.ImageDescriptor{}, err
	}
	c, err := New(ctx, s, logger)
	if err != nil {
		return nil, models.ImageDescriptor{}, err
	}
	image, err := c.SelectImage(s)
	if err != nil {
		return nil, models.ImageDescriptor{}, err
	}
	return c, image, nil
}

func resolveArch(value string) (arch.Architecture, error) {
	if value == HostArch {
		return arch.Host(), nil
	}
	return arch.Parse(value)
}

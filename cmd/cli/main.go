package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cochaviz/runqemu/internal/logging"
	"github.com/cochaviz/runqemu/internal/settings"
	"github.com/cochaviz/runqemu/internal/setup"
	"github.com/cochaviz/runqemu/internal/telemetry"
)

const (
	defaultLogLevel  = "warning"
	defaultLogFormat = "cli"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelWarn)

	app := &cli{levelVar: &levelVar}
	app.setLogger(logging.NewCLI(os.Stderr, &levelVar))

	// A local .env may hold LSR_QEMU_* overrides; it is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		app.logger.Warn("could not load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(app)
	err := root.ExecuteContext(ctx)
	app.flushMetrics()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// cli carries the logger, which is replaced once --log-format is known.
type cli struct {
	levelVar        *slog.LevelVar
	logger          *slog.Logger
	shutdownMetrics telemetry.ShutdownFunc
}

func (c *cli) flushMetrics() {
	if c.shutdownMetrics == nil {
		return
	}
	if err := c.shutdownMetrics(context.Background()); err != nil {
		c.logger.Warn("could not flush metrics", "error", err)
	}
	c.shutdownMetrics = nil
}

func (c *cli) setLogger(logger *slog.Logger) {
	c.logger = logger
	slog.SetDefault(logger)
	setup.SetLogger(logger.With("component", "setup"))
}

func newRootCommand(app *cli) *cobra.Command {
	logLevel := defaultLogLevel
	logFormat := defaultLogFormat
	metrics, _ := settings.ParseBool(os.Getenv(settings.EnvPrefix + "_METRICS"))

	root := &cobra.Command{
		Use:   "runqemu",
		Short: "Run ansible test playbooks against cached, conditioned qcow2 guests",
		Long: `runqemu resolves a cloud image, keeps it cached, conditions it for
testing and runs ansible-playbook against it through the
standard-inventory-qcow2 inventory.

Every option can also be set through an LSR_QEMU_<OPTION> environment
variable, for example LSR_QEMU_IMAGE_NAME or LSR_QEMU_USE_SNAPSHOT.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "Set log format (cli, json)")
	root.PersistentFlags().BoolVar(&metrics, "metrics", metrics, "Write image cache metrics as JSON to stderr on exit")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		app.levelVar.Set(level)
		if mode != logging.ModeCLI {
			app.setLogger(logging.New(mode, os.Stderr, app.levelVar))
		}
		if metrics && app.shutdownMetrics == nil {
			shutdown, err := telemetry.SetupMetrics(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			app.shutdownMetrics = shutdown
		}
		return nil
	}

	root.AddCommand(
		newRunCommand(app),
		newFetchCommand(app),
		newResolveCommand(app),
		newSnapshotCommand(app),
		newImagesCommand(app),
		newSetupCommand(app),
	)
	return root
}

func printLine(cmd *cobra.Command, value string) {
	fmt.Fprintln(cmd.OutOrStdout(), value)
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/runqemu/config"
	"github.com/cochaviz/runqemu/internal/setup"
)

func newRunCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [playbook...] | run [flags] -- [runner-args...] -- playbook...",
		Short: "Fetch and condition the image, then run playbooks against it",
		Long: `Run fetches the selected image into the cache, writes the conditioning
playbooks, optionally refreshes a snapshot, and runs ansible-playbook.

Arguments after a first -- are passed to ansible-playbook until a second --;
the remaining arguments are playbooks. Without runner arguments the
playbooks can be given directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := app.logger.With("command", "run")

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			cmdLogger.Info("starting run", "image_name", s.ImageName, "image_file", s.ImageFile, "cache", s.Cache, "snapshot", s.UseSnapshot)
			if err := config.Run(cmd.Context(), s, args, cmdLogger); err != nil {
				cmdLogger.Error("run failed", "error", err)
				return err
			}
			cmdLogger.Info("run completed")
			return nil
		},
	}
	addImageFlags(cmd.Flags())
	addRunFlags(cmd.Flags())
	return cmd
}

func newFetchCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the selected image into the cache and print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := app.logger.With("command", "fetch")

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			cmdLogger.Info("starting fetch", "image_name", s.ImageName, "cache", s.Cache)
			path, err := config.Fetch(cmd.Context(), s, cmdLogger)
			if err != nil {
				cmdLogger.Error("fetch failed", "error", err)
				return err
			}
			cmdLogger.Info("fetch completed", "path", path)
			printLine(cmd, path)
			return nil
		},
	}
	addImageFlags(cmd.Flags())
	return cmd
}

func newResolveCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the download URL of the selected image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := app.logger.With("command", "resolve")

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			url, err := config.Resolve(cmd.Context(), s, cmdLogger)
			if err != nil {
				cmdLogger.Error("resolve failed", "error", err)
				return err
			}
			printLine(cmd, url)
			return nil
		},
	}
	addImageFlags(cmd.Flags())
	return cmd
}

func newSnapshotCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create or refresh the conditioned snapshot of the selected image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := app.logger.With("command", "snapshot")

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			cmdLogger.Info("starting snapshot refresh", "image_name", s.ImageName, "image_file", s.ImageFile)
			path, err := config.Snapshot(cmd.Context(), s, cmdLogger)
			if err != nil {
				cmdLogger.Error("snapshot refresh failed", "error", err)
				return err
			}
			cmdLogger.Info("snapshot refresh completed", "path", path)
			printLine(cmd, path)
			return nil
		},
	}
	addImageFlags(cmd.Flags())
	addRunFlags(cmd.Flags())
	return cmd
}

func newImagesCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Inspect configured images",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured images and whether they are cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := app.logger.With("command", "images.list")

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			images, err := config.List(cmd.Context(), s, cmdLogger)
			if err != nil {
				cmdLogger.Error("list failed", "error", err)
				return err
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(images) == 0 {
				fmt.Fprintln(out, "no images configured")
			}
			for _, image := range images {
				method := string(image.Method)
				if method == "" {
					method = "-"
				}
				fmt.Fprintf(out, "%s\t%s\t(cached: %t)\t%s\n", image.Descriptor.Name, method, image.Cached, image.Path)
			}
			return out.Flush()
		},
	}
	addImageFlags(list.Flags())

	cmd.AddCommand(list)
	return cmd
}

func newSetupCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Check the host",
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check that qemu-img and ansible-playbook are installed and the cache is writable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := app.logger.With("command", "setup.verify")

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cmdLogger.Info("verifying host setup", "cache", s.Cache)

			checks, err := setup.Verify(s.Cache)
			out := cmd.OutOrStdout()
			for _, check := range checks {
				status := "ok"
				if check.Err != nil {
					status = check.Err.Error()
				}
				fmt.Fprintf(out, "%s: %s\n", check.Name, status)
			}
			if err != nil {
				cmdLogger.Error("setup verification failed", "error", err)
				return err
			}
			cmdLogger.Info("setup verification succeeded")
			return nil
		},
	}
	verify.Flags().String("cache", setup.DefaultCacheDir(), "Cache directory to check")

	cmd.AddCommand(verify)
	return cmd
}

package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cochaviz/runqemu/internal/services"
	"github.com/cochaviz/runqemu/internal/settings"
	"github.com/cochaviz/runqemu/internal/setup"
)

// addImageFlags registers the options that select and cache an image.
func addImageFlags(flags *pflag.FlagSet) {
	flags.String("config", setup.DefaultConfigFile(), "Images config file, or NONE to use --image-file only")
	flags.String("cache", setup.DefaultCacheDir(), "Directory for cached images, snapshots and setup playbooks")
	flags.String("image-name", "", "Name of an image in the config file")
	flags.String("image-file", "", "Use this local image file instead of a configured image")
	flags.String("arch", "", "Image architecture (default x86_64; 'host' for this machine)")
	flags.String("s3-region", "us-east-1", "Region for s3:// image sources")
	flags.Bool("s3-anonymous", false, "Send unsigned requests to s3:// image sources")
}

// addRunFlags registers the options that shape a playbook run.
func addRunFlags(flags *pflag.FlagSet) {
	flags.String("inventory", services.DefaultInventoryURL, "Inventory file, or URL of an inventory script to download")
	flags.String("image-alias", "", "Host alias for the guest, exported as TEST_HOSTALIASES")
	flags.String("artifacts", "", "Directory for logs and other run artifacts (default $TEST_ARTIFACTS or ./artifacts)")
	flags.Bool("debug", false, "Pass TEST_DEBUG=true to keep the guest running for debugging")
	flags.Bool("pretty", true, "Use the debug stdout callback")
	flags.Bool("profile", true, "Enable the profile_tasks callback")
	flags.Int("profile-task-limit", settings.DefaultProfileTaskLimit, "Number of tasks profile_tasks reports (-1 for all)")
	flags.Bool("remove-cloud-init", false, "Remove cloud-init from the guest before the tests")
	flags.Bool("use-yum-cache", false, "Keep the guest package cache in the cache directory")
	flags.Bool("use-snapshot", false, "Run against a conditioned snapshot of the image")
	flags.StringSlice("setup-yml", nil, "Extra setup playbooks, run before the tests (repeatable or comma separated)")
	flags.Bool("wait-on-qemu", false, "Wait for the guest process to exit after the playbooks finish")
	flags.Duration("wait-timeout", 0, "Give up waiting for the guest after this long (0 waits forever)")
	flags.String("write-inventory", "", "Write the generated YAML inventory to this file (named 'inventory' or ending in .yml)")
	flags.Bool("erase-old-snapshot", false, "Erase an existing snapshot so a fresh one is built")
	flags.Int("post-snap-sleep-time", 0, "Seconds to wait after conditioning a snapshot (0 selects the default)")
	flags.Duration("snapshot-max-age", 24*time.Hour, "Rebuild snapshots older than this")
	flags.String("collection-path", "", "Where collection requirements are installed (default the work dir)")
	flags.String("source-dir", ".", "Role or collection source holding meta/requirements.yml")
	flags.String("work-dir", "", "Directory for the downloaded inventory (default $TOX_WORK_DIR or the temp dir)")
}

func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	return settings.Load(viper.New(), cmd.Flags())
}

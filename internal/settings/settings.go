// Package settings loads run options from flags, LSR_QEMU_* environment
// variables and defaults.
package settings

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cochaviz/runqemu/internal/services"
	"github.com/cochaviz/runqemu/internal/setup"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LSR_QEMU"

// DefaultProfileTaskLimit is the default profile_tasks output limit.
const DefaultProfileTaskLimit = 30

// Settings holds every tunable of a run.
type Settings struct {
	Config     string `mapstructure:"config"`
	Cache      string `mapstructure:"cache"`
	Inventory  string `mapstructure:"inventory"`
	ImageName  string `mapstructure:"image-name"`
	ImageFile  string `mapstructure:"image-file"`
	ImageAlias string `mapstructure:"image-alias"`
	Arch       string `mapstructure:"arch"`
	Artifacts  string `mapstructure:"artifacts"`

	Debug            bool `mapstructure:"debug"`
	Pretty           bool `mapstructure:"pretty"`
	Profile          bool `mapstructure:"profile"`
	ProfileTaskLimit int  `mapstructure:"profile-task-limit"`

	RemoveCloudInit bool     `mapstructure:"remove-cloud-init"`
	UseYumCache     bool     `mapstructure:"use-yum-cache"`
	UseSnapshot     bool     `mapstructure:"use-snapshot"`
	SetupYml        []string `mapstructure:"setup-yml"`

	WaitOnQemu       bool          `mapstructure:"wait-on-qemu"`
	WaitTimeout      time.Duration `mapstructure:"wait-timeout"`
	WriteInventory   string        `mapstructure:"write-inventory"`
	EraseOldSnapshot bool          `mapstructure:"erase-old-snapshot"`
	// PostSnapSleepTime is in seconds; 0 selects the default settle time.
	PostSnapSleepTime int           `mapstructure:"post-snap-sleep-time"`
	SnapshotMaxAge    time.Duration `mapstructure:"snapshot-max-age"`

	CollectionPath string `mapstructure:"collection-path"`
	SourceDir      string `mapstructure:"source-dir"`
	WorkDir        string `mapstructure:"work-dir"`

	S3Region    string `mapstructure:"s3-region"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("config", setup.DefaultConfigFile())
	v.SetDefault("cache", setup.DefaultCacheDir())
	v.SetDefault("inventory", services.DefaultInventoryURL)
	v.SetDefault("image-name", "")
	v.SetDefault("image-file", "")
	v.SetDefault("image-alias", "")
	v.SetDefault("arch", "")
	v.SetDefault("artifacts", "")
	v.SetDefault("debug", false)
	v.SetDefault("pretty", true)
	v.SetDefault("profile", true)
	v.SetDefault("profile-task-limit", DefaultProfileTaskLimit)
	v.SetDefault("remove-cloud-init", false)
	v.SetDefault("use-yum-cache", false)
	v.SetDefault("use-snapshot", false)
	v.SetDefault("setup-yml", []string{})
	v.SetDefault("wait-on-qemu", false)
	v.SetDefault("wait-timeout", time.Duration(0))
	v.SetDefault("write-inventory", "")
	v.SetDefault("erase-old-snapshot", false)
	v.SetDefault("post-snap-sleep-time", 0)
	v.SetDefault("snapshot-max-age", 24*time.Hour)
	v.SetDefault("collection-path", "")
	v.SetDefault("source-dir", ".")
	v.SetDefault("work-dir", "")
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("s3-anonymous", false)
}

// Load reads settings into a Settings value. Flags that were set win over
// LSR_QEMU_* variables, which win over defaults. flags may be nil.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(flag *pflag.Flag) {
			if bindErr != nil || !isSetting(flag.Name) {
				return
			}
			bindErr = v.BindPFlag(flag.Name, flag)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	// TOX_WORK_DIR is where tox keeps per-environment files, including
	// installed collections.
	if err := v.BindEnv("work-dir", EnvPrefix+"_WORK_DIR", "TOX_WORK_DIR"); err != nil {
		return nil, fmt.Errorf("bind work-dir: %w", err)
	}

	var s Settings
	hook := mapstructure.ComposeDecodeHookFunc(
		boolHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&s, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	s.SetupYml = compact(s.SetupYml)
	return &s, nil
}

// Validate checks settings that cannot be defaulted.
func (s *Settings) Validate() error {
	if (s.ImageName == "") == (s.ImageFile == "") {
		return errors.New("one, and only one, of --image-name or --image-file must be given")
	}
	if s.ProfileTaskLimit < -1 {
		return fmt.Errorf("--profile-task-limit must be -1 or greater, got %d", s.ProfileTaskLimit)
	}
	if s.PostSnapSleepTime < 0 {
		return fmt.Errorf("--post-snap-sleep-time must not be negative, got %d", s.PostSnapSleepTime)
	}
	if s.WaitTimeout < 0 {
		return fmt.Errorf("--wait-timeout must not be negative, got %s", s.WaitTimeout)
	}
	return nil
}

// SettleTime is the pause after a snapshot is conditioned. Zero means the
// snapshot manager's default.
func (s *Settings) SettleTime() time.Duration {
	return time.Duration(s.PostSnapSleepTime) * time.Second
}

// ParseBool accepts y, yes, t, true, on and 1 as true and n, no, f, false,
// off and 0 as false, in any case.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "y", "yes", "t", "true", "on", "1":
		return true, nil
	case "n", "no", "f", "false", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid truth value %q", value)
	}
}

func boolHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return ParseBool(data.(string))
}

func isSetting(name string) bool {
	_, ok := settingKeys[name]
	return ok
}

var settingKeys = func() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Settings{})
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			keys[key] = struct{}{}
		}
	}
	return keys
}()

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

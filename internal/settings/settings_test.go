package settings

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cochaviz/runqemu/internal/services"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("image-name", "", "")
	flags.Bool("use-snapshot", false, "")
	flags.StringSlice("setup-yml", nil, "")
	flags.Int("profile-task-limit", DefaultProfileTaskLimit, "")
	flags.String("log-level", "warning", "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/xdg/cache")
	t.Setenv("TOX_WORK_DIR", "")

	s, err := Load(viper.New(), newFlags())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Cache != "/xdg/cache/linux-system-roles" {
		t.Fatalf("cache = %q", s.Cache)
	}
	if s.Inventory != services.DefaultInventoryURL {
		t.Fatalf("inventory = %q", s.Inventory)
	}
	if !s.Pretty || !s.Profile || s.ProfileTaskLimit != DefaultProfileTaskLimit {
		t.Fatalf("unexpected callback defaults %+v", s)
	}
	if s.UseSnapshot || s.WaitOnQemu || s.SnapshotMaxAge != 24*time.Hour || s.SourceDir != "." {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LSR_QEMU_IMAGE_NAME", "fedora-34")
	t.Setenv("LSR_QEMU_USE_SNAPSHOT", "Yes")
	t.Setenv("LSR_QEMU_PRETTY", "off")
	t.Setenv("LSR_QEMU_SETUP_YML", "a.yml,b.yml")
	t.Setenv("LSR_QEMU_WAIT_TIMEOUT", "90s")
	t.Setenv("LSR_QEMU_POST_SNAP_SLEEP_TIME", "5")
	t.Setenv("LSR_QEMU_WORK_DIR", "")
	t.Setenv("TOX_WORK_DIR", "/tox/work")

	s, err := Load(viper.New(), newFlags())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.ImageName != "fedora-34" || !s.UseSnapshot || s.Pretty {
		t.Fatalf("unexpected settings %+v", s)
	}
	if !reflect.DeepEqual(s.SetupYml, []string{"a.yml", "b.yml"}) {
		t.Fatalf("setup-yml = %v", s.SetupYml)
	}
	if s.WaitTimeout != 90*time.Second || s.SettleTime() != 5*time.Second {
		t.Fatalf("durations = %s, %s", s.WaitTimeout, s.SettleTime())
	}
	if s.WorkDir != "/tox/work" {
		t.Fatalf("work-dir = %q", s.WorkDir)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("LSR_QEMU_IMAGE_NAME", "from-env")
	t.Setenv("LSR_QEMU_USE_SNAPSHOT", "true")

	flags := newFlags()
	if err := flags.Parse([]string{"--image-name=from-flag", "--use-snapshot=false", "--setup-yml=x.yml"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	s, err := Load(viper.New(), flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.ImageName != "from-flag" || s.UseSnapshot {
		t.Fatalf("flags must win: %+v", s)
	}
	if !reflect.DeepEqual(s.SetupYml, []string{"x.yml"}) {
		t.Fatalf("setup-yml = %v", s.SetupYml)
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	t.Setenv("LSR_QEMU_DEBUG", "maybe")

	if _, err := Load(viper.New(), nil); err == nil {
		t.Fatalf("expected an error for an invalid truth value")
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"y", "YES", "t", "True", "on", "1"} {
		if got, err := ParseBool(v); err != nil || !got {
			t.Fatalf("ParseBool(%q) = %v, %v", v, got, err)
		}
	}
	for _, v := range []string{"n", "No", "f", "FALSE", "off", "0"} {
		if got, err := ParseBool(v); err != nil || got {
			t.Fatalf("ParseBool(%q) = %v, %v", v, got, err)
		}
	}
	if _, err := ParseBool("2"); err == nil {
		t.Fatalf("expected error for 2")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{name: "neither image", s: Settings{}},
		{name: "both images", s: Settings{ImageName: "a", ImageFile: "b"}},
		{name: "image name", s: Settings{ImageName: "a"}, ok: true},
		{name: "image file", s: Settings{ImageFile: "/x.qcow2"}, ok: true},
		{name: "bad limit", s: Settings{ImageName: "a", ProfileTaskLimit: -2}},
		{name: "negative sleep", s: Settings{ImageName: "a", PostSnapSleepTime: -1}},
	}
	for _, tc := range cases {
		err := tc.s.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate() = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

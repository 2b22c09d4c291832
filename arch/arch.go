package arch

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Architecture is the name a compose or image index uses for a CPU family.
type Architecture string

const (
	X86_64  Architecture = "x86_64"
	AArch64 Architecture = "aarch64"
	PPC64LE Architecture = "ppc64le"
	S390X   Architecture = "s390x"
)

// Default is the architecture images are resolved for when none is requested.
const Default = X86_64

var known = map[Architecture][]string{
	X86_64:  {"x86-64", "amd64"},
	AArch64: {"arm64"},
	PPC64LE: {"ppc64el", "powerpc64le"},
	S390X:   nil,
}

func (a Architecture) String() string {
	return string(a)
}

// Parse maps a user supplied architecture to the spelling used in composes
// and cloud image file names. An empty value yields Default.
func Parse(value string) (Architecture, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return Default, nil
	}
	for candidate, aliases := range known {
		if normalized == string(candidate) {
			return candidate, nil
		}
		for _, alias := range aliases {
			if normalized == alias {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(names(), ", "))
}

// Host returns the architecture of the running binary, or Default when the
// Go architecture has no image equivalent.
func Host() Architecture {
	if a, err := Parse(runtime.GOARCH); err == nil {
		return a
	}
	return Default
}

func names() []string {
	out := make([]string, 0, len(known))
	for a := range known {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}

package images

import (
	"fmt"
	"strings"
)

// ResolutionError reports that an image descriptor could not be turned into
// exactly one download URL. No download is attempted after it.
type ResolutionError struct {
	Image      string
	Reason     string
	Candidates []string
}

func (e *ResolutionError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("resolve image %s: %s", e.Image, e.Reason)
	}
	return fmt.Sprintf("resolve image %s: %s: %s", e.Image, e.Reason, strings.Join(e.Candidates, ", "))
}

package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/samber/lo"
)

// metadataPaths are tried in order relative to the compose URL. The first is
// used when the URL already points at the compose/ directory.
var metadataPaths = []string{
	"metadata/images.json",
	"compose/metadata/images.json",
}

// composeMetadata mirrors the productmd images.json layout.
type composeMetadata struct {
	Payload struct {
		Images map[string]map[string][]composeImage `json:"images"`
	} `json:"payload"`
}

type composeImage struct {
	Path       string `json:"path"`
	Type       string `json:"type"`
	Format     string `json:"format"`
	Subvariant string `json:"subvariant"`
	Arch       string `json:"arch"`
}

// Candidate is one qcow2 image found in a compose.
type Candidate struct {
	Path       string
	Variant    string
	Subvariant string
}

func (l *Locator) composeImages(ctx context.Context, composeURL, variant, subvariant string) ([]string, error) {
	base := withTrailingSlash(composeURL)

	metadata, err := l.loadComposeMetadata(ctx, base)
	if err != nil {
		return nil, err
	}

	candidates := NarrowCandidates(collectCandidates(metadata, l.arch().String()), variant, subvariant)
	urls := lo.Map(candidates, func(c Candidate, _ int) string {
		return base + c.Path
	})
	sort.Strings(urls)
	return urls, nil
}

func (l *Locator) loadComposeMetadata(ctx context.Context, base string) (*composeMetadata, error) {
	var lastErr error
	for _, rel := range metadataPaths {
		body, status, err := l.get(ctx, base+rel)
		if err != nil {
			lastErr = err
			if status == http.StatusNotFound {
				continue
			}
			return nil, err
		}

		var metadata composeMetadata
		err = json.NewDecoder(body).Decode(&metadata)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", base+rel, err)
		}
		return &metadata, nil
	}
	return nil, fmt.Errorf("compose metadata not found: %w", lastErr)
}

func collectCandidates(metadata *composeMetadata, wantArch string) []Candidate {
	var all []Candidate
	for variant, arches := range metadata.Payload.Images {
		for imageArch, images := range arches {
			if imageArch != wantArch {
				continue
			}
			for _, image := range images {
				if image.Type != "qcow2" {
					continue
				}
				all = append(all, Candidate{Path: image.Path, Variant: variant, Subvariant: image.Subvariant})
			}
		}
	}
	return lo.Uniq(all)
}

// NarrowCandidates applies the variant and subvariant hints. A hint is only
// used while more than one candidate remains, and only if it keeps at least
// one candidate; otherwise the set is left as it was.
func NarrowCandidates(candidates []Candidate, variant, subvariant string) []Candidate {
	candidates = lo.Uniq(candidates)
	candidates = narrowBy(candidates, variant, func(c Candidate) string { return c.Variant })
	candidates = narrowBy(candidates, subvariant, func(c Candidate) string { return c.Subvariant })
	return candidates
}

func narrowBy(candidates []Candidate, hint string, field func(Candidate) string) []Candidate {
	if len(candidates) <= 1 || hint == "" {
		return candidates
	}
	matched := lo.Filter(candidates, func(c Candidate, _ int) bool {
		return field(c) == hint
	})
	if len(matched) == 0 {
		return candidates
	}
	return matched
}

package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResolutionMethod names how an image descriptor is turned into a download URL.
type ResolutionMethod string

// Supported resolution methods.
const (
	ResolveNone       ResolutionMethod = ""
	ResolveLocalFile  ResolutionMethod = "file"
	ResolveSource     ResolutionMethod = "source"
	ResolveCompose    ResolutionMethod = "compose"
	ResolveCentOSHTML ResolutionMethod = "centoshtml"
)

// ErrNoResolutionMethod is returned when a descriptor has neither a local
// file nor any way to compute a download URL.
var ErrNoResolutionMethod = errors.New("neither source nor compose nor centoshtml specified")

// ImageDescriptor is one entry of the images config file.
type ImageDescriptor struct {
	Name       string            `json:"name"`
	Source     string            `json:"source,omitempty"`
	Compose    string            `json:"compose,omitempty"`
	CentOSHTML string            `json:"centoshtml,omitempty"`
	Variant    string            `json:"variant,omitempty"`
	Subvariant string            `json:"subvariant,omitempty"`
	Setup      *Setup            `json:"setup,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	File       string            `json:"file,omitempty"`
}

// Validate checks the name is usable as a cache label.
func (d ImageDescriptor) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return errors.New("image name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("image name %q is not a valid file name", d.Name)
	}
	return nil
}

// Method reports which resolution method the descriptor uses. A local file
// short-circuits resolution; otherwise exactly one remote method must be set.
func (d ImageDescriptor) Method() (ResolutionMethod, error) {
	if d.File != "" {
		return ResolveLocalFile, nil
	}

	var found []ResolutionMethod
	if d.Source != "" {
		found = append(found, ResolveSource)
	}
	if d.Compose != "" {
		found = append(found, ResolveCompose)
	}
	if d.CentOSHTML != "" {
		found = append(found, ResolveCentOSHTML)
	}

	switch len(found) {
	case 0:
		return ResolveNone, fmt.Errorf("image %s: %w", d.Name, ErrNoResolutionMethod)
	case 1:
		return found[0], nil
	default:
		return ResolveNone, fmt.Errorf("image %s: only one of source, compose or centoshtml may be given (found %v)", d.Name, found)
	}
}

// Setup holds caller supplied setup: a single raw command, or a list of
// complete plays copied verbatim into the pre-setup playbook.
type Setup struct {
	Raw   string
	Plays []map[string]any
}

// UnmarshalJSON accepts either a string or a list of play objects.
func (s *Setup) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Raw)
	}
	var plays []map[string]any
	if err := json.Unmarshal(data, &plays); err != nil {
		return fmt.Errorf("setup must be a string or a list of plays: %w", err)
	}
	s.Plays = plays
	return nil
}

// MarshalJSON writes the form the setup was given in.
func (s Setup) MarshalJSON() ([]byte, error) {
	if s.Plays != nil {
		return json.Marshal(s.Plays)
	}
	return json.Marshal(s.Raw)
}

// IsEmpty reports whether the setup contributes nothing.
func (s *Setup) IsEmpty() bool {
	return s == nil || (s.Raw == "" && len(s.Plays) == 0)
}

package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cochaviz/runqemu/internal/models"
)

// NoConfig disables reading an images config file.
const NoConfig = "NONE"

// ErrImageNotFound is returned by Get when no descriptor has the requested name.
var ErrImageNotFound = errors.New("image not found in config")

// ImageRepository reads image descriptors from a JSON file of the form
// {"images": [...]}.
type ImageRepository struct {
	Path string
}

type imagesFile struct {
	Images []models.ImageDescriptor `json:"images"`
}

// List returns every descriptor in the config. A missing file, or Path set
// to NoConfig, yields an empty list.
func (rep *ImageRepository) List() ([]models.ImageDescriptor, error) {
	if rep.Path == "" || rep.Path == NoConfig {
		return nil, nil
	}

	data, err := os.ReadFile(rep.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read images config %s: %w", rep.Path, err)
	}

	var file imagesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse images config %s: %w", rep.Path, err)
	}
	return file.Images, nil
}

// Get returns the descriptor with the given name.
func (rep *ImageRepository) Get(name string) (*models.ImageDescriptor, error) {
	if name == "" {
		return nil, errors.New("image name is required")
	}

	images, err := rep.List()
	if err != nil {
		return nil, err
	}
	for _, image := range images {
		if image.Name == name {
			clone := image
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("image %s in %s: %w", name, rep.Path, ErrImageNotFound)
}

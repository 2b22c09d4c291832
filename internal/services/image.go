package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cochaviz/runqemu/internal/cache"
	"github.com/cochaviz/runqemu/internal/models"
)

// ImageLocator turns a descriptor into one download URL.
type ImageLocator interface {
	Resolve(ctx context.Context, desc models.ImageDescriptor) (string, error)
}

// ImageFetcher makes sure a URL is cached under a label.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL, cacheDir, label string) (string, error)
}

// ImageService resolves and caches images.
type ImageService struct {
	Locator ImageLocator
	Fetcher ImageFetcher
	Logger  *slog.Logger
}

// Resolve returns where image comes from: its local file or its download
// URL.
func (s *ImageService) Resolve(ctx context.Context, image models.ImageDescriptor) (string, error) {
	method, err := s.method(image)
	if err != nil {
		return "", err
	}
	if method == models.ResolveLocalFile {
		return image.File, nil
	}
	return s.Locator.Resolve(ctx, image)
}

// Fetch returns a local file for image, downloading it into cacheDir when
// the descriptor names a remote source.
func (s *ImageService) Fetch(ctx context.Context, image models.ImageDescriptor, cacheDir string) (string, error) {
	logger := s.logger().With("image", image.Name)

	method, err := s.method(image)
	if err != nil {
		return "", err
	}
	if method == models.ResolveLocalFile {
		if _, err := os.Stat(image.File); err != nil {
			return "", fmt.Errorf("stat image file: %w", err)
		}
		logger.Debug("using local image file", "path", image.File)
		return image.File, nil
	}

	url, err := s.Locator.Resolve(ctx, image)
	if err != nil {
		return "", err
	}
	logger.Info("resolved image", "url", url, "method", method)

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory %s: %w", cacheDir, err)
	}

	path, err := s.Fetcher.Fetch(ctx, url, cacheDir, image.Name)
	if err != nil {
		return "", err
	}
	return path, nil
}

// CachedImage describes a configured image and its cache state.
type CachedImage struct {
	Descriptor models.ImageDescriptor
	Method     models.ResolutionMethod
	Path       string
	Cached     bool
}

// Inspect reports how each image resolves and whether it is already cached.
// Descriptors that cannot resolve are listed with an empty method.
func (s *ImageService) Inspect(images []models.ImageDescriptor, cacheDir string) ([]CachedImage, error) {
	out := make([]CachedImage, 0, len(images))
	for _, image := range images {
		entry := CachedImage{Descriptor: image}
		if method, err := image.Method(); err == nil {
			entry.Method = method
		} else {
			s.logger().Warn("image cannot be resolved", "image", image.Name, "error", err)
		}

		if entry.Method == models.ResolveLocalFile {
			entry.Path = image.File
			_, err := os.Stat(image.File)
			entry.Cached = err == nil
		} else {
			path, ok, err := cache.Cached(cacheDir, image.Name)
			if err != nil {
				return nil, err
			}
			entry.Path, entry.Cached = path, ok
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *ImageService) method(image models.ImageDescriptor) (models.ResolutionMethod, error) {
	if err := image.Validate(); err != nil {
		return models.ResolveNone, &ConfigError{Field: "image", Message: err.Error()}
	}
	return image.Method()
}

func (s *ImageService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

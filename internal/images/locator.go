// Package images resolves image descriptors to a single download URL.
package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cochaviz/runqemu/arch"
	"github.com/cochaviz/runqemu/internal/models"
)

// Locator resolves descriptors using a direct source, a compose, or a
// CentOS Stream HTML index.
type Locator struct {
	Client *http.Client
	Arch   arch.Architecture
	Logger *slog.Logger
}

// Resolve returns the URL to download for desc.
func (l *Locator) Resolve(ctx context.Context, desc models.ImageDescriptor) (string, error) {
	method, err := desc.Method()
	if err != nil {
		return "", err
	}

	logger := l.logger().With("image", desc.Name, "method", string(method))

	switch method {
	case models.ResolveSource:
		return desc.Source, nil
	case models.ResolveCompose:
		urls, err := l.composeImages(ctx, desc.Compose, desc.Variant, desc.Subvariant)
		if err != nil {
			return "", fmt.Errorf("resolve compose %s: %w", desc.Compose, err)
		}
		switch len(urls) {
		case 1:
			logger.Debug("resolved compose image", "url", urls[0])
			return urls[0], nil
		case 0:
			logger.Error("no image found in compose", "compose", desc.Compose)
			return "", &ResolutionError{Image: desc.Name, Reason: "no image found in compose " + desc.Compose}
		default:
			logger.Error("multiple images found in compose", "compose", desc.Compose, "candidates", strings.Join(urls, ","))
			return "", &ResolutionError{Image: desc.Name, Reason: "multiple images found in compose " + desc.Compose, Candidates: urls}
		}
	case models.ResolveCentOSHTML:
		url, err := l.centosImage(ctx, desc.CentOSHTML)
		if err != nil {
			logger.Error("could not resolve CentOS image index", "index", desc.CentOSHTML, "error", err)
			return "", &ResolutionError{Image: desc.Name, Reason: err.Error()}
		}
		logger.Debug("resolved CentOS image", "url", url)
		return url, nil
	default:
		return "", fmt.Errorf("image %s uses a local file and needs no download", desc.Name)
	}
}

func (l *Locator) arch() arch.Architecture {
	if l.Arch != "" {
		return l.Arch
	}
	return arch.Default
}

func (l *Locator) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *Locator) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// get fetches url and returns the body. The caller closes it.
func (l *Locator) get(ctx context.Context, url string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, resp.StatusCode, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, resp.StatusCode, nil
}

func withTrailingSlash(url string) string {
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}

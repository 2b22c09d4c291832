package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Origin is a remote location images are fetched from.
type Origin interface {
	// LastModified returns the origin's modification stamp without
	// transferring the body. An empty string means the origin has none.
	LastModified(ctx context.Context, url string) (string, error)
	// Open streams the body. The caller closes it.
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPOrigin serves http and https URLs.
type HTTPOrigin struct {
	Client *http.Client
}

func (o *HTTPOrigin) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o *HTTPOrigin) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %s", method, url, resp.Status)
	}
	return resp, nil
}

func (o *HTTPOrigin) LastModified(ctx context.Context, url string) (string, error) {
	resp, err := o.do(ctx, http.MethodHead, url)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Header.Get("Last-Modified"), nil
}

func (o *HTTPOrigin) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := o.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

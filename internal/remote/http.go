package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 64 << 20

// httpTransport holds what WebDAV and cloud clients share.
type httpTransport struct {
	backend   string
	url       string
	client    *http.Client
	authorize func(*http.Request)
}

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (t *httpTransport) getJSON(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", t.backend, err)
	}
	req.Header.Set("Accept", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s GET failed: %w", t.backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Backend: t.backend, Method: http.MethodGet, StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s GET failed: %w", t.backend, err)
	}
	v, err := schema.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s GET failed: invalid JSON: %w", t.backend, err)
	}
	return v, nil
}

func (t *httpTransport) putJSON(ctx context.Context, data schema.AppData) error {
	body, err := schema.Marshal(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", t.backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s PUT failed: %w", t.backend, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Backend: t.backend, Method: http.MethodPut, StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}
	return nil
}

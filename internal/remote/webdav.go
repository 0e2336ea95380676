package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// WebDAVClient reads and writes the document on a WebDAV server using basic
// authentication.
type WebDAVClient struct {
	t httpTransport
}

// NewWebDAVClient returns a client for the folder or file at rawURL. A nil
// httpClient uses one with DefaultTimeout.
func NewWebDAVClient(rawURL, username, password string, httpClient *http.Client) (*WebDAVClient, error) {
	u := NormalizeWebDAVURL(rawURL)
	if u == "" {
		return nil, fmt.Errorf("WebDAV URL is not configured")
	}
	return &WebDAVClient{t: httpTransport{
		backend: "WebDAV",
		url:     u,
		client:  newHTTPClient(httpClient),
		authorize: func(req *http.Request) {
			if username != "" || password != "" {
				req.SetBasicAuth(username, password)
			}
		},
	}}, nil
}

// URL returns the normalized data file URL.
func (c *WebDAVClient) URL() string { return c.t.url }

// GetJSON fetches the remote document.
func (c *WebDAVClient) GetJSON(ctx context.Context) (any, error) {
	return c.t.getJSON(ctx)
}

// PutJSON uploads data.
func (c *WebDAVClient) PutJSON(ctx context.Context, data schema.AppData) error {
	return c.t.putJSON(ctx, data)
}

func (c *WebDAVClient) String() string {
	return "webdav " + Redact(c.t.url)
}

package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// CloudClient talks to a mindwtr cloud endpoint with a bearer token.
type CloudClient struct {
	t httpTransport
}

// NewCloudClient returns a client for the cloud base URL. The URL must be
// HTTPS unless it points at a local host.
func NewCloudClient(rawURL, token string, httpClient *http.Client) (*CloudClient, error) {
	u := NormalizeCloudURL(rawURL)
	if u == "" {
		return nil, fmt.Errorf("cloud URL is not configured")
	}
	if err := RequireSecureURL(u); err != nil {
		return nil, err
	}
	return &CloudClient{t: httpTransport{
		backend: "Cloud",
		url:     u,
		client:  newHTTPClient(httpClient),
		authorize: func(req *http.Request) {
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		},
	}}, nil
}

// URL returns the normalized data endpoint.
func (c *CloudClient) URL() string { return c.t.url }

// GetJSON fetches the remote document.
func (c *CloudClient) GetJSON(ctx context.Context) (any, error) {
	return c.t.getJSON(ctx)
}

// PutJSON uploads data.
func (c *CloudClient) PutJSON(ctx context.Context, data schema.AppData) error {
	return c.t.putJSON(ctx, data)
}

func (c *CloudClient) String() string {
	return "cloud " + Redact(c.t.url)
}

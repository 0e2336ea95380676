// Package remote implements the transports used to read and write the
// shared sync document: a JSON file on a shared path, a WebDAV resource, and
// the mindwtr cloud endpoint.
//
// Every client exchanges the same document shape as local storage. GetJSON
// returns the decoded JSON value without interpreting it, so the caller can
// validate its shape before normalizing; a missing document is (nil, nil).
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// DefaultTimeout bounds every HTTP request.
const DefaultTimeout = 30 * time.Second

// ErrInsecureURL is returned for cloud URLs that are not HTTPS.
var ErrInsecureURL = errors.New("cloud sync requires HTTPS (except localhost)")

// Client reads and writes the shared document.
type Client interface {
	// GetJSON returns the decoded remote document, or nil when none exists.
	GetJSON(ctx context.Context) (any, error)
	// PutJSON replaces the remote document.
	PutJSON(ctx context.Context, data schema.AppData) error
	// String describes the endpoint without credentials.
	String() string
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	Backend    string
	Method     string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed (%d): %s", e.Backend, e.Method, e.StatusCode, e.Status)
}

// Unauthorized reports whether the server rejected the credentials.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// NormalizeWebDAVURL returns the URL of the data file for a WebDAV folder or
// file URL. A URL already ending in .json is used as is; anything else is
// treated as a folder holding data.json.
func NormalizeWebDAVURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasSuffix(lower, "/data.json") || strings.HasSuffix(lower, ".json") {
		return trimmed
	}
	return trimmed + "/data.json"
}

// NormalizeCloudURL returns the data endpoint for a cloud base URL.
func NormalizeCloudURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	if strings.HasSuffix(trimmed, "/data") {
		return trimmed
	}
	return trimmed + "/data"
}

// RequireSecureURL returns ErrInsecureURL unless raw is an https URL or an
// http URL on a loopback or emulator host.
func RequireSecureURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1", "10.0.2.2":
			return nil
		}
	}
	return ErrInsecureURL
}

// Redact returns raw with any userinfo and query removed.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

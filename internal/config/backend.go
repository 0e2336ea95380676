package config

import (
	"fmt"
	"strings"
)

// Keys of the backend configuration.
const (
	KeyBackend        = "mindwtr-sync-backend"
	KeyWebDAVURL      = "mindwtr-webdav-url"
	KeyWebDAVUsername = "mindwtr-webdav-username"
	KeyWebDAVPassword = "mindwtr-webdav-password"
	KeyCloudURL       = "mindwtr-cloud-url"
	KeyCloudToken     = "mindwtr-cloud-token"
	KeySyncPath       = "mindwtr-sync-path"
)

// BackendKeys lists every backend configuration key.
var BackendKeys = []string{
	KeyBackend,
	KeyWebDAVURL,
	KeyWebDAVUsername,
	KeyWebDAVPassword,
	KeyCloudURL,
	KeyCloudToken,
	KeySyncPath,
}

var secretKeys = map[string]bool{
	KeyWebDAVPassword: true,
	KeyCloudToken:     true,
}

// Backend selects where the shared document lives.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendWebDAV Backend = "webdav"
	BackendCloud  Backend = "cloud"
	BackendOff    Backend = "off"
)

// ParseBackend parses a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendFile, BackendWebDAV, BackendCloud, BackendOff:
		return b, nil
	}
	return "", fmt.Errorf("invalid backend %q (must be file, webdav, cloud or off)", s)
}

// WebDAVConfig is the WebDAV endpoint and credentials.
type WebDAVConfig struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"-"`
}

// CloudConfig is the cloud endpoint and token.
type CloudConfig struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"-" yaml:"-"`
}

// BackendStore reads and writes backend configuration through a KV.
// Passwords and tokens go to the secret KV when one is set.
type BackendStore struct {
	kv      KV
	secrets KV
}

// NewBackendStore returns a store over kv. A nil secrets stores secrets in
// kv.
func NewBackendStore(kv KV, secrets KV) (*BackendStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv cannot be nil")
	}
	if secrets == nil {
		secrets = kv
	}
	return &BackendStore{kv: kv, secrets: secrets}, nil
}

func (b *BackendStore) target(key string) KV {
	if secretKeys[key] {
		return b.secrets
	}
	return b.kv
}

func (b *BackendStore) get(key string) (string, error) {
	v, _, err := b.target(key).Get(key)
	return v, err
}

func (b *BackendStore) set(key, value string) error {
	return b.target(key).Set(key, value)
}

// Backend returns the selected backend. Unknown or missing values select
// the file backend.
func (b *BackendStore) Backend() (Backend, error) {
	raw, err := b.get(KeyBackend)
	if err != nil {
		return "", err
	}
	backend, err := ParseBackend(raw)
	if err != nil {
		return BackendFile, nil
	}
	return backend, nil
}

// SetBackend selects a backend.
func (b *BackendStore) SetBackend(backend Backend) error {
	if _, err := ParseBackend(string(backend)); err != nil {
		return err
	}
	return b.set(KeyBackend, string(backend))
}

// WebDAV returns the WebDAV configuration. Missing keys are empty.
func (b *BackendStore) WebDAV() (WebDAVConfig, error) {
	var cfg WebDAVConfig
	var err error
	if cfg.URL, err = b.get(KeyWebDAVURL); err != nil {
		return cfg, err
	}
	if cfg.Username, err = b.get(KeyWebDAVUsername); err != nil {
		return cfg, err
	}
	if cfg.Password, err = b.get(KeyWebDAVPassword); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SetWebDAV stores the WebDAV configuration.
func (b *BackendStore) SetWebDAV(cfg WebDAVConfig) error {
	if err := b.set(KeyWebDAVURL, strings.TrimSpace(cfg.URL)); err != nil {
		return err
	}
	if err := b.set(KeyWebDAVUsername, cfg.Username); err != nil {
		return err
	}
	return b.set(KeyWebDAVPassword, cfg.Password)
}

// Cloud returns the cloud configuration. Missing keys are empty.
func (b *BackendStore) Cloud() (CloudConfig, error) {
	var cfg CloudConfig
	var err error
	if cfg.URL, err = b.get(KeyCloudURL); err != nil {
		return cfg, err
	}
	if cfg.Token, err = b.get(KeyCloudToken); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SetCloud stores the cloud configuration.
func (b *BackendStore) SetCloud(cfg CloudConfig) error {
	if err := b.set(KeyCloudURL, strings.TrimSpace(cfg.URL)); err != nil {
		return err
	}
	return b.set(KeyCloudToken, strings.TrimSpace(cfg.Token))
}

// SyncPath returns the file backend path.
func (b *BackendStore) SyncPath() (string, error) {
	return b.get(KeySyncPath)
}

// SetSyncPath stores the file backend path.
func (b *BackendStore) SetSyncPath(path string) error {
	return b.set(KeySyncPath, strings.TrimSpace(path))
}

// MigrateLegacy copies backend keys from legacy into managed when managed
// holds none of them and legacy holds at least one, then removes them from
// legacy. It reports whether anything was migrated. Running it again is a
// no-op.
func MigrateLegacy(legacy, managed KV) (bool, error) {
	if legacy == nil || managed == nil {
		return false, nil
	}

	for _, key := range BackendKeys {
		v, ok, err := managed.Get(key)
		if err != nil {
			return false, fmt.Errorf("failed to read managed config: %w", err)
		}
		if ok && v != "" {
			return false, nil
		}
	}

	found := make(map[string]string)
	for _, key := range BackendKeys {
		v, ok, err := legacy.Get(key)
		if err != nil {
			return false, fmt.Errorf("failed to read legacy config: %w", err)
		}
		if ok {
			found[key] = v
		}
	}
	if len(found) == 0 {
		return false, nil
	}

	for _, key := range BackendKeys {
		v, ok := found[key]
		if !ok {
			continue
		}
		if err := managed.Set(key, v); err != nil {
			return false, fmt.Errorf("failed to migrate %s: %w", key, err)
		}
	}
	for _, key := range BackendKeys {
		if _, ok := found[key]; !ok {
			continue
		}
		if err := legacy.Delete(key); err != nil {
			return true, fmt.Errorf("failed to clear legacy %s: %w", key, err)
		}
	}
	return true, nil
}

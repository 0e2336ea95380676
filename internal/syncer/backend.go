package syncer

import (
	"context"
	"errors"
	"net/http"

	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/remote"
)

// Target is the resolved remote side of a sync run.
type Target struct {
	Backend config.Backend
	Client  remote.Client
}

// BackendResolver picks the remote for a run. It returns a *ConfigError
// when the active backend is missing required settings.
type BackendResolver interface {
	Resolve(ctx context.Context) (Target, error)
}

// ResolverFunc adapts a function to BackendResolver.
type ResolverFunc func(ctx context.Context) (Target, error)

func (f ResolverFunc) Resolve(ctx context.Context) (Target, error) { return f(ctx) }

// StaticResolver always resolves to client.
func StaticResolver(backend config.Backend, client remote.Client) BackendResolver {
	return ResolverFunc(func(context.Context) (Target, error) {
		return Target{Backend: backend, Client: client}, nil
	})
}

// StoreResolver resolves the backend from a config.BackendStore.
type StoreResolver struct {
	Store *config.BackendStore
	// HTTPClient is used by WebDAV and cloud clients; nil uses the
	// package default with remote.DefaultTimeout.
	HTTPClient *http.Client
}

// Resolve implements BackendResolver.
func (r StoreResolver) Resolve(ctx context.Context) (Target, error) {
	backend, err := r.Store.Backend()
	if err != nil {
		return Target{}, &ConfigError{Msg: "failed to read backend configuration", Err: err}
	}

	switch backend {
	case config.BackendOff:
		return Target{}, &ConfigError{Backend: backend, Msg: "sync is turned off"}

	case config.BackendWebDAV:
		cfg, err := r.Store.WebDAV()
		if err != nil {
			return Target{}, &ConfigError{Backend: backend, Msg: "failed to read WebDAV configuration", Err: err}
		}
		if cfg.URL == "" {
			return Target{}, &ConfigError{Backend: backend, Msg: "WebDAV URL not configured"}
		}
		client, err := remote.NewWebDAVClient(cfg.URL, cfg.Username, cfg.Password, r.HTTPClient)
		if err != nil {
			return Target{}, &ConfigError{Backend: backend, Msg: "invalid WebDAV configuration", Err: err}
		}
		return Target{Backend: backend, Client: client}, nil

	case config.BackendCloud:
		cfg, err := r.Store.Cloud()
		if err != nil {
			return Target{}, &ConfigError{Backend: backend, Msg: "failed to read cloud configuration", Err: err}
		}
		if cfg.URL == "" || cfg.Token == "" {
			return Target{}, &ConfigError{Backend: backend, Msg: "cloud sync not configured"}
		}
		client, err := remote.NewCloudClient(cfg.URL, cfg.Token, r.HTTPClient)
		if err != nil {
			if errors.Is(err, remote.ErrInsecureURL) {
				return Target{}, &ConfigError{Backend: backend, Msg: remote.ErrInsecureURL.Error()}
			}
			return Target{}, &ConfigError{Backend: backend, Msg: "invalid cloud configuration", Err: err}
		}
		return Target{Backend: backend, Client: client}, nil

	default:
		path, err := r.Store.SyncPath()
		if err != nil {
			return Target{}, &ConfigError{Backend: config.BackendFile, Msg: "failed to read sync path", Err: err}
		}
		if path == "" {
			return Target{}, &ConfigError{Backend: config.BackendFile, Msg: "sync path not configured"}
		}
		client, err := remote.NewFileClient(path)
		if err != nil {
			return Target{}, &ConfigError{Backend: config.BackendFile, Msg: "invalid sync path", Err: err}
		}
		return Target{Backend: config.BackendFile, Client: client}, nil
	}
}

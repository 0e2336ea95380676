// Package cloudserver is a small self-hosted endpoint for the cloud sync
// backend.
//
// Each bearer token owns one JSON document, stored as <sha256(token)>.json
// in the data directory. The server does not merge: clients read, merge
// locally and write the whole document back.
package cloudserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes caps PUT bodies.
const DefaultMaxBodyBytes = 10 << 20 // 10MiB

// Config holds server configuration
type Config struct {
	// Listen is the address to bind (default ":8787")
	Listen string

	// DataDir holds one document per token
	DataDir string

	// MaxBodyBytes caps request bodies (default 10MiB)
	MaxBodyBytes int64

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// Server is the cloud sync HTTP server
type Server struct {
	config *Config
	router *gin.Engine
	logger *log.Logger

	// writeMu serializes writes to the same document.
	writeMu sync.Mutex

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// New creates a server and its data directory.
func New(config *Config) (*Server, error) {
	if config == nil || config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	cfg := *config
	if cfg.Listen == "" {
		cfg.Listen = ":8787"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[cloud] ", log.LstdFlags)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors())

	s := &Server{
		config: &cfg,
		router: router,
		logger: logger,
	}

	router.GET("/health", s.handleHealth)
	router.OPTIONS("/*path", s.handleOptions)

	v1 := router.Group("/v1")
	v1.Use(s.requireToken)
	{
		v1.GET("/data", s.handleGetData)
		v1.PUT("/data", s.handlePutData)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// DataDir returns where documents are stored.
func (s *Server) DataDir() string {
	return s.config.DataDir
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	s.done = make(chan struct{})

	srv, done := s.server, s.done
	go func() {
		defer close(done)
		s.logger.Printf("dataDir: %s", s.config.DataDir)
		s.logger.Printf("listening on http://%s", ln.Addr())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Listen
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	<-done
	return nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Printf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET,PUT,OPTIONS")
		c.Next()
	}
}

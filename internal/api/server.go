// Package api exposes OutreachPipe's HTTP surface: health and inspection
// endpoints over the outreach engine, an on-demand snapshot save, and the
// inbound webhook of transports that deliver messages over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/dispatch"
	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Constants for server configuration
const (
	// DefaultAddr is the listen address used when none is configured
	DefaultAddr = ":8080"
	// DefaultWebhookPath is where transport webhooks are mounted
	DefaultWebhookPath = "/webhook/twilio"
	// readHeaderTimeout bounds slow clients
	readHeaderTimeout = 10 * time.Second
)

// Engine is the read side of the outreach engine used by the handlers.
type Engine interface {
	PendingTasks() []dispatch.TaskInfo
	Stage(userID string) models.Stage
	IsAwaitingReply(userID string) bool
}

// Saver writes a snapshot on demand.
type Saver interface {
	Save(ctx context.Context) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr        string
	Saver       Saver
	WebhookPath string
	Webhook     http.Handler
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSaver enables POST /snapshot.
func WithSaver(s Saver) Option {
	return func(o *Opts) { o.Saver = s }
}

// WithWebhook mounts h for POST requests at path. An empty path selects DefaultWebhookPath.
func WithWebhook(path string, h http.Handler) Option {
	return func(o *Opts) {
		o.WebhookPath = path
		o.Webhook = h
	}
}

// Server serves the HTTP API.
type Server struct {
	engine    Engine
	saver     Saver
	startedAt time.Time
	httpSrv   *http.Server
}

// NewServer creates a Server. It does not start listening.
func NewServer(engine Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{engine: engine, saver: cfg.Saver, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /tasks", s.tasksHandler)
	mux.HandleFunc("GET /users/{id}", s.userHandler)
	mux.HandleFunc("POST /snapshot", s.snapshotHandler)
	if cfg.Webhook != nil {
		path := cfg.WebhookPath
		if path == "" {
			path = DefaultWebhookPath
		}
		mux.Handle("POST "+path, cfg.Webhook)
		slog.Debug("API webhook mounted", "path", path)
	}

	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start listens on the configured address and serves in the background.
// Serve errors other than a clean shutdown are sent to the returned channel.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.httpSrv.Addr, err)
	}
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
			errs <- err
		}
	}()
	slog.Info("API server listening", "addr", ln.Addr().String())
	return errs, nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

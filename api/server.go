// Package api exposes a Booth over HTTP.
//
// Routes are served by bunrouter; request bodies are validated with
// go-playground/validator; the live watch channel is a WebSocket served by
// nhooyr.io/websocket. Errors from the engine are mapped to HTTP status
// codes in one place (see statusOf).
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bunrouter"

	"github.com/xraph/ticketbooth"
)

// Defaults for the service info endpoints.
const (
	DefaultName        = "ticketbooth"
	DefaultVersion     = "0.1.0"
	DefaultDescription = "Pay-per-view ticketing for autonomous agents"
)

// Server serves the ticketbooth HTTP API.
type Server struct {
	booth    *ticketbooth.Booth
	router   *bunrouter.Router
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	basePath       string
	environment    string
	version        string
	originPatterns []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBasePath mounts every route under prefix, e.g. "/ticketbooth".
func WithBasePath(prefix string) Option {
	return func(s *Server) { s.basePath = prefix }
}

// WithEnvironment sets the environment reported by /health.
func WithEnvironment(env string) Option {
	return func(s *Server) { s.environment = env }
}

// WithVersion sets the version reported by the root endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

// New creates a Server for b.
func New(b *ticketbooth.Booth, opts ...Option) *Server {
	s := &Server{
		booth:       b,
		validate:    newValidator(),
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		environment: "development",
		version:     DefaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = bunrouter.New(
		bunrouter.Use(s.handleErrors),
		bunrouter.WithNotFoundHandler(s.notFound),
	)
	s.router.WithGroup(s.basePath, s.routes)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(g *bunrouter.Group) {
	g.GET("/", s.root)
	g.GET("/health", s.health)

	g.POST("/agents", s.createAgent)
	g.GET("/agents/:agent_id", s.getAgent)

	g.GET("/streams", s.listStreams)
	g.POST("/streams", s.createStream)

	g.POST("/tickets/purchase", s.purchase)
	g.GET("/tickets/:ticket_id", s.getTicket)
	g.POST("/tickets/:ticket_id/confirm", s.confirm)
	g.GET("/tickets/:ticket_id/usage", s.usage)
	g.GET("/tickets/:ticket_id/watch", s.watch)

	g.POST("/digests/create", s.createDigest)
	g.GET("/digests/:digest_id", s.getDigest)
	g.POST("/digests/:digest_id/redeliver", s.redeliverDigest)
}

func (s *Server) root(w http.ResponseWriter, _ bunrouter.Request) error {
	return bunrouter.JSON(w, bunrouter.H{
		"name":        DefaultName,
		"version":     s.version,
		"description": DefaultDescription,
	})
}

func (s *Server) health(w http.ResponseWriter, _ bunrouter.Request) error {
	return bunrouter.JSON(w, bunrouter.H{
		"status":        "healthy",
		"timestamp":     s.now().Format(time.RFC3339),
		"environment":   s.environment,
		"live_sessions": s.booth.LiveSessions(),
	})
}

func (s *Server) notFound(w http.ResponseWriter, req bunrouter.Request) error {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found: " + req.URL.Path})
	return nil
}

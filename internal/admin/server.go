// Package admin serves the gateway's diagnostics listener: health, breaker
// status, Prometheus metrics, fallback responders and token revocation.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/streamflix/gateway/internal/apierror"
	"github.com/streamflix/gateway/internal/correlation"
	"github.com/streamflix/gateway/internal/health"
	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

const correlationKey = "correlation_id"

// Revoker revokes bearer tokens.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// Server is the admin HTTP handler.
type Server struct {
	engine  *gin.Engine
	logger  observability.Logger
	health  *health.Handler
	metrics http.Handler
	revoker Revoker
	ids     *correlation.Generator
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHealth mounts the health endpoints.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRevoker enables POST /gateway/tokens/revoke.
func WithRevoker(r Revoker) Option {
	return func(s *Server) { s.revoker = r }
}

// WithCorrelation sets the generator used for requests without an id.
func WithCorrelation(g *correlation.Generator) Option {
	return func(s *Server) { s.ids = g }
}

// New creates the admin server and registers its routes.
func New(opts ...Option) *Server {
	s := &Server{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids = correlation.NewGenerator(correlation.DefaultPrefix, nil)
	}

	s.engine = gin.New()
	s.engine.Use(s.correlationMiddleware(), s.recovery())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	if s.health != nil {
		s.health.RegisterRoutes(s.engine)
	}
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.engine.GET("/fallback", s.fallback)
	s.engine.POST("/fallback", s.fallback)
	s.engine.GET("/fallback/:service", s.fallback)
	s.engine.POST("/fallback/:service", s.fallback)

	if s.revoker != nil {
		s.engine.POST("/gateway/tokens/revoke", s.revoke)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		apierror.WriteError(c.Writer, http.StatusNotFound, apierror.CodeNotFound,
			"The requested resource was not found", correlationID(c))
	})
}

func (s *Server) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := s.ids.Ensure(c.Request)
		c.Set(correlationKey, id)
		c.Header(util.HeaderCorrelationID, id)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					observability.String("error", fmt.Sprint(err)),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("correlation_id", correlationID(c)),
					observability.String("stack", string(debug.Stack())),
				)
				if !c.Writer.Written() {
					apierror.WriteError(c.Writer, http.StatusInternalServerError, apierror.CodeInternalError,
						"An unexpected error occurred", correlationID(c))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

func correlationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

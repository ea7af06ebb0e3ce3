// Package api serves an OpenAI-compatible chat completions API over one
// loaded engine. The engine allows a single in-flight generation, so the
// server serializes requests with a mutex and throttles the endpoint
// with a token-bucket limiter.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/calebodell/ember/internal/inference"
	"github.com/calebodell/ember/internal/logger"
)

// Generator is the slice of the engine the server needs.
type Generator interface {
	GenerateStream(ctx context.Context, messages []inference.Message, callback inference.StreamCallback, cfg inference.GenerationConfig) (string, error)
	Stats() inference.Stats
	ContextUsage() int
	MaxContext() int
}

// Server wires the HTTP surface to one Generator.
type Server struct {
	engine   Generator
	engineMu sync.Mutex
	limiter  *rate.Limiter
	log      logger.Logger
	model    string
	clock    func() time.Time
}

// Options tunes server construction.
type Options struct {
	// Model is the id reported by /v1/models and echoed in responses.
	Model string
	// RequestsPerSecond throttles chat completions; zero disables the
	// limiter.
	RequestsPerSecond float64
	Logger            logger.Logger
}

// NewServer builds a server over the engine.
func NewServer(engine Generator, opts Options) *Server {
	s := &Server{
		engine: engine,
		log:    opts.Logger,
		model:  opts.Model,
		clock:  time.Now,
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	if s.model == "" {
		s.model = "ember"
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	}
	return s
}

// Register attaches the routes.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"context_used":  s.engine.ContextUsage(),
		"context_total": s.engine.MaxContext(),
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       s.model,
				"object":   "model",
				"created":  s.clock().Unix(),
				"owned_by": "local",
			},
		},
	})
}

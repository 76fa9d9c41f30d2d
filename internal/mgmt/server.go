// Package mgmt serves the admin API: live configuration of the cleanup
// subsystem, stats, and probes.
package mgmt

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/cleanup"
	"github.com/surgews/surge/internal/config"
	"github.com/surgews/surge/internal/health"
)

// ProblemDetail is the error body returned by the admin API.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Server is the admin API Fiber application.
type Server struct {
	app    *fiber.App
	store  *config.Store
	logger zerolog.Logger
}

// NewServer creates and configures the admin API server.
func NewServer(store *config.Store, gov *cleanup.Governor, checker *health.Checker, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		store:  store,
		logger: logger.With().Str("component", "admin_server").Logger(),
	}

	h := NewHandlers(store, gov, checker, logger)

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	// Audit middleware (skip noisy probes).
	app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" {
			return c.Next()
		}
		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Msg("admin api request")
		return c.Next()
	})

	// Probes are unauthenticated.
	app.Get("/healthz", h.Liveness)
	app.Get("/readyz", h.Readiness)

	v1 := app.Group("/api/v1", NewAuthMiddleware(store, logger))
	v1.Get("/config", h.GetConfig)
	v1.Patch("/cleanup/config", h.UpdateCleanupConfig)
	v1.Get("/cleanup/stats", h.CleanupStats)

	return s
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.store.Current().Admin.ListenAddr
	s.logger.Info().Str("addr", addr).Msg("admin API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("admin API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Instance: c.Path(),
		})
	}
}

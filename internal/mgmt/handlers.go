package mgmt

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/cleanup"
	"github.com/surgews/surge/internal/config"
	"github.com/surgews/surge/internal/health"
)

// Handlers holds the admin API handlers.
type Handlers struct {
	store   *config.Store
	gov     *cleanup.Governor
	checker *health.Checker
	logger  zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(store *config.Store, gov *cleanup.Governor, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:   store,
		gov:     gov,
		checker: checker,
		logger:  logger.With().Str("component", "admin_handlers").Logger(),
	}
}

// Liveness serves GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness serves GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())
	for _, s := range results {
		if s == health.StatusDown {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": results,
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// GetConfig serves GET /api/v1/config with the live snapshot.
func (h *Handlers) GetConfig(c *fiber.Ctx) error {
	return c.JSON(h.store.Current())
}

// CleanupUpdate is a partial update of the cleanup block. Absent fields keep
// their current value.
type CleanupUpdate struct {
	AsyncEnabled     *bool               `json:"async_enabled"`
	FallbackToSync   *bool               `json:"fallback_to_sync"`
	QueueBufferSize  *int                `json:"queue_buffer_size"`
	BatchSize        *int                `json:"batch_size"`
	BatchTimeoutMS   *int                `json:"batch_timeout_ms"`
	WorkerThreads    *config.WorkerCount `json:"worker_threads"`
	MaxRetryAttempts *int                `json:"max_retry_attempts"`
}

// UpdateCleanupConfig serves PATCH /api/v1/cleanup/config. The merged config
// is validated as a whole; an invalid update is rejected without applying.
func (h *Handlers) UpdateCleanupConfig(c *fiber.Ctx) error {
	var upd CleanupUpdate
	if err := c.BodyParser(&upd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ProblemDetail{
			Type:   "invalid_body",
			Title:  "Invalid Request Body",
			Status: fiber.StatusBadRequest,
			Detail: err.Error(),
		})
	}

	next := *h.store.Current()
	cl := &next.Cleanup
	if upd.AsyncEnabled != nil {
		cl.AsyncEnabled = *upd.AsyncEnabled
	}
	if upd.FallbackToSync != nil {
		cl.FallbackToSync = *upd.FallbackToSync
	}
	if upd.QueueBufferSize != nil {
		cl.QueueBufferSize = *upd.QueueBufferSize
	}
	if upd.BatchSize != nil {
		cl.BatchSize = *upd.BatchSize
	}
	if upd.BatchTimeoutMS != nil {
		cl.BatchTimeoutMS = *upd.BatchTimeoutMS
	}
	if upd.WorkerThreads != nil {
		cl.WorkerThreads = *upd.WorkerThreads
	}
	if upd.MaxRetryAttempts != nil {
		cl.MaxRetryAttempts = *upd.MaxRetryAttempts
	}

	if err := h.store.Apply(&next); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ProblemDetail{
			Type:   "invalid_config",
			Title:  "Configuration Rejected",
			Status: fiber.StatusUnprocessableEntity,
			Detail: err.Error(),
		})
	}

	h.logger.Info().Interface("cleanup", next.Cleanup).Msg("cleanup config updated")
	return c.JSON(next.Cleanup)
}

// CleanupStats serves GET /api/v1/cleanup/stats.
func (h *Handlers) CleanupStats(c *fiber.Ctx) error {
	stats := h.gov.Snapshot()
	return c.JSON(fiber.Map{
		"async_enabled": h.store.Current().Cleanup.AsyncEnabled,
		"stats":         stats,
	})
}

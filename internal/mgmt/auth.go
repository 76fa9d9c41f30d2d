package mgmt

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/surgews/surge/internal/config"
)

// NewAuthMiddleware enforces API-key auth on the admin API. The key is read
// from the live config so rotations apply without restart. Fail-closed: with
// no key configured, every request is rejected.
func NewAuthMiddleware(store *config.Store, logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "admin_auth").Logger()

	return func(c *fiber.Ctx) error {
		key := store.Current().Admin.APIKey
		if key == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(ProblemDetail{
				Type:   "auth_not_configured",
				Title:  "Admin API Key Not Configured",
				Status: fiber.StatusServiceUnavailable,
			})
		}

		presented := c.Get("X-API-Key")
		if presented == "" {
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			log.Warn().Str("ip", c.IP()).Str("path", c.Path()).Msg("admin api auth failed")
			return c.Status(fiber.StatusUnauthorized).JSON(ProblemDetail{
				Type:   "unauthorized",
				Title:  "Unauthorized",
				Status: fiber.StatusUnauthorized,
			})
		}
		return c.Next()
	}
}

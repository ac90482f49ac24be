// Package fiber mounts the webhook reconciler on a Fiber app.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goreconcile/pkg/api"
)

// Config holds adapter configuration
type Config struct {
	// Handler processes webhook bodies (required)
	Handler *api.Handler

	// OnResponse is called with the outcome before it is written.
	// It may set headers but must not write the body.
	OnResponse func(c *fiber.Ctx, status int, resp api.Response)
}

// Handler returns a Fiber handler that reconciles the request body.
// Register it on a POST route.
func Handler(cfg Config) fiber.Handler {
	if cfg.Handler == nil {
		panic("goreconcile/fiber: Config.Handler is required")
	}

	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")

		body := c.Body()
		if len(body) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(api.Response{
				Success: false,
				Message: "invalid request body",
				Error:   "empty body",
			})
		}

		status, resp := cfg.Handler.Process(c.UserContext(), body)
		if cfg.OnResponse != nil {
			cfg.OnResponse(c, status, resp)
		}
		return c.Status(status).JSON(resp)
	}
}

// Package echo mounts the webhook reconciler on an Echo server.
package echo

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/goreconcile/pkg/api"
)

// Config holds adapter configuration
type Config struct {
	// Handler processes webhook bodies (required)
	Handler *api.Handler

	// MaxBodyBytes limits the request body. Default: api.DefaultMaxBodyBytes
	MaxBodyBytes int64

	// OnResponse is called with the outcome before it is written.
	OnResponse func(c echo.Context, status int, resp api.Response)
}

// Handler returns an Echo handler that reconciles the request body.
func Handler(cfg Config) echo.HandlerFunc {
	if cfg.Handler == nil {
		panic("goreconcile/echo: Config.Handler is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = api.DefaultMaxBodyBytes
	}

	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderCacheControl, "no-store")
		h.Set(echo.HeaderXContentTypeOptions, "nosniff")

		req := c.Request()
		body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, cfg.MaxBodyBytes))
		if err != nil {
			status := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
			return c.JSON(status, api.Response{
				Success: false,
				Message: "invalid request body",
				Error:   err.Error(),
			})
		}
		if len(body) == 0 {
			return c.JSON(http.StatusBadRequest, api.Response{
				Success: false,
				Message: "invalid request body",
				Error:   "empty body",
			})
		}

		status, resp := cfg.Handler.Process(req.Context(), body)
		if cfg.OnResponse != nil {
			cfg.OnResponse(c, status, resp)
		}
		return c.JSON(status, resp)
	}
}

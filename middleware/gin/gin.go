// Package gin mounts the webhook reconciler on a Gin engine.
package gin

import (
	"errors"
	"io"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/goreconcile/pkg/api"
)

// Config holds adapter configuration
type Config struct {
	// Handler processes webhook bodies (required)
	Handler *api.Handler

	// MaxBodyBytes limits the request body. Default: api.DefaultMaxBodyBytes
	MaxBodyBytes int64

	// OnResponse is called with the outcome before it is written.
	OnResponse func(c *gongin.Context, status int, resp api.Response)
}

// Handler returns a Gin handler that reconciles the request body.
func Handler(cfg Config) gongin.HandlerFunc {
	if cfg.Handler == nil {
		panic("goreconcile/gin: Config.Handler is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = api.DefaultMaxBodyBytes
	}

	return func(c *gongin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("X-Content-Type-Options", "nosniff")

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodyBytes))
		if err != nil {
			status := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
			c.AbortWithStatusJSON(status, api.Response{Success: false, Message: "invalid request body", Error: err.Error()})
			return
		}
		if len(body) == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.Response{Success: false, Message: "invalid request body", Error: "empty body"})
			return
		}

		status, resp := cfg.Handler.Process(c.Request.Context(), body)
		if cfg.OnResponse != nil {
			cfg.OnResponse(c, status, resp)
		}
		c.JSON(status, resp)
	}
}

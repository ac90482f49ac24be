// Package api exposes the reconciler as an HTTP webhook endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/goreconcile/pkg/api/internal"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// Handler serves provider webhook deliveries.
type Handler struct {
	config Config
}

// WebhookHandler returns the endpoint handler, rate limited when configured.
func (h *Handler) WebhookHandler() http.Handler {
	if h.config.RateLimit > 0 {
		limiter := internal.NewRateLimiter(h.config.RateLimit, h.config.RateLimitWindow)
		return limiter.Middleware(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Message: "method not allowed"})
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.config.MaxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeJSON(w, status, Response{Success: false, Message: "invalid request body", Error: err.Error()})
		return
	}

	status, resp := h.Process(r.Context(), body)
	h.writeJSON(w, status, resp)
}

// Process decodes and reconciles one webhook body and returns the HTTP status
// and response to send. Framework adapters call it with the raw request body.
func (h *Handler) Process(ctx context.Context, body []byte) (status int, resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			h.config.Logger.Error("Webhook processing panicked", reconcile.Field{Key: "panic", Value: fmt.Sprint(rec)})
			status = http.StatusInternalServerError
			resp = Response{Success: false, Message: "internal error", Error: fmt.Sprint(rec)}
		}
	}()

	ev, err := reconcile.ParseEvent(body)
	if err != nil {
		return http.StatusBadRequest, Response{Success: false, Message: "malformed payload", Error: err.Error()}
	}

	if h.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ProcessTimeout)
		defer cancel()
	}

	out := h.config.Reconciler.Reconcile(ctx, ev)
	return StatusFor(out), ResponseFor(out)
}

// StatusFor maps a reconciliation outcome to an HTTP status code.
func StatusFor(out reconcile.Outcome) int {
	switch out.Kind {
	case reconcile.OutcomeCreated, reconcile.OutcomeUpdated, reconcile.OutcomeIgnored:
		return http.StatusOK
	case reconcile.OutcomeRejected:
		return http.StatusBadRequest
	default:
		if out.Err != nil && reconcile.IsClientError(out.Err) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// ResponseFor builds the JSON body for a reconciliation outcome.
func ResponseFor(out reconcile.Outcome) Response {
	resp := Response{Success: out.Accepted, Message: out.Message, UserID: out.AccountID}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp Response) {
	if err := internal.WriteJSON(w, status, resp); err != nil {
		h.config.Logger.Warn("Failed to write webhook response", reconcile.Field{Key: "error", Value: err.Error()})
	}
}

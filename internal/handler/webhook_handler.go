// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/httputil"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/service"
)

const defaultMaxBodyBytes = 5 << 20

// WebhookProcessor applies a raw provider payload.
type WebhookProcessor interface {
	Process(ctx context.Context, body []byte) (service.WebhookResult, error)
}

var _ WebhookProcessor = (*service.WebhookService)(nil)

// WebhookHandler receives Postmark Bounce, Delivery and SpamComplaint callbacks.
type WebhookHandler struct {
	Service  WebhookProcessor
	MaxBytes int64
}

// HandlePostmark answers 200 once every event is durably recorded. A 5xx
// makes the provider redeliver, which is safe because events are deduplicated.
func (h *WebhookHandler) HandlePostmark(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
			return
		}
		httputil.BadRequest(w, "failed to read body")
		return
	}

	result, err := h.Service.Process(r.Context(), body)
	if err != nil {
		if appErrors.IsValidation(err) {
			logger.L().Warn("rejected webhook payload", zap.Error(err))
			httputil.Error(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, result)
}

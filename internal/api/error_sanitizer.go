package api

import (
	"errors"
	"net/http"

	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/service/analytics"
	"github.com/ignite/txmail/internal/service/event"
	"github.com/ignite/txmail/internal/service/message"
	"github.com/ignite/txmail/internal/service/suppression"
	"github.com/ignite/txmail/internal/service/webhook"
)

// respondError maps service sentinels to HTTP status codes. 4xx messages are
// caller input problems and are returned as-is; anything unrecognised is
// logged and answered with a generic 500 so internals never leak.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, message.ErrInvalidMessage),
		errors.Is(err, message.ErrTemplateNotFound),
		errors.Is(err, event.ErrInvalidEvent),
		errors.Is(err, suppression.ErrInvalidEmail),
		errors.Is(err, suppression.ErrInvalidReason),
		errors.Is(err, suppression.ErrTooMany),
		errors.Is(err, webhook.ErrInvalidWebhook),
		errors.Is(err, analytics.ErrInvalidRequest):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, message.ErrNotFound),
		errors.Is(err, event.ErrMessageNotFound),
		errors.Is(err, suppression.ErrNotFound),
		errors.Is(err, webhook.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, message.ErrNotCancellable),
		errors.Is(err, event.ErrNotSent):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

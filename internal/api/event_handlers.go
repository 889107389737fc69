package api

import (
	"net/http"

	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/service/event"
)

type eventHandlers struct {
	svc EventService
}

// POST /v1/events
//
// Transport callbacks. A repeated single-fire event is acknowledged with
// duplicate=true rather than an error so callers do not retry it.
func (h *eventHandlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req event.IngestRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.Ingest(r.Context(), DomainFrom(r.Context()), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Accepted(w, res)
}

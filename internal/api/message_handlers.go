package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/service/message"
)

type messageHandlers struct {
	svc MessageService
}

// POST /v1/messages
func (h *messageHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req message.CreateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), DomainFrom(r.Context()), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Accepted(w, res)
}

// GET /v1/messages?status=&recipient=&tag=&limit=&offset=
func (h *messageHandlers) list(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 500)
	q := r.URL.Query()
	msgs, total, err := h.svc.List(r.Context(), DomainFrom(r.Context()), message.ListFilter{
		Status:    q.Get("status"),
		Recipient: q.Get("recipient"),
		Tag:       q.Get("tag"),
		Limit:     p.Limit,
		Offset:    p.Offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	httputil.OK(w, NewPaginatedResponse(msgs, p, total))
}

// GET /v1/messages/{id}
func (h *messageHandlers) get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, m)
}

// GET /v1/messages/{id}/events
func (h *messageHandlers) timeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.svc.Timeline(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, tl)
}

// POST /v1/messages/{id}/cancel
func (h *messageHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Cancel(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, m)
}

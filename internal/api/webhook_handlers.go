package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/service/webhook"
)

type webhookHandlers struct {
	svc WebhookService
}

// POST /v1/webhooks
//
// The signing secret is only returned here and by rotate-secret.
func (h *webhookHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req webhook.CreateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	wh, err := h.svc.Create(r.Context(), DomainFrom(r.Context()), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, wh)
}

// GET /v1/webhooks
func (h *webhookHandlers) list(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.svc.List(r.Context(), DomainFrom(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	if hooks == nil {
		hooks = []domain.Webhook{}
	}
	httputil.OK(w, map[string]interface{}{"webhooks": hooks})
}

// GET /v1/webhooks/{id}
func (h *webhookHandlers) get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.svc.Get(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, wh)
}

// PATCH /v1/webhooks/{id}
func (h *webhookHandlers) update(w http.ResponseWriter, r *http.Request) {
	var req webhook.UpdateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	wh, err := h.svc.Update(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, wh)
}

// DELETE /v1/webhooks/{id}
func (h *webhookHandlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// POST /v1/webhooks/{id}/rotate-secret
func (h *webhookHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	secret, err := h.svc.RotateSecret(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"secret": secret})
}

// POST /v1/webhooks/{id}/test
func (h *webhookHandlers) test(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Test(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, a)
}

// GET /v1/webhooks/{id}/deliveries?limit=
func (h *webhookHandlers) deliveries(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", 50)
	ds, err := h.svc.Deliveries(r.Context(), DomainFrom(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if ds == nil {
		ds = []domain.WebhookDelivery{}
	}
	httputil.OK(w, map[string]interface{}{"deliveries": ds})
}

package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/service/suppression"
)

type suppressionHandlers struct {
	svc SuppressionService
}

type addSuppressionRequest struct {
	Email       string                   `json:"email"`
	Reason      domain.SuppressionReason `json:"reason"`
	Description string                   `json:"description,omitempty"`
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
}

type bulkSuppressionRequest struct {
	Emails      []string                 `json:"emails"`
	Reason      domain.SuppressionReason `json:"reason,omitempty"`
	Description string                   `json:"description,omitempty"`
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
}

func reasonOrManual(r domain.SuppressionReason) domain.SuppressionReason {
	if r == "" {
		return domain.ReasonManual
	}
	return r
}

// POST /v1/suppressions
func (h *suppressionHandlers) add(w http.ResponseWriter, r *http.Request) {
	var req addSuppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	s, created, err := h.svc.Add(r.Context(), DomainFrom(r.Context()), req.Email, reasonOrManual(req.Reason),
		suppression.AddOptions{Source: domain.SourceAPI, Description: req.Description, ExpiresAt: req.ExpiresAt})
	if err != nil {
		respondError(w, err)
		return
	}
	if created {
		httputil.Created(w, s)
		return
	}
	httputil.OK(w, s)
}

// POST /v1/suppressions/bulk
func (h *suppressionHandlers) bulkAdd(w http.ResponseWriter, r *http.Request) {
	var req bulkSuppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.BulkAdd(r.Context(), DomainFrom(r.Context()), req.Emails, reasonOrManual(req.Reason),
		suppression.AddOptions{Source: domain.SourceAPI, Description: req.Description, ExpiresAt: req.ExpiresAt})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// POST /v1/suppressions/bulk-delete
func (h *suppressionHandlers) bulkRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emails []string `json:"emails"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.BulkRemove(r.Context(), DomainFrom(r.Context()), req.Emails)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// GET /v1/suppressions?reason=&search=&limit=&offset=
func (h *suppressionHandlers) list(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 100, 1000)
	q := r.URL.Query()
	items, total, err := h.svc.List(r.Context(), DomainFrom(r.Context()), suppression.ListFilter{
		Reason: q.Get("reason"),
		Search: q.Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []domain.Suppression{}
	}
	httputil.OK(w, NewPaginatedResponse(items, p, total))
}

// GET /v1/suppressions/stats
func (h *suppressionHandlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStats(r.Context(), DomainFrom(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}

// POST /v1/suppressions/check
func (h *suppressionHandlers) check(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emails []string `json:"emails"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.CheckMultiple(r.Context(), DomainFrom(r.Context()), req.Emails)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"results": res})
}

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if e, err := url.PathUnescape(raw); err == nil {
		return e
	}
	return raw
}

// GET /v1/suppressions/{email}
func (h *suppressionHandlers) get(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.IsSuppressed(r.Context(), DomainFrom(r.Context()), emailParam(r))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}

// DELETE /v1/suppressions/{email}
func (h *suppressionHandlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), DomainFrom(r.Context()), emailParam(r)); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

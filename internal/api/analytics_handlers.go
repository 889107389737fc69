package api

import (
	"net/http"
	"time"

	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/service/analytics"
)

type analyticsHandlers struct {
	svc AnalyticsService
}

// request parses ?start=&end=&period=&category=&limit=. It writes a 400 and
// returns false on malformed dates.
func (h *analyticsHandlers) request(w http.ResponseWriter, r *http.Request) (analytics.Request, bool) {
	q := r.URL.Query()
	req := analytics.Request{
		DomainID: DomainFrom(r.Context()),
		Period:   q.Get("period"),
		Category: q.Get("category"),
		Limit:    httputil.QueryInt(r, "limit", 0),
	}
	var ok bool
	if req.Start, ok = dateParam(w, r, "start", "startDate"); !ok {
		return req, false
	}
	if req.End, ok = dateParam(w, r, "end", "endDate"); !ok {
		return req, false
	}
	return req, true
}

// dateParam reads the first non-empty of names. Absent dates are zero and
// defaulted by the service.
func dateParam(w http.ResponseWriter, r *http.Request, names ...string) (time.Time, bool) {
	for _, name := range names {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, ok := parseDate(v)
		if !ok {
			httputil.BadRequest(w, name+" must be RFC 3339 or YYYY-MM-DD")
		}
		return t, ok
	}
	return time.Time{}, true
}

func (h *analyticsHandlers) serve(w http.ResponseWriter, r *http.Request, fn func(analytics.Request) (interface{}, error)) {
	req, ok := h.request(w, r)
	if !ok {
		return
	}
	out, err := fn(req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, out)
}

// GET /v1/analytics/overview
func (h *analyticsHandlers) overview(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) { return h.svc.Overview(r.Context(), req) })
}

// GET /v1/analytics/timeseries
func (h *analyticsHandlers) timeSeries(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) {
		pts, err := h.svc.TimeSeries(r.Context(), req)
		return map[string]interface{}{"points": pts}, err
	})
}

// GET /v1/analytics/bounces
func (h *analyticsHandlers) bounces(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) { return h.svc.Bounces(r.Context(), req) })
}

// GET /v1/analytics/categories
func (h *analyticsHandlers) categories(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) {
		cs, err := h.svc.Categories(r.Context(), req)
		return map[string]interface{}{"categories": cs}, err
	})
}

// GET /v1/analytics/links
func (h *analyticsHandlers) links(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) {
		rows, err := h.svc.Links(r.Context(), req)
		return map[string]interface{}{"links": rows}, err
	})
}

// GET /v1/analytics/geo
func (h *analyticsHandlers) geo(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) {
		rows, err := h.svc.Geo(r.Context(), req)
		return map[string]interface{}{"countries": rows}, err
	})
}

// GET /v1/analytics/devices
func (h *analyticsHandlers) devices(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(req analytics.Request) (interface{}, error) { return h.svc.Devices(r.Context(), req) })
}

// parseDate accepts RFC 3339 timestamps or YYYY-MM-DD dates.
func parseDate(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

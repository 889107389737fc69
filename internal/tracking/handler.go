package tracking

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public open, click and unsubscribe endpoints.
type Handler struct {
	signer  *Signer
	sink    Sink
	limiter *rate.Limiter
	now     func() time.Time
}

// NewHandler creates a tracking handler. limiter bounds how many hits per
// second reach the sink; nil means unlimited. Hits over the limit still get
// their pixel or redirect, they are just not recorded.
func NewHandler(signer *Signer, sink Sink, limiter *rate.Limiter) *Handler {
	return &Handler{signer: signer, sink: sink, limiter: limiter, now: time.Now}
}

// Routes mounts the endpoints under /t.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/o/{token}", h.HandleOpen)
	r.Get("/c/{token}", h.HandleClick)
	r.Get("/u/{token}", h.HandleUnsubscribe)
	r.Post("/u/{token}", h.HandleUnsubscribe)
	return r
}

func (h *Handler) record(r *http.Request, t domain.EventType, c Claims) {
	if h.limiter != nil && !h.limiter.Allow() {
		logger.Warn("tracking: hit dropped by rate limit", "type", string(t))
		return
	}
	hit := Hit{
		Type:       t,
		MessageID:  c.MessageID,
		Recipient:  c.Recipient,
		URL:        c.URL,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		DeviceType: detectDevice(r.UserAgent()),
		Timestamp:  h.now().UTC(),
	}
	if err := h.sink.Record(r.Context(), hit); err != nil {
		logger.Warn("tracking: record hit failed", "type", string(t), "message_id", c.MessageID, "error", err)
	}
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	c, err := h.signer.Parse(chi.URLParam(r, "token"))
	if err == nil {
		h.record(r, domain.EventOpened, c)
	}
	servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	c, err := h.signer.Parse(chi.URLParam(r, "token"))
	if err != nil || c.URL == "" {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	h.record(r, domain.EventClicked, c)
	http.Redirect(w, r, c.URL, http.StatusFound)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	c, err := h.signer.Parse(chi.URLParam(r, "token"))
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	h.record(r, domain.EventUnsubscribed, c)

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive these emails.</p>
	</body></html>`))
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if ua == "" {
		return ""
	}
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}

package sending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/txmail/internal/domain"
)

// Permanent render failures. The dispatcher fails the message instead of
// retrying.
var (
	ErrTemplateMissing = errors.New("template not found")
	ErrRenderFailed    = errors.New("template render failed")
)

// Renderer resolves a stored message into the envelope handed to a Sender.
type Renderer struct {
	engine    *liquid.Engine
	templates TemplateStore
	tracking  TrackingInjector
	cache     sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a Renderer. templates and tracking may be nil.
func NewRenderer(templates TemplateStore, tracking TrackingInjector) *Renderer {
	return &Renderer{
		engine:    liquid.NewEngine(),
		templates: templates,
		tracking:  tracking,
	}
}

// Render builds the envelope for m, which must already have suppressed
// recipients removed. Stored template content fills fields the message left
// empty; when template data or a template is present, all three bodies are
// rendered as Liquid.
func (r *Renderer) Render(ctx context.Context, m *domain.Message) (*domain.Envelope, error) {
	subject, html, text := m.Subject, m.HTMLBody, m.TextBody
	cachePrefix := ""

	if m.TemplateID != "" {
		if r.templates == nil {
			return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, m.TemplateID)
		}
		tpl, err := r.templates.GetTemplate(ctx, m.DomainID, m.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		if tpl == nil {
			return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, m.TemplateID)
		}
		if subject == "" {
			subject = tpl.Subject
		}
		if html == "" {
			html = tpl.HTMLBody
		}
		if text == "" {
			text = tpl.TextBody
		}
		cachePrefix = tpl.ID
	}

	if m.TemplateID != "" || len(m.TemplateData) > 0 {
		data := map[string]interface{}{}
		if len(m.TemplateData) > 0 {
			if err := json.Unmarshal(m.TemplateData, &data); err != nil {
				return nil, fmt.Errorf("%w: template data: %v", ErrRenderFailed, err)
			}
		}
		var err error
		if subject, err = r.render(cacheKey(cachePrefix, "subject", m), subject, data); err != nil {
			return nil, err
		}
		if html, err = r.render(cacheKey(cachePrefix, "html", m), html, data); err != nil {
			return nil, err
		}
		if text, err = r.render(cacheKey(cachePrefix, "text", m), text, data); err != nil {
			return nil, err
		}
	}

	recipient := m.PrimaryRecipient()
	headers := m.Headers
	if r.tracking != nil {
		if html != "" && (m.TrackOpens || m.TrackClicks) {
			html = r.tracking.Inject(html, m.ID, recipient, m.TrackOpens, m.TrackClicks)
		}
		if _, ok := m.Headers["List-Unsubscribe"]; !ok {
			headers = make(map[string]string, len(m.Headers)+2)
			for k, v := range m.Headers {
				headers[k] = v
			}
			headers["List-Unsubscribe"] = "<" + r.tracking.UnsubscribeURL(m.ID, recipient) + ">"
			headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
		}
	}

	return &domain.Envelope{
		MessageID:   m.ID,
		DomainID:    m.DomainID,
		FromEmail:   m.FromEmail,
		FromName:    m.FromName,
		ReplyTo:     m.ReplyTo,
		To:          m.To,
		CC:          m.CC,
		BCC:         m.BCC,
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
		Headers:     headers,
		Category:    m.Category(),
	}, nil
}

// cacheKey returns "" for parts the message supplied itself; only stored
// template content is cached. render appends a content hash.
func cacheKey(templateID, part string, m *domain.Message) string {
	if templateID == "" {
		return ""
	}
	switch part {
	case "subject":
		if m.Subject != "" {
			return ""
		}
	case "html":
		if m.HTMLBody != "" {
			return ""
		}
	case "text":
		if m.TextBody != "" {
			return ""
		}
	}
	return templateID + ":" + part
}

func (r *Renderer) render(key, src string, data map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	var tpl *liquid.Template
	if key != "" {
		h := fnv.New64a()
		h.Write([]byte(src))
		key = fmt.Sprintf("%s:%x", key, h.Sum64())
		if cached, ok := r.cache.Load(key); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
		}
		tpl = parsed
		if key != "" {
			r.cache.Store(key, tpl)
		}
	}
	out, err := tpl.RenderString(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return out, nil
}

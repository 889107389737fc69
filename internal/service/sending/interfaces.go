package sending

import (
	"context"
	"errors"

	"github.com/ignite/txmail/internal/domain"
)

// ErrRejected marks a synchronous permanent refusal by the transport. Wrap it
// to carry the provider's reason; anything else returned by Send is treated
// as transient and retried.
var ErrRejected = errors.New("rejected by transport")

// Sender sends a single email through a transport. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, env *domain.Envelope) (*domain.SendResult, error)
}

// TemplateStore is the read-only view of stored templates. GetTemplate
// returns nil, nil when no template matches.
type TemplateStore interface {
	GetTemplate(ctx context.Context, domainID, id string) (*domain.Template, error)
}

// TrackingInjector adds the open pixel and rewrites links in HTML bodies,
// and issues one-click unsubscribe links.
type TrackingInjector interface {
	Inject(html, messageID, recipient string, opens, clicks bool) string
	UnsubscribeURL(messageID, recipient string) string
}

package api

import (
	"context"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/analytics"
	"github.com/ignite/txmail/internal/service/event"
	"github.com/ignite/txmail/internal/service/message"
	"github.com/ignite/txmail/internal/service/suppression"
	"github.com/ignite/txmail/internal/service/webhook"
)

// MessageService is satisfied by *message.Service.
type MessageService interface {
	Create(ctx context.Context, domainID string, req *message.CreateRequest) (*message.CreateResult, error)
	Get(ctx context.Context, domainID, id string) (*domain.Message, error)
	List(ctx context.Context, domainID string, filter message.ListFilter) ([]domain.Message, int, error)
	Timeline(ctx context.Context, domainID, id string) (*message.Timeline, error)
	Cancel(ctx context.Context, domainID, id string) (*domain.Message, error)
}

// EventService is satisfied by *event.Service.
type EventService interface {
	Ingest(ctx context.Context, domainID string, req *event.IngestRequest) (*event.IngestResult, error)
}

// SuppressionService is satisfied by *suppression.Service.
type SuppressionService interface {
	Add(ctx context.Context, domainID, email string, reason domain.SuppressionReason, opts suppression.AddOptions) (*domain.Suppression, bool, error)
	Remove(ctx context.Context, domainID, email string) error
	IsSuppressed(ctx context.Context, domainID, email string) (*domain.SuppressionStatus, error)
	CheckMultiple(ctx context.Context, domainID string, emails []string) (map[string]domain.SuppressionStatus, error)
	BulkAdd(ctx context.Context, domainID string, emails []string, reason domain.SuppressionReason, opts suppression.AddOptions) (*suppression.BulkResult, error)
	BulkRemove(ctx context.Context, domainID string, emails []string) (*suppression.BulkResult, error)
	List(ctx context.Context, domainID string, filter suppression.ListFilter) ([]domain.Suppression, int, error)
	GetStats(ctx context.Context, domainID string) (*suppression.Stats, error)
}

// WebhookService is satisfied by *webhook.Service.
type WebhookService interface {
	Create(ctx context.Context, domainID string, req webhook.CreateRequest) (*domain.Webhook, error)
	Get(ctx context.Context, domainID, id string) (*domain.Webhook, error)
	List(ctx context.Context, domainID string) ([]domain.Webhook, error)
	Update(ctx context.Context, domainID, id string, req webhook.UpdateRequest) (*domain.Webhook, error)
	Delete(ctx context.Context, domainID, id string) error
	RotateSecret(ctx context.Context, domainID, id string) (string, error)
	Test(ctx context.Context, domainID, id string) (*webhook.Attempt, error)
	Deliveries(ctx context.Context, domainID, id string, limit int) ([]domain.WebhookDelivery, error)
}

// AnalyticsService is satisfied by *analytics.Service.
type AnalyticsService interface {
	Overview(ctx context.Context, req analytics.Request) (*analytics.Overview, error)
	TimeSeries(ctx context.Context, req analytics.Request) ([]analytics.SeriesPoint, error)
	Bounces(ctx context.Context, req analytics.Request) (*analytics.BounceReport, error)
	Categories(ctx context.Context, req analytics.Request) ([]analytics.CategoryStats, error)
	Links(ctx context.Context, req analytics.Request) ([]analytics.BreakdownRow, error)
	Geo(ctx context.Context, req analytics.Request) ([]analytics.BreakdownRow, error)
	Devices(ctx context.Context, req analytics.Request) (*analytics.DeviceReport, error)
}

var (
	_ MessageService     = (*message.Service)(nil)
	_ EventService       = (*event.Service)(nil)
	_ SuppressionService = (*suppression.Service)(nil)
	_ WebhookService     = (*webhook.Service)(nil)
	_ AnalyticsService   = (*analytics.Service)(nil)
)

package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
)

const (
	maxRange       = 366 * 24 * time.Hour
	maxHourlyRange = 7 * 24 * time.Hour
	defaultRange   = 30 * 24 * time.Hour
	defaultLimit   = 10
	maxLimit       = 100
)

// Request selects the window and granularity of an analytics read.
type Request struct {
	DomainID string
	Start    time.Time
	End      time.Time
	Period   string
	Category string
	Limit    int
}

// Rates are percentages derived from counters on read, never stored.
type Rates struct {
	DeliveryRate    float64 `json:"delivery_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	SpamRate        float64 `json:"spam_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}

// Overview is the headline view of a domain's traffic.
type Overview struct {
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Category string          `json:"category,omitempty"`
	Counts   domain.Counters `json:"counts"`
	Rates    Rates           `json:"rates"`
}

// BounceReport splits bounces by class and ranks their codes.
type BounceReport struct {
	Total    int64       `json:"total"`
	Hard     int64       `json:"hard"`
	Soft     int64       `json:"soft"`
	Block    int64       `json:"block"`
	TopCodes []NameCount `json:"top_codes"`
}

// DeviceReport breaks engagement down by client attributes.
type DeviceReport struct {
	Types    []BreakdownRow `json:"types"`
	OS       []BreakdownRow `json:"os"`
	Browsers []BreakdownRow `json:"browsers"`
}

// Cache is an optional read-through cache for overview reads.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Service answers analytics reads.
type Service struct {
	repo     Repository
	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService creates an analytics service. cache may be nil.
func NewService(repo Repository, cache Cache, cacheTTL time.Duration) *Service {
	return &Service{repo: repo, cache: cache, cacheTTL: cacheTTL, now: time.Now}
}

func (s *Service) normalize(req *Request) error {
	if req.End.IsZero() {
		req.End = s.now().UTC()
	}
	if req.Start.IsZero() {
		req.Start = req.End.Add(-defaultRange)
	}
	req.Start, req.End = req.Start.UTC(), req.End.UTC()
	if !req.End.After(req.Start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}
	if req.End.Sub(req.Start) > maxRange {
		return fmt.Errorf("%w: range exceeds %d days", ErrInvalidRequest, int(maxRange.Hours()/24))
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	return nil
}

func pct(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 100
}

// ComputeRates derives percentage rates from raw counters. Engagement rates
// are relative to delivered messages. Transport rejections count as bounces
// without a send, so the bounce rate is taken over whichever of sent and
// bounced is larger and never exceeds 100.
func ComputeRates(c domain.Counters) Rates {
	attempted := c.Sent
	if c.Bounced > attempted {
		attempted = c.Bounced
	}
	return Rates{
		DeliveryRate:    pct(c.Delivered, c.Sent),
		BounceRate:      pct(c.Bounced, attempted),
		OpenRate:        pct(c.UniqueOpened, c.Delivered),
		ClickRate:       pct(c.UniqueClicked, c.Delivered),
		ClickToOpenRate: pct(c.UniqueClicked, c.UniqueOpened),
		SpamRate:        pct(c.SpamReports, c.Delivered),
		UnsubscribeRate: pct(c.Unsubscribed, c.Delivered),
	}
}

func overviewKey(req *Request) string {
	return fmt.Sprintf("analytics:overview:%s:%d:%d:%s",
		req.DomainID, req.Start.Unix(), req.End.Unix(), req.Category)
}

// Overview returns totals and rates for the window.
func (s *Service) Overview(ctx context.Context, req Request) (*Overview, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	key := overviewKey(&req)
	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, key); ok {
			var ov Overview
			if err := json.Unmarshal(data, &ov); err == nil {
				return &ov, nil
			}
		}
	}

	totals, err := s.repo.Totals(ctx, req.DomainID, req.Start, req.End, req.Category)
	if err != nil {
		return nil, fmt.Errorf("analytics totals: %w", err)
	}
	ov := &Overview{
		Start:    req.Start,
		End:      req.End,
		Category: req.Category,
		Counts:   totals,
		Rates:    ComputeRates(totals),
	}

	if s.cache != nil {
		if data, err := json.Marshal(ov); err == nil {
			s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}
	return ov, nil
}

// TimeSeries returns counters per period bucket. Hourly buckets come from
// the event log; coarser buckets from daily rows.
func (s *Service) TimeSeries(ctx context.Context, req Request) ([]SeriesPoint, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	if req.Period == "" {
		req.Period = "day"
	}

	var (
		points []SeriesPoint
		err    error
	)
	switch req.Period {
	case "hour":
		if req.End.Sub(req.Start) > maxHourlyRange {
			return nil, fmt.Errorf("%w: hourly series are limited to 7 days", ErrInvalidRequest)
		}
		points, err = s.repo.HourlySeries(ctx, req.DomainID, req.Start, req.End)
	case "day", "week", "month":
		points, err = s.repo.DailySeries(ctx, req.DomainID, req.Start, req.End, req.Period)
	default:
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, req.Period)
	}
	if err != nil {
		return nil, fmt.Errorf("analytics time series: %w", err)
	}
	if points == nil {
		points = []SeriesPoint{}
	}
	return points, nil
}

// Bounces returns bounce totals by class and the most frequent codes.
func (s *Service) Bounces(ctx context.Context, req Request) (*BounceReport, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	totals, err := s.repo.Totals(ctx, req.DomainID, req.Start, req.End, "")
	if err != nil {
		return nil, fmt.Errorf("analytics totals: %w", err)
	}
	codes, err := s.repo.BounceCodes(ctx, req.DomainID, req.Start, req.End, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("bounce codes: %w", err)
	}
	if codes == nil {
		codes = []NameCount{}
	}

	block := totals.Bounced - totals.HardBounced - totals.SoftBounced
	if block < 0 {
		block = 0
	}
	return &BounceReport{
		Total:    totals.Bounced,
		Hard:     totals.HardBounced,
		Soft:     totals.SoftBounced,
		Block:    block,
		TopCodes: codes,
	}, nil
}

// Categories returns per-category counters with rates.
func (s *Service) Categories(ctx context.Context, req Request) ([]CategoryStats, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	cats, err := s.repo.Categories(ctx, req.DomainID, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("analytics categories: %w", err)
	}
	if cats == nil {
		cats = []CategoryStats{}
	}
	for i := range cats {
		cats[i].Rates = ComputeRates(cats[i].Counters)
	}
	return cats, nil
}

// Links ranks clicked URLs.
func (s *Service) Links(ctx context.Context, req Request) ([]BreakdownRow, error) {
	return s.breakdown(ctx, req, DimensionURL)
}

// Geo ranks countries by engagement.
func (s *Service) Geo(ctx context.Context, req Request) ([]BreakdownRow, error) {
	return s.breakdown(ctx, req, DimensionCountry)
}

// Devices breaks engagement down by device type, OS and browser.
func (s *Service) Devices(ctx context.Context, req Request) (*DeviceReport, error) {
	types, err := s.breakdown(ctx, req, DimensionDeviceType)
	if err != nil {
		return nil, err
	}
	oses, err := s.breakdown(ctx, req, DimensionOS)
	if err != nil {
		return nil, err
	}
	browsers, err := s.breakdown(ctx, req, DimensionBrowser)
	if err != nil {
		return nil, err
	}
	return &DeviceReport{Types: types, OS: oses, Browsers: browsers}, nil
}

func (s *Service) breakdown(ctx context.Context, req Request, dim Dimension) ([]BreakdownRow, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	rows, err := s.repo.Breakdown(ctx, req.DomainID, req.Start, req.End, dim, req.Limit)
	if err != nil {
		logger.Error("analytics breakdown failed", "dimension", dim.Column(), "error", err)
		return nil, fmt.Errorf("analytics breakdown: %w", err)
	}
	if rows == nil {
		rows = []BreakdownRow{}
	}
	return rows, nil
}

package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/txmail/internal/domain"
)

type mockRepo struct {
	totals      domain.Counters
	totalsCalls int
	daily       []SeriesPoint
	hourly      []SeriesPoint
	categories  []CategoryStats
	codes       []NameCount
	breakdowns  map[Dimension][]BreakdownRow
	lastPeriod  string
}

func (m *mockRepo) Totals(context.Context, string, time.Time, time.Time, string) (domain.Counters, error) {
	m.totalsCalls++
	return m.totals, nil
}

func (m *mockRepo) DailySeries(_ context.Context, _ string, _, _ time.Time, period string) ([]SeriesPoint, error) {
	m.lastPeriod = period
	return m.daily, nil
}

func (m *mockRepo) HourlySeries(context.Context, string, time.Time, time.Time) ([]SeriesPoint, error) {
	m.lastPeriod = "hour"
	return m.hourly, nil
}

func (m *mockRepo) Categories(context.Context, string, time.Time, time.Time) ([]CategoryStats, error) {
	return m.categories, nil
}

func (m *mockRepo) BounceCodes(context.Context, string, time.Time, time.Time, int) ([]NameCount, error) {
	return m.codes, nil
}

func (m *mockRepo) Breakdown(_ context.Context, _ string, _, _ time.Time, dim Dimension, _ int) ([]BreakdownRow, error) {
	return m.breakdowns[dim], nil
}

func TestComputeRates(t *testing.T) {
	r := ComputeRates(domain.Counters{
		Sent: 200, Delivered: 190, Bounced: 10,
		UniqueOpened: 95, UniqueClicked: 19, SpamReports: 1, Unsubscribed: 2,
	})
	if r.DeliveryRate != 95 {
		t.Errorf("delivery rate = %v", r.DeliveryRate)
	}
	if r.BounceRate != 5 {
		t.Errorf("bounce rate = %v", r.BounceRate)
	}
	if r.OpenRate != 50 {
		t.Errorf("open rate = %v", r.OpenRate)
	}
	if r.ClickRate != 10 {
		t.Errorf("click rate = %v", r.ClickRate)
	}
	if r.ClickToOpenRate != 20 {
		t.Errorf("click-to-open = %v", r.ClickToOpenRate)
	}
	if r.SpamRate != 0.53 {
		t.Errorf("spam rate = %v", r.SpamRate)
	}
}

func TestComputeRates_BounceRateStaysWithinBounds(t *testing.T) {
	tests := []struct {
		name string
		c    domain.Counters
		want float64
	}{
		{"only rejections", domain.Counters{Bounced: 3}, 100},
		{"rejections outnumber sends", domain.Counters{Sent: 2, Bounced: 4}, 100},
		{"ordinary", domain.Counters{Sent: 4, Bounced: 1}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeRates(tt.c).BounceRate; got != tt.want {
				t.Errorf("bounce rate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeRates_ZeroDenominators(t *testing.T) {
	r := ComputeRates(domain.Counters{})
	if r != (Rates{}) {
		t.Errorf("expected zero rates, got %+v", r)
	}
}

func TestOverview_EmptyDomainIsZeroed(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, 0)

	ov, err := svc.Overview(context.Background(), Request{DomainID: "dom-001"})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.Counts != (domain.Counters{}) || ov.Rates != (Rates{}) {
		t.Errorf("expected zeroed overview, got %+v", ov)
	}
	if !ov.End.After(ov.Start) {
		t.Error("default window not applied")
	}
}

func TestOverview_RejectsInvertedRange(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, 0)
	now := time.Now()

	_, err := svc.Overview(context.Background(), Request{DomainID: "d", Start: now, End: now.Add(-time.Hour)})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestOverview_UsesRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := &mockRepo{totals: domain.Counters{Sent: 10, Delivered: 8}}
	svc := NewService(repo, NewRedisCache(client), time.Minute)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := Request{DomainID: "dom-001", Start: start, End: start.Add(24 * time.Hour)}

	first, err := svc.Overview(context.Background(), req)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	second, err := svc.Overview(context.Background(), req)
	if err != nil {
		t.Fatalf("Overview (cached): %v", err)
	}
	if repo.totalsCalls != 1 {
		t.Errorf("expected 1 repository call, got %d", repo.totalsCalls)
	}
	if second.Counts.Delivered != first.Counts.Delivered || second.Rates.DeliveryRate != 80 {
		t.Errorf("cached overview differs: %+v", second)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected 1 cache key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl != time.Minute {
		t.Errorf("cache TTL = %v", ttl)
	}

	raw, _ := mr.Get(keys[0])
	var cached Overview
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		t.Errorf("cache value is not JSON: %v", err)
	}
}

func TestTimeSeries_PeriodRouting(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil, 0)
	now := time.Now()

	points, err := svc.TimeSeries(context.Background(), Request{DomainID: "d", Start: now.Add(-time.Hour * 5), End: now, Period: "hour"})
	if err != nil {
		t.Fatalf("hourly: %v", err)
	}
	if repo.lastPeriod != "hour" || points == nil {
		t.Errorf("hourly series should read events and never be nil")
	}

	if _, err := svc.TimeSeries(context.Background(), Request{DomainID: "d", Period: "week"}); err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if repo.lastPeriod != "week" {
		t.Errorf("period = %s", repo.lastPeriod)
	}

	_, err = svc.TimeSeries(context.Background(), Request{DomainID: "d", Start: now.Add(-30 * 24 * time.Hour), End: now, Period: "hour"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected hourly range error, got %v", err)
	}

	if _, err := svc.TimeSeries(context.Background(), Request{DomainID: "d", Period: "decade"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected unknown period error, got %v", err)
	}
}

func TestBounces_DerivesBlock(t *testing.T) {
	repo := &mockRepo{
		totals: domain.Counters{Bounced: 10, HardBounced: 6, SoftBounced: 3},
		codes:  []NameCount{{Name: "550", Count: 6}},
	}
	svc := NewService(repo, nil, 0)

	rep, err := svc.Bounces(context.Background(), Request{DomainID: "d"})
	if err != nil {
		t.Fatalf("Bounces: %v", err)
	}
	if rep.Block != 1 || rep.Hard != 6 || rep.Soft != 3 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if len(rep.TopCodes) != 1 {
		t.Errorf("top codes = %v", rep.TopCodes)
	}
}

func TestCategories_AddsRates(t *testing.T) {
	repo := &mockRepo{categories: []CategoryStats{
		{Category: "receipts", Counters: domain.Counters{Sent: 4, Delivered: 4, UniqueOpened: 2}},
	}}
	svc := NewService(repo, nil, 0)

	cats, err := svc.Categories(context.Background(), Request{DomainID: "d"})
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if cats[0].Rates.OpenRate != 50 {
		t.Errorf("open rate = %v", cats[0].Rates.OpenRate)
	}
}

func TestDevices_EmptyListsNotNil(t *testing.T) {
	svc := NewService(&mockRepo{}, nil, 0)

	rep, err := svc.Devices(context.Background(), Request{DomainID: "d"})
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	data, _ := json.Marshal(rep)
	if string(data) != `{"types":[],"os":[],"browsers":[]}` {
		t.Errorf("unexpected JSON: %s", data)
	}
}

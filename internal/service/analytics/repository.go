package analytics

import (
	"context"
	"time"

	"github.com/ignite/txmail/internal/domain"
)

// Dimension is a closed set of event columns a breakdown can group by.
type Dimension int

const (
	DimensionCountry Dimension = iota + 1
	DimensionDeviceType
	DimensionOS
	DimensionBrowser
	DimensionURL
)

// Column returns the events column for the dimension, or "" when unknown.
func (d Dimension) Column() string {
	switch d {
	case DimensionCountry:
		return "country"
	case DimensionDeviceType:
		return "device_type"
	case DimensionOS:
		return "os"
	case DimensionBrowser:
		return "browser"
	case DimensionURL:
		return "url"
	}
	return ""
}

// Repository defines the read queries behind the analytics endpoints.
type Repository interface {
	// Totals sums daily counters over [start, end]. category "" means all.
	Totals(ctx context.Context, domainID string, start, end time.Time, category string) (domain.Counters, error)

	// DailySeries sums daily counters per date_trunc(period) bucket.
	DailySeries(ctx context.Context, domainID string, start, end time.Time, period string) ([]SeriesPoint, error)

	// HourlySeries counts events per hour directly from the event log.
	HourlySeries(ctx context.Context, domainID string, start, end time.Time) ([]SeriesPoint, error)

	// Categories sums daily counters per category.
	Categories(ctx context.Context, domainID string, start, end time.Time) ([]CategoryStats, error)

	// BounceCodes ranks bounce codes by frequency.
	BounceCodes(ctx context.Context, domainID string, start, end time.Time, limit int) ([]NameCount, error)

	// Breakdown counts opened/clicked events grouped by dimension.
	Breakdown(ctx context.Context, domainID string, start, end time.Time, dim Dimension, limit int) ([]BreakdownRow, error)
}

// SeriesPoint is one bucket of a counter time series.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	domain.Counters
}

// CategoryStats is the counters of one category plus derived rates.
type CategoryStats struct {
	Category string `json:"category"`
	domain.Counters
	Rates Rates `json:"rates"`
}

// NameCount is a generic ranked entry.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// BreakdownRow counts engagement for one value of a dimension.
type BreakdownRow struct {
	Value        string `json:"value"`
	Opens        int64  `json:"opens"`
	Clicks       int64  `json:"clicks"`
	UniqueClicks int64  `json:"unique_clicks"`
}

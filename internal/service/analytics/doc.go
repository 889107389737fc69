// Package analytics serves the read side of delivery statistics.
//
// Counters are pre-aggregated into daily_stats by the event log as events
// are recorded; this package only sums them and derives rates on read.
// Hourly series and breakdowns that daily rows cannot answer (bounce codes,
// links, geography, devices) are computed from the event log. Missing data
// always yields zeroed counters and empty lists.
package analytics

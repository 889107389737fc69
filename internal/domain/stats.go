package domain

import "time"

// Metric is one counter column of the daily_stats table. The set is closed:
// Column maps each value to a fixed identifier, so no caller-supplied string
// ever reaches SQL.
type Metric int

const (
	MetricSent Metric = iota + 1
	MetricDelivered
	MetricBounced
	MetricHardBounced
	MetricSoftBounced
	MetricOpened
	MetricUniqueOpened
	MetricClicked
	MetricUniqueClicked
	MetricSpamReports
	MetricUnsubscribed
	MetricDropped
	MetricDeferred
)

// Column returns the daily_stats column for the metric, or "" for an
// unknown value.
func (m Metric) Column() string {
	switch m {
	case MetricSent:
		return "sent"
	case MetricDelivered:
		return "delivered"
	case MetricBounced:
		return "bounced"
	case MetricHardBounced:
		return "hard_bounced"
	case MetricSoftBounced:
		return "soft_bounced"
	case MetricOpened:
		return "opened"
	case MetricUniqueOpened:
		return "unique_opened"
	case MetricClicked:
		return "clicked"
	case MetricUniqueClicked:
		return "unique_clicked"
	case MetricSpamReports:
		return "spam_reports"
	case MetricUnsubscribed:
		return "unsubscribed"
	case MetricDropped:
		return "dropped"
	case MetricDeferred:
		return "deferred"
	}
	return ""
}

func (m Metric) String() string { return m.Column() }

// AllMetrics lists every counter in column order.
var AllMetrics = []Metric{
	MetricSent, MetricDelivered, MetricBounced, MetricHardBounced, MetricSoftBounced,
	MetricOpened, MetricUniqueOpened, MetricClicked, MetricUniqueClicked,
	MetricSpamReports, MetricUnsubscribed, MetricDropped, MetricDeferred,
}

// MetricsFor returns the counters an event increments. first reports whether
// this is the first open/click of the message, which also bumps the unique
// counters.
func MetricsFor(e *Event, first bool) []Metric {
	switch e.Type {
	case EventSent:
		return []Metric{MetricSent}
	case EventDelivered:
		return []Metric{MetricDelivered}
	case EventBounced:
		if e.BounceClass == BounceSoft {
			return []Metric{MetricBounced, MetricSoftBounced}
		}
		if e.BounceClass == BounceHard {
			return []Metric{MetricBounced, MetricHardBounced}
		}
		return []Metric{MetricBounced}
	case EventOpened:
		if first {
			return []Metric{MetricOpened, MetricUniqueOpened}
		}
		return []Metric{MetricOpened}
	case EventClicked:
		if first {
			return []Metric{MetricClicked, MetricUniqueClicked}
		}
		return []Metric{MetricClicked}
	case EventSpamReport:
		return []Metric{MetricSpamReports}
	case EventUnsubscribed:
		return []Metric{MetricUnsubscribed}
	case EventDropped:
		return []Metric{MetricDropped}
	case EventDeferred:
		return []Metric{MetricDeferred}
	}
	return nil
}

// Counters holds one value per metric.
type Counters struct {
	Sent          int64 `json:"sent"`
	Delivered     int64 `json:"delivered"`
	Bounced       int64 `json:"bounced"`
	HardBounced   int64 `json:"hard_bounced"`
	SoftBounced   int64 `json:"soft_bounced"`
	Opened        int64 `json:"opened"`
	UniqueOpened  int64 `json:"unique_opened"`
	Clicked       int64 `json:"clicked"`
	UniqueClicked int64 `json:"unique_clicked"`
	SpamReports   int64 `json:"spam_reports"`
	Unsubscribed  int64 `json:"unsubscribed"`
	Dropped       int64 `json:"dropped"`
	Deferred      int64 `json:"deferred"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Sent += o.Sent
	c.Delivered += o.Delivered
	c.Bounced += o.Bounced
	c.HardBounced += o.HardBounced
	c.SoftBounced += o.SoftBounced
	c.Opened += o.Opened
	c.UniqueOpened += o.UniqueOpened
	c.Clicked += o.Clicked
	c.UniqueClicked += o.UniqueClicked
	c.SpamReports += o.SpamReports
	c.Unsubscribed += o.Unsubscribed
	c.Dropped += o.Dropped
	c.Deferred += o.Deferred
}

// Increment bumps the counter for m by one.
func (c *Counters) Increment(m Metric) {
	switch m {
	case MetricSent:
		c.Sent++
	case MetricDelivered:
		c.Delivered++
	case MetricBounced:
		c.Bounced++
	case MetricHardBounced:
		c.HardBounced++
	case MetricSoftBounced:
		c.SoftBounced++
	case MetricOpened:
		c.Opened++
	case MetricUniqueOpened:
		c.UniqueOpened++
	case MetricClicked:
		c.Clicked++
	case MetricUniqueClicked:
		c.UniqueClicked++
	case MetricSpamReports:
		c.SpamReports++
	case MetricUnsubscribed:
		c.Unsubscribed++
	case MetricDropped:
		c.Dropped++
	case MetricDeferred:
		c.Deferred++
	}
}

// DailyStat is one pre-aggregated row keyed by (domain, date, category).
type DailyStat struct {
	DomainID string    `json:"domain_id"`
	Date     time.Time `json:"date"`
	Category string    `json:"category"`
	Counters
}

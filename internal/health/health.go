// Package health tracks per-key, per-metric event counts in time buckets.
// The model cascade records success/error/skip per (endpoint, model,
// provider-hint) triple and reads the counts back for its skip gate and
// fallback ordering.
package health

import "time"

type Metric string

const (
	MetricSuccess Metric = "success"
	MetricError   Metric = "error"
	MetricSkip    Metric = "skip"
)

// Metrics lists every tracked metric.
var Metrics = []Metric{MetricSuccess, MetricError, MetricSkip}

// Bucket retention: 60 minute buckets roll into 24 hour buckets, which
// roll into 30 day buckets; older day buckets are dropped.
const (
	MinuteRetention = 60 * time.Minute
	HourRetention   = 24 * time.Hour
	DayRetention    = 30 * 24 * time.Hour
)

// BucketCounts maps bucket start (unix seconds) to event count.
type BucketCounts map[int64]int64

// MetricStats is the read-side view of one metric for one key.
type MetricStats struct {
	Total    int64
	LastHour int64
	LastDay  int64
	Minute   BucketCounts
	Hour     BucketCounts
	Day      BucketCounts
}

// Stats maps metric name to its stats.
type Stats map[Metric]MetricStats

// Store is the counter contract. Writes are the sole aggregator: every
// Increment performs the rollup inside one critical section, so reads
// never mutate.
type Store interface {
	Increment(key string, metric Metric, amount int64)
	Stats(key string) Stats
	// Clear zeroes the named metrics for a key (all metrics when none given).
	Clear(key string, metrics ...Metric)
	// Reset drops one key, or every key when key is empty.
	Reset(key string)
	Keys() []string
}

func floorMinute(t time.Time) int64 { return t.Unix() - t.Unix()%60 }
func floorHour(t time.Time) int64   { return t.Unix() - t.Unix()%3600 }
func floorDay(t time.Time) int64    { return t.Unix() - t.Unix()%86400 }

package health

import (
	"sort"
	"sync"
	"time"
)

type metricBuckets struct {
	minute BucketCounts
	hour   BucketCounts
	day    BucketCounts
}

func newMetricBuckets() *metricBuckets {
	return &metricBuckets{
		minute: make(BucketCounts),
		hour:   make(BucketCounts),
		day:    make(BucketCounts),
	}
}

// Counter is the in-memory bucketed store. A single mutex serializes
// writers, which keeps the write-time rollup race-safe.
type Counter struct {
	mu   sync.Mutex
	keys map[string]map[Metric]*metricBuckets
	now  func() time.Time
}

type CounterOption func(*Counter)

// WithNow injects the clock, for tests.
func WithNow(now func() time.Time) CounterOption {
	return func(c *Counter) { c.now = now }
}

func NewCounter(opts ...CounterOption) *Counter {
	c := &Counter{
		keys: make(map[string]map[Metric]*metricBuckets),
		now:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Increment adds amount to the current minute bucket and then rolls every
// bucket tier forward, all under one lock.
func (c *Counter) Increment(key string, metric Metric, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	mb := c.bucketsFor(key, metric)
	mb.minute[floorMinute(now)] += amount

	for _, metrics := range c.keys {
		for _, b := range metrics {
			rollup(b, now)
		}
	}
}

func (c *Counter) bucketsFor(key string, metric Metric) *metricBuckets {
	metrics, ok := c.keys[key]
	if !ok {
		metrics = make(map[Metric]*metricBuckets)
		c.keys[key] = metrics
	}
	b, ok := metrics[metric]
	if !ok {
		b = newMetricBuckets()
		metrics[metric] = b
	}
	return b
}

// rollup moves minute buckets older than an hour into hour buckets, hour
// buckets older than a day into day buckets, and drops day buckets older
// than thirty days.
func rollup(b *metricBuckets, now time.Time) {
	minuteCutoff := now.Add(-MinuteRetention).Unix()
	for ts, n := range b.minute {
		if ts < minuteCutoff {
			b.hour[floorHour(time.Unix(ts, 0).UTC())] += n
			delete(b.minute, ts)
		}
	}

	hourCutoff := now.Add(-HourRetention).Unix()
	for ts, n := range b.hour {
		if ts < hourCutoff {
			b.day[floorDay(time.Unix(ts, 0).UTC())] += n
			delete(b.hour, ts)
		}
	}

	dayCutoff := now.Add(-DayRetention).Unix()
	for ts := range b.day {
		if ts < dayCutoff {
			delete(b.day, ts)
		}
	}
}

// Stats returns totals and windowed sums for every metric of a key.
// Missing metrics report zeros.
func (c *Counter) Stats(key string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make(Stats, len(Metrics))
	for _, m := range Metrics {
		out[m] = MetricStats{Minute: BucketCounts{}, Hour: BucketCounts{}, Day: BucketCounts{}}
	}

	metrics, ok := c.keys[key]
	if !ok {
		return out
	}
	for m, b := range metrics {
		out[m] = snapshot(b, now)
	}
	return out
}

func snapshot(b *metricBuckets, now time.Time) MetricStats {
	st := MetricStats{
		Minute: make(BucketCounts, len(b.minute)),
		Hour:   make(BucketCounts, len(b.hour)),
		Day:    make(BucketCounts, len(b.day)),
	}
	hourAgo := now.Add(-time.Hour).Unix()
	dayAgo := now.Add(-24 * time.Hour).Unix()

	sum := func(src, dst BucketCounts) {
		for ts, n := range src {
			dst[ts] = n
			st.Total += n
			if ts >= hourAgo {
				st.LastHour += n
			}
			if ts >= dayAgo {
				st.LastDay += n
			}
		}
	}
	sum(b.minute, st.Minute)
	sum(b.hour, st.Hour)
	sum(b.day, st.Day)
	return st
}

// Clear zeroes the named metrics for a key; with no metrics given it
// clears them all.
func (c *Counter) Clear(key string, metrics ...Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known, ok := c.keys[key]
	if !ok {
		return
	}
	if len(metrics) == 0 {
		metrics = Metrics
	}
	for _, m := range metrics {
		delete(known, m)
	}
}

// Reset drops one key, or everything when key is empty.
func (c *Counter) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		c.keys = make(map[string]map[Metric]*metricBuckets)
		return
	}
	delete(c.keys, key)
}

// LoadBucket restores one persisted bucket. tier is "m", "h", or "d".
// Used when reloading a snapshot at startup; the next write re-applies the
// retention discipline.
func (c *Counter) LoadBucket(key string, metric Metric, tier string, ts, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.bucketsFor(key, metric)
	switch tier {
	case "m":
		b.minute[ts] += n
	case "h":
		b.hour[ts] += n
	case "d":
		b.day[ts] += n
	}
}

// Keys returns every tracked key, sorted.
func (c *Counter) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Store = (*Counter)(nil)

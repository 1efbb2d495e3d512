package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestIncrementAndStats(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 12, 0, time.UTC)
	c := NewCounter(WithNow(fixedClock(&now)))

	c.Increment("ep/model", MetricSuccess, 1)
	c.Increment("ep/model", MetricSuccess, 1)
	c.Increment("ep/model", MetricError, 3)

	st := c.Stats("ep/model")
	assert.Equal(t, int64(2), st[MetricSuccess].Total)
	assert.Equal(t, int64(2), st[MetricSuccess].LastHour)
	assert.Equal(t, int64(3), st[MetricError].Total)
	assert.Equal(t, int64(0), st[MetricSkip].Total)
}

func TestStatsUnknownKeyIsZero(t *testing.T) {
	c := NewCounter()
	st := c.Stats("ghost")
	assert.Equal(t, int64(0), st[MetricError].Total)
	assert.NotNil(t, st[MetricError].Minute)
}

func TestMinuteRollupIntoHourBucket(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 30, 12, 0, time.UTC)
	now := start
	c := NewCounter(WithNow(fixedClock(&now)))

	c.Increment("k", MetricError, 2)

	// Advance past the minute retention; the next write triggers the rollup.
	now = start.Add(61 * time.Minute)
	c.Increment("k", MetricError, 1)

	st := c.Stats("k")[MetricError]
	assert.Equal(t, int64(3), st.Total)

	for ts := range st.Minute {
		assert.GreaterOrEqual(t, ts, now.Add(-MinuteRetention).Unix(), "no minute bucket older than retention")
	}

	wantHourTS := start.Truncate(time.Hour).Unix()
	assert.Equal(t, int64(2), st.Hour[wantHourTS], "rolled counts land in the source hour bucket")
	assert.Equal(t, int64(1), st.LastHour)
}

func TestHourRollupIntoDayBucket(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start
	c := NewCounter(WithNow(fixedClock(&now)))

	c.Increment("k", MetricSuccess, 5)

	now = start.Add(25 * time.Hour)
	c.Increment("k", MetricSuccess, 1)

	st := c.Stats("k")[MetricSuccess]
	assert.Equal(t, int64(6), st.Total)
	assert.Equal(t, int64(5), st.Day[start.Truncate(24*time.Hour).Unix()])
	assert.Empty(t, filterOlder(st.Hour, now.Add(-HourRetention).Unix()))
}

func TestDayBucketExpiry(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := start
	c := NewCounter(WithNow(fixedClock(&now)))

	c.Increment("k", MetricError, 7)

	now = start.Add(31 * 24 * time.Hour)
	c.Increment("k", MetricError, 1)

	st := c.Stats("k")[MetricError]
	assert.Equal(t, int64(1), st.Total, "counts older than thirty days are dropped")
}

func TestClearSelectedMetrics(t *testing.T) {
	c := NewCounter()
	c.Increment("k", MetricSuccess, 1)
	c.Increment("k", MetricError, 2)
	c.Increment("k", MetricSkip, 3)

	c.Clear("k", MetricError, MetricSkip)

	st := c.Stats("k")
	assert.Equal(t, int64(1), st[MetricSuccess].Total)
	assert.Equal(t, int64(0), st[MetricError].Total)
	assert.Equal(t, int64(0), st[MetricSkip].Total)
}

func TestReset(t *testing.T) {
	c := NewCounter()
	c.Increment("a", MetricSuccess, 1)
	c.Increment("b", MetricSuccess, 1)

	c.Reset("a")
	assert.Equal(t, []string{"b"}, c.Keys())

	c.Reset("")
	assert.Empty(t, c.Keys())
}

func TestReadsDoNotMutate(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start
	c := NewCounter(WithNow(fixedClock(&now)))

	c.Increment("k", MetricError, 2)
	now = start.Add(2 * time.Hour)

	// Stats at a later time must not move buckets; only writes aggregate.
	first := c.Stats("k")[MetricError]
	require.NotEmpty(t, first.Minute)
	second := c.Stats("k")[MetricError]
	assert.Equal(t, first.Minute, second.Minute)
}

func filterOlder(b BucketCounts, cutoff int64) BucketCounts {
	out := BucketCounts{}
	for ts, n := range b {
		if ts < cutoff {
			out[ts] = n
		}
	}
	return out
}

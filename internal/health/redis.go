package health

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps the same bucket discipline as Counter in a Redis hash
// per (key, metric), so several orchestrator instances can share one health
// view. Fields are "m<ts>", "h<ts>", "d<ts>". The process-local mutex keeps
// the read-modify-write rollup single-writer, matching the concurrency
// contract of the in-memory counter.
type RedisStore struct {
	mu     sync.Mutex
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

type RedisOption func(*RedisStore)

func WithRedisNow(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "health:",
		now:    time.Now,
		logger: logger.Named("health_redis"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) hashKey(key string, m Metric) string {
	return s.prefix + key + ":" + string(m)
}

func (s *RedisStore) Increment(key string, metric Metric, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	now := s.now()
	hk := s.hashKey(key, metric)

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.prefix+"keys", key)
	pipe.HIncrBy(ctx, hk, "m"+strconv.FormatInt(floorMinute(now), 10), amount)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("increment failed", zap.String("key", key), zap.Error(err))
		return
	}

	for _, m := range Metrics {
		s.rollupHash(ctx, s.hashKey(key, m), now)
	}
}

func (s *RedisStore) rollupHash(ctx context.Context, hk string, now time.Time) {
	fields, err := s.client.HGetAll(ctx, hk).Result()
	if err != nil || len(fields) == 0 {
		return
	}

	minuteCutoff := now.Add(-MinuteRetention).Unix()
	hourCutoff := now.Add(-HourRetention).Unix()
	dayCutoff := now.Add(-DayRetention).Unix()

	pipe := s.client.TxPipeline()
	dirty := false
	for field, raw := range fields {
		ts, n, ok := parseField(field, raw)
		if !ok {
			continue
		}
		switch field[0] {
		case 'm':
			if ts < minuteCutoff {
				pipe.HIncrBy(ctx, hk, "h"+strconv.FormatInt(floorHour(time.Unix(ts, 0).UTC()), 10), n)
				pipe.HDel(ctx, hk, field)
				dirty = true
			}
		case 'h':
			if ts < hourCutoff {
				pipe.HIncrBy(ctx, hk, "d"+strconv.FormatInt(floorDay(time.Unix(ts, 0).UTC()), 10), n)
				pipe.HDel(ctx, hk, field)
				dirty = true
			}
		case 'd':
			if ts < dayCutoff {
				pipe.HDel(ctx, hk, field)
				dirty = true
			}
		}
	}
	if dirty {
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("rollup failed", zap.String("hash", hk), zap.Error(err))
		}
	}
}

func parseField(field, raw string) (ts, n int64, ok bool) {
	if len(field) < 2 {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(field[1:], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	n, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return ts, n, true
}

func (s *RedisStore) Stats(key string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	now := s.now()
	out := make(Stats, len(Metrics))

	for _, m := range Metrics {
		st := MetricStats{Minute: BucketCounts{}, Hour: BucketCounts{}, Day: BucketCounts{}}
		fields, err := s.client.HGetAll(ctx, s.hashKey(key, m)).Result()
		if err != nil {
			s.logger.Warn("stats read failed", zap.String("key", key), zap.Error(err))
			out[m] = st
			continue
		}
		hourAgo := now.Add(-time.Hour).Unix()
		dayAgo := now.Add(-24 * time.Hour).Unix()
		for field, raw := range fields {
			ts, n, ok := parseField(field, raw)
			if !ok {
				continue
			}
			switch field[0] {
			case 'm':
				st.Minute[ts] = n
			case 'h':
				st.Hour[ts] = n
			case 'd':
				st.Day[ts] = n
			default:
				continue
			}
			st.Total += n
			if ts >= hourAgo {
				st.LastHour += n
			}
			if ts >= dayAgo {
				st.LastDay += n
			}
		}
		out[m] = st
	}
	return out
}

func (s *RedisStore) Clear(key string, metrics ...Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if len(metrics) == 0 {
		metrics = Metrics
	}
	for _, m := range metrics {
		if err := s.client.Del(ctx, s.hashKey(key, m)).Err(); err != nil {
			s.logger.Warn("clear failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *RedisStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if key != "" {
		for _, m := range Metrics {
			_ = s.client.Del(ctx, s.hashKey(key, m)).Err()
		}
		_ = s.client.SRem(ctx, s.prefix+"keys", key).Err()
		return
	}

	keys, err := s.client.SMembers(ctx, s.prefix+"keys").Result()
	if err != nil {
		s.logger.Warn("reset scan failed", zap.Error(err))
		return
	}
	for _, k := range keys {
		for _, m := range Metrics {
			_ = s.client.Del(ctx, s.hashKey(k, m)).Err()
		}
	}
	_ = s.client.Del(ctx, s.prefix+"keys").Err()
}

func (s *RedisStore) Keys() []string {
	keys, err := s.client.SMembers(context.Background(), s.prefix+"keys").Result()
	if err != nil {
		s.logger.Warn("keys read failed", zap.Error(err))
		return nil
	}
	sort.Strings(keys)
	return keys
}

var _ Store = (*RedisStore)(nil)

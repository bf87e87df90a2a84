// Package metricscache records recent run durations per (organization,
// image) in a bounded Redis list, giving dashboards a cheap rolling window
// without a time-series dependency. Grounded on the drop-tolerant,
// best-effort posture of internal/pubsub: a cache miss or write failure here
// is logged and never propagated (spec §7 METRICS).
package metricscache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// MaxSamples bounds each (org, image) list to the most recent N durations
// (spec §3 Metrics Sample, N=10).
const MaxSamples = 10

// Cache samples job durations into Redis.
type Cache struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func key(organizationID, image string) string {
	return fmt.Sprintf("metrics:%s:test:%s", organizationID, image)
}

// Sample records duration for (organizationID, image), trimming the list
// back down to MaxSamples most-recent entries.
func (c *Cache) Sample(ctx context.Context, organizationID, image string, duration time.Duration) error {
	k := key(organizationID, image)
	ms := strconv.FormatInt(duration.Milliseconds(), 10)

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, k, ms)
	pipe.LTrim(ctx, k, 0, MaxSamples-1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to sample metrics for %s: %w", k, err)
	}
	return nil
}

// Recent returns the stored duration samples for (organizationID, image),
// most-recent first.
func (c *Cache) Recent(ctx context.Context, organizationID, image string) ([]time.Duration, error) {
	k := key(organizationID, image)
	raw, err := c.rdb.LRange(ctx, k, 0, MaxSamples-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics for %s: %w", k, err)
	}

	out := make([]time.Duration, 0, len(raw))
	for _, v := range raw {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out, nil
}

// Average returns the mean of the stored samples, or zero if none exist.
func (c *Cache) Average(ctx context.Context, organizationID, image string) (time.Duration, error) {
	samples, err := c.Recent(ctx, organizationID, image)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples)), nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
)

// StatsCache stores aggregate report snapshots with a short TTL. A snapshot
// is a convenience for frequently polled dashboards; the event log remains
// the source of truth and a miss simply triggers a recomputation.
type StatsCache struct {
	client *Client
	ttl    time.Duration
}

// NewStatsCache creates a snapshot cache. ttl <= 0 uses the default.
func NewStatsCache(client *Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = TTLStatsSnapshot
	}
	return &StatsCache{client: client, ttl: ttl}
}

func statsKey(experimentName string) string {
	return PrefixStats + experimentName
}

// Get returns the cached snapshot, or ok=false on a miss.
func (c *StatsCache) Get(ctx context.Context, experimentName string) (analytics.AggregateStat, bool, error) {
	data, err := c.client.rdb.Get(ctx, statsKey(experimentName)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return analytics.AggregateStat{}, false, nil
		}
		return analytics.AggregateStat{}, false, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	var stat analytics.AggregateStat
	if err := json.Unmarshal(data, &stat); err != nil {
		return analytics.AggregateStat{}, false, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return stat, true, nil
}

// Set stores the snapshot.
func (c *StatsCache) Set(ctx context.Context, stat analytics.AggregateStat) error {
	data, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	if err := c.client.rdb.Set(ctx, statsKey(stat.ExperimentName), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

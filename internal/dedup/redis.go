package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// DefaultTTL bounds how long a run's keys live in Redis.
const DefaultTTL = 6 * time.Hour

// RedisConfig scopes a Redis seen set to one run.
type RedisConfig struct {
	Prefix string
	RunID  string
	TTL    time.Duration
}

// Redis is a seen set shared by every process working on the same run.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ research.SeenSet = (*Redis)(nil)

// NewRedis builds a set whose keys live under <prefix>:<run_id>:.
func NewRedis(client redis.Cmdable, cfg RedisConfig) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("dedup: redis client is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("dedup: run id is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "research:seen"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Redis{
		client: client,
		prefix: cfg.Prefix + ":" + cfg.RunID + ":",
		ttl:    cfg.TTL,
	}, nil
}

// MarkIfNew issues SET key 1 NX EX ttl.
func (r *Redis) MarkIfNew(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return ok, nil
}

package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used by RedisProvider when none is set.
const DefaultRedisPrefix = "npp:perms:"

// RedisConfig holds the connection settings of a Redis permission backend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL.
	URL string
	// Prefix is prepended to the per-player set key.
	Prefix      string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// OpenRedis connects to the Redis server described by conf and verifies the
// connection with a ping.
func OpenRedis(ctx context.Context, conf RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if conf.DialTimeout > 0 {
		opts.DialTimeout = conf.DialTimeout
	}
	if conf.ReadTimeout > 0 {
		opts.ReadTimeout = conf.ReadTimeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisProvider stores the nodes of every player in a Redis set keyed by the
// player's UUID. Wildcard members ("a.b.*", "*") are honoured.
type RedisProvider struct {
	client redis.Cmdable
	prefix string
}

// NewRedisProvider returns a RedisProvider using client. An empty prefix
// selects DefaultRedisPrefix.
func NewRedisProvider(client redis.Cmdable, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisProvider{client: client, prefix: prefix}
}

// HasPermission implements Provider with a single SMISMEMBER round trip over
// every node that would imply node.
func (p *RedisProvider) HasPermission(ctx context.Context, actor uuid.UUID, node Node) (bool, error) {
	candidates := node.Candidates()
	members := make([]any, len(candidates))
	for i, c := range candidates {
		members[i] = string(c)
	}
	found, err := p.client.SMIsMember(ctx, p.key(actor), members...).Result()
	if err != nil {
		return false, err
	}
	for _, ok := range found {
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Grant implements Editor.
func (p *RedisProvider) Grant(ctx context.Context, actor uuid.UUID, node Node) error {
	if err := p.client.SAdd(ctx, p.key(actor), string(node)).Err(); err != nil {
		return fmt.Errorf("grant %s: %w", node, err)
	}
	return nil
}

// Revoke implements Editor.
func (p *RedisProvider) Revoke(ctx context.Context, actor uuid.UUID, node Node) error {
	if err := p.client.SRem(ctx, p.key(actor), string(node)).Err(); err != nil {
		return fmt.Errorf("revoke %s: %w", node, err)
	}
	return nil
}

func (p *RedisProvider) key(actor uuid.UUID) string {
	return p.prefix + actor.String()
}

var (
	_ Provider = (*RedisProvider)(nil)
	_ Editor   = (*RedisProvider)(nil)
)

package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bhandras/relay/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix (default: "relay:policy:").
	Prefix string `yaml:"prefix"`
}

// Redis keeps the author and kind allowlists in Redis sets so several relay
// instances share one policy. Empty sets admit everything. Lookup errors
// deny.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "relay:policy:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) authorsKey() string { return r.prefix + "authors" }
func (r *Redis) kindsKey() string   { return r.prefix + "kinds" }

// member reports whether value is in the set at key, treating an empty set
// as containing everything.
func (r *Redis) member(ctx context.Context, key, value string) (bool, error) {
	var (
		card *redis.IntCmd
		hit  *redis.BoolCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		card = p.SCard(ctx, key)
		hit = p.SIsMember(ctx, key, value)
		return nil
	})
	if err != nil {
		return false, err
	}
	return card.Val() == 0 || hit.Val(), nil
}

// AuthorAllowed implements Policy.
func (r *Redis) AuthorAllowed(ctx context.Context, pubkey string) bool {
	ok, err := r.member(ctx, r.authorsKey(), pubkey)
	if err != nil {
		logger.Warnf("[policy] redis author lookup failed: %v", err)
		return false
	}
	return ok
}

// KindAllowed implements Policy.
func (r *Redis) KindAllowed(ctx context.Context, kind int) bool {
	ok, err := r.member(ctx, r.kindsKey(), strconv.Itoa(kind))
	if err != nil {
		logger.Warnf("[policy] redis kind lookup failed: %v", err)
		return false
	}
	return ok
}

// AllowKinds adds kinds to the kind allowlist.
func (r *Redis) AllowKinds(ctx context.Context, kinds ...int) error {
	if len(kinds) == 0 {
		return nil
	}
	members := make([]any, len(kinds))
	for i, k := range kinds {
		members[i] = strconv.Itoa(k)
	}
	return r.client.SAdd(ctx, r.kindsKey(), members...).Err()
}

// Add implements Allowlist.
func (r *Redis) Add(ctx context.Context, pubkey string) error {
	return r.client.SAdd(ctx, r.authorsKey(), normalize(pubkey)).Err()
}

// Remove implements Allowlist.
func (r *Redis) Remove(ctx context.Context, pubkey string) (bool, error) {
	n, err := r.client.SRem(ctx, r.authorsKey(), normalize(pubkey)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List implements Allowlist.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.authorsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

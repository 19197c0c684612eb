package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 36 * time.Hour

// SetCache stores built sets by seed so every node serves the same sequence
// for a date even across deploys that change the generator.
type SetCache interface {
	Get(ctx context.Context, catalogVersion, seedKey string, count int) ([]string, error)
	Put(ctx context.Context, catalogVersion, seedKey string, ids []string) error
}

// Cache is the Redis-backed SetCache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SetCache = (*Cache)(nil)

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) key(catalogVersion, seedKey string, count int) string {
	return strings.Join([]string{
		"questionset",
		catalogVersion,
		seedKey,
		fmt.Sprint(count),
	}, ":")
}

// Get returns nil ids on a miss.
func (c *Cache) Get(ctx context.Context, catalogVersion, seedKey string, count int) ([]string, error) {
	data, err := c.client.Get(ctx, c.key(catalogVersion, seedKey, count)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Put only writes when the key is absent so concurrent builders agree on the first set.
func (c *Cache) Put(ctx context.Context, catalogVersion, seedKey string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, c.key(catalogVersion, seedKey, len(ids)), data, c.ttl).Err()
}

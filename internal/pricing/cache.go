package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/valkey-io/valkey-go"

	"github.com/jonathan/appraisal-agent/internal/types"
)

const (
	cacheKeyPrefix  = "price:v1:"
	memoryCacheSize = 1024
)

// Cache stores complete price results by normalized query. Implementations
// are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, query string) (*types.PricePayload, bool, error)
	Set(ctx context.Context, query string, p *types.PricePayload) error
}

// CacheKey normalizes a query: lower case with collapsed whitespace.
func CacheKey(query string) string {
	return cacheKeyPrefix + strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// ValkeyCache shares price results between instances.
type ValkeyCache struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkeyClient connects to addr and verifies it with PING.
func NewValkeyClient(ctx context.Context, addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	resp := client.Do(ctx, client.B().Ping().Build())
	if err := resp.Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}

// NewValkeyCache creates a cache whose entries expire after ttl.
func NewValkeyCache(client valkey.Client, ttl time.Duration) *ValkeyCache {
	return &ValkeyCache{client: client, ttl: ttl}
}

func (c *ValkeyCache) Get(ctx context.Context, query string) (*types.PricePayload, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(CacheKey(query)).Build())
	data, err := resp.AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load cached price: %w", err)
	}

	var p types.PricePayload
	if err := json.Unmarshal(data, &p); err != nil {
		// A stale encoding is treated as a miss.
		return nil, false, nil
	}
	return &p, true, nil
}

// Ping checks that the Valkey server is reachable.
func (c *ValkeyCache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *ValkeyCache) Set(ctx context.Context, query string, p *types.PricePayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal price: %w", err)
	}

	resp := c.client.Do(ctx, c.client.B().Set().Key(CacheKey(query)).Value(string(data)).Ex(c.ttl).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("save cached price: %w", err)
	}
	return nil
}

// MemoryCache keeps price results in process.
type MemoryCache struct {
	cache *ttlcache.Cache[string, types.PricePayload]
}

// NewMemoryCache creates an in-process cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, types.PricePayload](ttl),
			ttlcache.WithCapacity[string, types.PricePayload](memoryCacheSize),
		),
	}
}

func (c *MemoryCache) Get(_ context.Context, query string) (*types.PricePayload, bool, error) {
	item := c.cache.Get(CacheKey(query))
	if item == nil {
		return nil, false, nil
	}
	p := item.Value()
	p.PriceFactors = append([]string(nil), p.PriceFactors...)
	return &p, true, nil
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, query string, p *types.PricePayload) error {
	stored := *p
	stored.PriceFactors = append([]string(nil), p.PriceFactors...)
	c.cache.Set(CacheKey(query), stored, ttlcache.DefaultTTL)
	return nil
}

var (
	_ Cache = (*ValkeyCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/cropsense-service/internal/models"
)

const keyPrefix = "weather:"

// MemcachedBackend stores entries as JSON blobs with no memcached expiration.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend creates a MemcachedBackend. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use client defaults when zero.
func NewMemcachedBackend(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedBackend {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedBackend{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys may not contain spaces or control characters.
func memcachedKey(k string) string {
	return keyPrefix + strings.ReplaceAll(k, " ", "_")
}

func (c *MemcachedBackend) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheEntry{}, false, err
	}
	item, err := c.client.Get(memcachedKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("memcached decode entry: %w", err)
	}
	return entry, true, nil
}

func (c *MemcachedBackend) Put(ctx context.Context, entry models.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memcached encode entry: %w", err)
	}
	if err := c.client.Set(&memcache.Item{Key: memcachedKey(entry.Key), Value: raw}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

func (c *MemcachedBackend) Ping(ctx context.Context) error {
	return c.client.Ping()
}

func (c *MemcachedBackend) Close() error {
	return c.client.Close()
}

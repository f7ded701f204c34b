package cache

import (
	"context"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kjstillabower/cropsense-service/internal/models"
)

// MemoryBackend keeps entries in process memory. Entries never expire and are
// lost on restart.
type MemoryBackend struct {
	items *gocache.Cache
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheEntry{}, false, err
	}
	v, ok := m.items.Get(key)
	if !ok {
		return models.CacheEntry{}, false, nil
	}
	return v.(models.CacheEntry), true, nil
}

func (m *MemoryBackend) Put(ctx context.Context, entry models.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.items.Set(entry.Key, entry, gocache.NoExpiration)
	return nil
}

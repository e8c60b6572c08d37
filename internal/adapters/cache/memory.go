package cache

import (
	"context"
	"strings"
	"time"

	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache кэш в памяти процесса на основе go-cache.
// Используется как первый уровень перед Redis для справочных данных
// (схемы аспектов категорий), которые не меняются в пределах запуска
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache создает кэш в памяти с указанным сроком действия по умолчанию
func NewMemoryCache(defaultExpiration, cleanupInterval time.Duration) interfaces.CachePort {
	return &MemoryCache{
		store: gocache.New(defaultExpiration, cleanupInterval),
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	val, found := m.store.Get(key)
	if !found {
		return nil, pkgerrors.ErrCacheMiss
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, pkgerrors.ErrCacheMiss
	}
	return data, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	if expiration == 0 {
		expiration = gocache.NoExpiration
	}
	m.store.Set(key, value, expiration)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	// Поддерживается только шаблон вида "prefix:*"
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(key)
		}
	}
	return nil
}

func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}

package cache

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

const keyPrefix = "pairdata:fp:"

// memcache reads expirations above 30 days as absolute unix timestamps.
const maxRelativeExpiration = 30 * 24 * time.Hour

func fingerprintKey(identifier string) string {
	return keyPrefix + identifier
}

// MemcacheFingerprintStore keeps pairing fingerprints in memcached.
type MemcacheFingerprintStore struct {
	client *memcache.Client
	ttl    time.Duration
}

func NewMemcacheFingerprintStore(client *memcache.Client, ttl time.Duration) *MemcacheFingerprintStore {
	if ttl <= 0 || ttl > maxRelativeExpiration {
		ttl = maxRelativeExpiration
	}
	return &MemcacheFingerprintStore{client: client, ttl: ttl}
}

func (s *MemcacheFingerprintStore) Get(ctx context.Context, identifier string) (string, bool, error) {
	item, err := s.client.Get(fingerprintKey(identifier))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "MemcacheFingerprintStore.Get failed")
	}
	return string(item.Value), true, nil
}

// Add stores digest unless a value exists already, and returns the value that won.
func (s *MemcacheFingerprintStore) Add(ctx context.Context, identifier, digest string) (string, error) {
	err := s.client.Add(&memcache.Item{
		Key:        fingerprintKey(identifier),
		Value:      []byte(digest),
		Expiration: int32(s.ttl / time.Second),
	})
	if err == nil {
		return digest, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return "", errors.Wrap(err, "MemcacheFingerprintStore.Add failed")
	}

	existing, ok, err := s.Get(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !ok {
		// evicted between Add and Get
		return digest, nil
	}
	return existing, nil
}

func (s *MemcacheFingerprintStore) Set(ctx context.Context, identifier, digest string) error {
	err := s.client.Set(&memcache.Item{
		Key:        fingerprintKey(identifier),
		Value:      []byte(digest),
		Expiration: int32(s.ttl / time.Second),
	})
	if err != nil {
		return errors.Wrap(err, "MemcacheFingerprintStore.Set failed")
	}
	return nil
}

func (s *MemcacheFingerprintStore) Delete(ctx context.Context, identifier string) error {
	err := s.client.Delete(fingerprintKey(identifier))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return errors.Wrap(err, "MemcacheFingerprintStore.Delete failed")
	}
	return nil
}

// MemoryFingerprintStore keeps fingerprints in process. Used when no memcached is configured.
type MemoryFingerprintStore struct {
	cache *gocache.Cache
}

func NewMemoryFingerprintStore(ttl time.Duration) *MemoryFingerprintStore {
	if ttl <= 0 {
		ttl = maxRelativeExpiration
	}
	return &MemoryFingerprintStore{
		cache: gocache.New(ttl, 15*time.Minute),
	}
}

func (s *MemoryFingerprintStore) Get(ctx context.Context, identifier string) (string, bool, error) {
	v, found := s.cache.Get(fingerprintKey(identifier))
	if !found {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (s *MemoryFingerprintStore) Add(ctx context.Context, identifier, digest string) (string, error) {
	err := s.cache.Add(fingerprintKey(identifier), digest, gocache.DefaultExpiration)
	if err == nil {
		return digest, nil
	}
	existing, found := s.cache.Get(fingerprintKey(identifier))
	if !found {
		return digest, nil
	}
	return existing.(string), nil
}

func (s *MemoryFingerprintStore) Set(ctx context.Context, identifier, digest string) error {
	s.cache.Set(fingerprintKey(identifier), digest, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryFingerprintStore) Delete(ctx context.Context, identifier string) error {
	s.cache.Delete(fingerprintKey(identifier))
	return nil
}

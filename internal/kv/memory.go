package kv

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore implementa Store sobre go-cache sin expiración.
// Útil para testing: no sobrevive al proceso.
type memoryStore struct {
	prefix string
	c      *gocache.Cache
}

// NewMemory crea un Store en memoria.
func NewMemory(prefix string) Store {
	return &memoryStore{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, 0),
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := s.c.Get(prefixed(s.prefix, key))
	if !ok {
		return "", ErrNotFound
	}
	str, _ := v.(string)
	return str, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string) error {
	s.c.Set(prefixed(s.prefix, key), value, gocache.NoExpiration)
	return nil
}

func (s *memoryStore) Remove(ctx context.Context, key string) error {
	s.c.Delete(prefixed(s.prefix, key))
	return nil
}

func (s *memoryStore) Close() error {
	s.c.Flush()
	return nil
}

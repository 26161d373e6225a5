// Package memory implementa el Repository sobre go-cache (in-process).
// Pensado para desarrollo, tests y despliegues de un solo nodo.
package memory

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ma13w/cverify/internal/store/core"
)

type Store struct{ c *gocache.Cache }

func New() *Store {
	return &Store{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, core.ErrNotFound
	}
	b, _ := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b := make([]byte, len(value))
	copy(b, value)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.c.Set(key, b, ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Delete(key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	items := s.c.Items()
	out := make([]string, 0, len(items))
	for k := range items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

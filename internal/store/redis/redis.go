// Package redis implementa el Repository sobre Redis (distribuido).
package redis

import (
	"context"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/ma13w/cverify/internal/store/core"
)

type Store struct {
	client *rdb.Client
	prefix string
}

type Options struct {
	Addr   string
	DB     int
	Prefix string
}

func New(opts Options) (*Store, error) {
	client := rdb.NewClient(&rdb.Options{Addr: opts.Addr, DB: opts.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "cverify:"
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == rdb.Nil {
		return nil, core.ErrNotFound
	}
	return b, err
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(s.prefix):])
	}
	return out, iter.Err()
}

func (s *Store) Close() error { return s.client.Close() }

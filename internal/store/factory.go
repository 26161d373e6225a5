// Package store selecciona el adapter de persistencia según configuración.
package store

import (
	"context"
	"fmt"

	"github.com/ma13w/cverify/internal/config"
	"github.com/ma13w/cverify/internal/store/core"
	fsstore "github.com/ma13w/cverify/internal/store/fs"
	"github.com/ma13w/cverify/internal/store/memory"
	pgstore "github.com/ma13w/cverify/internal/store/pg"
	redisstore "github.com/ma13w/cverify/internal/store/redis"
)

// New crea el Repository según cfg.Storage.Driver.
func New(ctx context.Context, cfg *config.Config) (core.Repository, error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return memory.New(), nil
	case "fs":
		return fsstore.New(cfg.Storage.FSRoot)
	case "redis":
		return redisstore.New(redisstore.Options{
			Addr:   cfg.Storage.Redis.Addr,
			DB:     cfg.Storage.Redis.DB,
			Prefix: cfg.Storage.Redis.Prefix,
		})
	case "postgres":
		return pgstore.New(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Storage.Driver)
	}
}

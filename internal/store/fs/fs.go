// Package fs implementa el Repository sobre archivos JSON planos, un archivo
// por registro, con escrituras atómicas. Sin soporte de TTL: los registros
// con expiración (challenges, sesiones) llevan su expiry en el contenido y
// el caller lo aplica al leer.
package fs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ma13w/cverify/internal/store/core"
	"github.com/ma13w/cverify/internal/util/atomicwrite"
)

type Store struct{ root string }

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Root expone el directorio base (lo usa el snapshot del cluster).
func (s *Store) Root() string { return s.root }

func (s *Store) path(key string) (string, error) {
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", core.ErrInvalid
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)+".json"), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, core.ErrNotFound
	}
	return b, err
}

func (s *Store) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return atomicwrite.AtomicWriteFile(p, value, 0o600)
}

func (s *Store) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(s.root, p)
		if rerr != nil {
			return rerr
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	return out, err
}

func (s *Store) Close() error { return nil }

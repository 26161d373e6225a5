package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/ma13w/cverify/internal/store/core"
	fsstore "github.com/ma13w/cverify/internal/store/fs"
)

// ErrNotLeader: las escrituras sólo se aceptan en el leader. El caller debe
// redirigir al nodo que reporta LeaderID().
var ErrNotLeader = errors.New("cluster: not the leader")

// Store implementa core.Repository sobre el cluster: lecturas locales,
// escrituras por el log de Raft. TTL no se replica (igual que el store FS,
// la expiración se valida por contenido).
type Store struct {
	node  *Node
	local *fsstore.Store
}

var _ core.Repository = (*Store)(nil)

func NewStore(node *Node, local *fsstore.Store) *Store {
	return &Store{node: node, local: local}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.local.Get(ctx, key)
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return s.local.List(ctx, prefix)
}

func (s *Store) Put(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if !s.node.IsLeader() {
		return ErrNotLeader
	}
	_, err := s.node.Apply(ctx, Mutation{Type: MutationPut, Key: key, Value: value})
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.node.IsLeader() {
		return ErrNotLeader
	}
	_, err := s.node.Apply(ctx, Mutation{Type: MutationDelete, Key: key})
	return err
}

func (s *Store) Close() error {
	err := s.node.Close()
	if cerr := s.local.Close(); err == nil {
		err = cerr
	}
	return err
}

package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/ma13w/cverify/internal/metrics"
	"github.com/ma13w/cverify/internal/observability/logger"
)

// Node envuelve *raft.Raft con helpers de Apply/Leader/Close y un
// constructor que inicializa stores (BoltDB), snapshots y transporte TCP.
type Node struct {
	r            *raft.Raft
	applyTimeout time.Duration
	id           raft.ServerID
	addr         raft.ServerAddress
}

type NodeOptions struct {
	NodeID   string            // identidad de este nodo
	RaftAddr string            // host:port para transporte Raft
	RaftDir  string            // directorio de datos de Raft (<fs root>/raft)
	FSM      raft.FSM          // implementación de FSM
	Peers    map[string]string // peers estáticos nodeID->raftAddr; vacío = single node

	// SnapshotEvery: entradas de log aplicadas entre snapshots; 0 = default raft.
	SnapshotEvery int
}

func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeID == "" || opts.RaftAddr == "" || opts.RaftDir == "" || opts.FSM == nil {
		return nil, errors.New("cluster: invalid NodeOptions")
	}
	if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir raft dir: %w", err)
	}

	// log + stable en la misma Bolt DB
	boltPath := filepath.Join(opts.RaftDir, "raft.db")
	boltStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}

	snapStore, err := raft.NewFileSnapshotStore(opts.RaftDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	trans, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("tcp transport: %w", err)
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)
	if opts.SnapshotEvery > 0 {
		cfg.SnapshotThreshold = uint64(opts.SnapshotEvery)
	}

	r, err := raft.NewRaft(cfg, opts.FSM, boltStore, boltStore, snapStore, trans)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	go func(ch <-chan bool) {
		for v := range ch {
			if v {
				metrics.RaftLeadershipChanges.Inc()
			}
		}
	}(r.LeaderCh())

	hasState, err := raft.HasExistingState(boltStore, boltStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("check state: %w", err)
	}
	if !hasState {
		if len(opts.Peers) <= 1 {
			conf := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: trans.LocalAddr()}}}
			if err := r.BootstrapCluster(conf).Error(); err != nil {
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
			logger.L().Info("bootstrapped single-node cluster",
				logger.String("node_id", opts.NodeID), logger.String("addr", opts.RaftAddr))
		} else {
			// bootstrap estático determinístico: lo hace el menor NodeID
			smallest := opts.NodeID
			for id := range opts.Peers {
				if id < smallest {
					smallest = id
				}
			}
			if opts.NodeID == smallest {
				var servers []raft.Server
				for id, addr := range opts.Peers {
					servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
				}
				if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
					return nil, fmt.Errorf("bootstrap(static): %w", err)
				}
				logger.L().Info("bootstrapped static cluster",
					logger.Int("peers", len(servers)), logger.String("node_id", opts.NodeID))
			} else {
				logger.L().Info("waiting to join static cluster",
					logger.String("node_id", opts.NodeID), logger.String("bootstrapper", smallest))
			}
		}
	}

	// tamaño del log Bolt, para alertar crecimiento sin snapshot
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for range t.C {
			if st, err := os.Stat(boltPath); err == nil {
				metrics.RaftLogSizeBytes.Set(float64(st.Size()))
			}
		}
	}()

	return &Node{r: r, applyTimeout: 5 * time.Second, id: cfg.LocalID, addr: trans.LocalAddr()}, nil
}

// Apply serializa la mutación y espera commit o timeout.
func (n *Node) Apply(ctx context.Context, m Mutation) (uint64, error) {
	if n == nil || n.r == nil {
		return 0, errors.New("cluster: raft not initialized")
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	fut := n.r.Apply(buf, n.applyTimeout)

	done := make(chan struct{})
	var applyErr error
	var index uint64
	go func() {
		applyErr = fut.Error()
		index = fut.Index()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-done:
		metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
		return index, applyErr
	}
}

func (n *Node) IsLeader() bool {
	if n == nil || n.r == nil {
		return false
	}
	return n.r.State() == raft.Leader
}

func (n *Node) LeaderID() string {
	if n == nil || n.r == nil {
		return ""
	}
	addr, id := n.r.LeaderWithID()
	if id != "" {
		return string(id)
	}
	return string(addr)
}

func (n *Node) NodeID() string {
	if n == nil {
		return ""
	}
	return string(n.id)
}

// Stats expone las métricas internas de raft.Raft.Stats().
func (n *Node) Stats() map[string]string {
	if n == nil || n.r == nil {
		return map[string]string{}
	}
	return n.r.Stats()
}

func (n *Node) Close() error {
	if n == nil || n.r == nil {
		return nil
	}
	return n.r.Shutdown().Error()
}

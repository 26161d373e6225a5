// Package cluster replica el record store por Raft para despliegues HA:
// cada Put/Delete pasa por el log consensuado y se aplica sobre el store FS
// local de cada nodo. Snapshots empaquetan el árbol completo como tar.gz.
package cluster

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	ppath "path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/raft"

	fsstore "github.com/ma13w/cverify/internal/store/fs"
)

// FSM aplica mutaciones del log al store FS local.
type FSM struct {
	store *fsstore.Store
}

func NewFSM(store *fsstore.Store) *FSM { return &FSM{store: store} }

func (f *FSM) Apply(l *raft.Log) interface{} {
	if l == nil || len(l.Data) == 0 {
		return nil
	}
	var m Mutation
	if err := json.Unmarshal(l.Data, &m); err != nil {
		return err
	}
	switch m.Type {
	case MutationPut:
		return f.store.Put(context.Background(), m.Key, m.Value, 0)
	case MutationDelete:
		return f.store.Delete(context.Background(), m.Key)
	default:
		// tipo desconocido: ignorar para compatibilidad hacia adelante
		return nil
	}
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsSnap{root: f.store.Root()}, nil
}

// Restore reemplaza el contenido del store con el snapshot recibido:
// extrae a un staging dir bajo el root y hace swap por rename.
func (f *FSM) Restore(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	defer rc.Close()

	root := f.store.Root()
	staging := filepath.Join(root, "restore.tmp")
	_ = os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return err
	}

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n := ppath.Clean(strings.ReplaceAll(hdr.Name, "\\", "/"))
		if n == "." || strings.HasPrefix(n, "..") || strings.HasPrefix(n, "restore.tmp") {
			continue
		}
		target := filepath.Join(staging, filepath.FromSlash(n))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return err
			}
			_ = out.Close()
		default:
			// symlinks y otros tipos se omiten
		}
	}

	// swap por subdirectorio de primer nivel, con .bak para rollback best-effort
	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}

	// Restore reemplaza, no mezcla: lo que existe localmente y no viene en el
	// snapshot también se borra, o el follower diverge del leader.
	incoming := make(map[string]bool, len(entries))
	for _, e := range entries {
		incoming[e.Name()] = true
	}
	existing, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range existing {
		name := e.Name()
		if name == "raft" || name == "restore.tmp" || incoming[name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
			return err
		}
	}

	for _, e := range entries {
		dst := filepath.Join(root, e.Name())
		src := filepath.Join(staging, e.Name())
		bak := dst + ".bak"
		_ = os.RemoveAll(bak)
		if _, err := os.Stat(dst); err == nil {
			_ = os.Rename(dst, bak)
		}
		if err := os.Rename(src, dst); err != nil {
			if _, stErr := os.Stat(bak); stErr == nil {
				_ = os.Rename(bak, dst)
			}
			return err
		}
		_ = os.RemoveAll(bak)
	}
	_ = os.RemoveAll(staging)
	return nil
}

type fsSnap struct{ root string }

func (s *fsSnap) Persist(sink raft.SnapshotSink) error {
	gw := gzip.NewWriter(sink)
	tw := tar.NewWriter(gw)

	addFile := func(rel string, info os.FileInfo, full string) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			in, err := os.Open(full)
			if err != nil {
				return err
			}
			defer in.Close()
			if _, err := io.Copy(tw, in); err != nil {
				return err
			}
		}
		return nil
	}

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.root, path)
		rel = filepath.ToSlash(rel)
		if rel == "." || strings.HasPrefix(rel, "raft") || strings.HasPrefix(rel, "restore.tmp") {
			if info.IsDir() && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return addFile(rel+"/", info, path)
		}
		return addFile(rel, info, path)
	})
	if err != nil {
		_ = tw.Close()
		_ = gw.Close()
		_ = sink.Cancel()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = gw.Close()
		_ = sink.Cancel()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsSnap) Release() {}

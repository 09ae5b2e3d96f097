package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FSStore persists each cache entry as a payload file plus a JSON meta
// sidecar, fanned out over shard directories so no single directory grows
// unbounded. Writes go through a temp file and an atomic rename; a crash
// mid-write leaves no partial entry behind.
type FSStore struct {
	root string
	mu   sync.Mutex
}

type fsMeta struct {
	Key       string    `json:"key"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFSStore opens a filesystem-backed store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) paths(key FetchKey) (payload, meta string) {
	k := string(key)
	shard := k[len(k)-2:]
	dir := filepath.Join(s.root, shard)
	return filepath.Join(dir, k+".bin"), filepath.Join(dir, k+".meta.json")
}

func (s *FSStore) Get(_ context.Context, key FetchKey) ([]byte, bool, error) {
	payloadPath, _ := s.paths(key)
	payload, err := os.ReadFile(payloadPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return payload, true, nil
}

func (s *FSStore) Put(_ context.Context, key FetchKey, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadPath, metaPath := s.paths(key)
	sum := checksum(payload)

	if existing, err := os.ReadFile(payloadPath); err == nil {
		if stored := checksum(existing); stored != sum {
			return &ConsistencyError{Key: key, Stored: stored, Incoming: sum}
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cache put %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(payloadPath), 0o755); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	if err := writeAtomic(payloadPath, payload); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}

	meta, err := json.Marshal(fsMeta{Key: string(key), Checksum: sum, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	if err := writeAtomic(metaPath, meta); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FSStore) Status(_ context.Context) (Status, error) {
	st := Status{Backend: BackendFS}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".meta.json") {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var meta fsMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("corrupt meta %s: %w", path, err)
		}
		st.Entries++
		if st.Oldest.IsZero() || meta.CreatedAt.Before(st.Oldest) {
			st.Oldest = meta.CreatedAt
		}
		if meta.CreatedAt.After(st.Newest) {
			st.Newest = meta.CreatedAt
		}
		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("cache status: %w", err)
	}
	return st, nil
}

func (s *FSStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (s *FSStore) Close() error {
	return nil
}

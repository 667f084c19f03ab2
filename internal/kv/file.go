package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileStore persiste todas las keys en un único JSON.
// Cada Set/Remove reescribe el archivo completo de forma atómica; con dos keys alcanza.
type fileStore struct {
	path   string
	prefix string

	mu   sync.Mutex
	data map[string]string
}

// NewFile abre (o crea en el primer write) el archivo de storage.
func NewFile(path, prefix string) (Store, error) {
	s := &fileStore{path: path, prefix: prefix, data: map[string]string{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("kv: read %s: %w", path, err)
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &s.data); err != nil {
			return nil, fmt.Errorf("kv: decode %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *fileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[prefixed(s.prefix, key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *fileStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := prefixed(s.prefix, key)
	prev, had := s.data[k]
	s.data[k] = value
	if err := s.flush(); err != nil {
		// mantener memoria == disco
		if had {
			s.data[k] = prev
		} else {
			delete(s.data, k)
		}
		return err
	}
	return nil
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := prefixed(s.prefix, key)
	prev, had := s.data[k]
	if !had {
		return nil
	}
	delete(s.data, k)
	if err := s.flush(); err != nil {
		s.data[k] = prev
		return err
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) flush() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("kv: encode: %w", err)
	}
	return writeFileAtomic(s.path, b, 0o600)
}

// writeFileAtomic: write tmp → Sync → Close → Chmod → Rename.
// Si rename falla (Windows con destino bloqueado) intenta remove+rename.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("kv: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".kv-*")
	if err != nil {
		return fmt.Errorf("kv: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("kv: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("kv: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kv: close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("kv: rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}

package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type storedFile struct {
	content []byte
	modTime time.Time
}

// MemoryStore is a thread-safe, in-memory Store for testing/dev.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*storedFile
	now   func() time.Time
}

// NewMemoryStore returns a ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*storedFile),
		now:   time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, ext string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	id, name, err := NewName(ext)
	if err != nil {
		return nil, err
	}

	content := make([]byte, len(data))
	copy(content, data)

	s.mu.Lock()
	s.files[name] = &storedFile{content: content, modTime: s.now()}
	s.mu.Unlock()

	return &Object{ID: id, Name: name, Path: "mem://" + name, Size: int64(len(data))}, nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (io.ReadCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	f, ok := s.files[name]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.files, name)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]FileInfo, 0, len(s.files))
	for name, f := range s.files {
		if !IsImage(name) {
			continue
		}
		files = append(files, FileInfo{Name: name, Size: int64(len(f.content)), ModTime: f.modTime})
	}
	sortNewestFirst(files)
	return files, nil
}

// Has reports whether name is stored.
func (s *MemoryStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[name]
	return ok
}

// Len returns the number of stored files.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory ChunkStore for exercising session and finalize
// logic without disk I/O.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]map[int][]byte
}

// NewMemStore creates an empty in-memory chunk store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]map[int][]byte)}
}

// PutChunk stores a copy of data.
func (s *MemStore) PutChunk(ctx context.Context, sessionID string, index int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, ok := s.sessions[sessionID]
	if !ok {
		chunks = make(map[int][]byte)
		s.sessions[sessionID] = chunks
	}
	chunks[index] = append([]byte(nil), data...)

	return fmt.Sprintf("mem://%s/%06d", sessionID, index), nil
}

// GetChunk returns a copy of the stored bytes.
func (s *MemStore) GetChunk(ctx context.Context, sessionID string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.sessions[sessionID][index]
	if !ok {
		return nil, fmt.Errorf("%w: session %s index %d", ErrChunkNotFound, sessionID, index)
	}
	return append([]byte(nil), data...), nil
}

// ListIndices returns the stored indices in ascending order.
func (s *MemStore) ListIndices(ctx context.Context, sessionID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var indices []int
	for index := range s.sessions[sessionID] {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

// DeleteAll drops the session's chunks.
func (s *MemStore) DeleteAll(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

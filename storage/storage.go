// Package storage provides scratch storage for in-flight transfer chunks.
//
// Chunks are written per session as they arrive (in any order) and read
// back in index order during finalization. The ChunkStore interface keeps
// session and finalize logic independent of the backing medium; the
// filesystem backend matches the original on-disk scratch layout, the
// Badger backend keeps chunks in an embedded key-value store, and the
// in-memory backend exists for tests.
package storage

import (
	"context"
	"errors"
)

// ErrChunkNotFound indicates that no chunk is stored for the requested
// session and index.
var ErrChunkNotFound = errors.New("chunk not found")

// ChunkStore persists chunks for in-flight sessions. Implementations must
// be safe for concurrent use; callers never write the same (session, index)
// pair concurrently, but distinct pairs arrive in parallel.
type ChunkStore interface {
	// PutChunk stores data for the given session and index, returning a
	// backend-specific reference (a file path or key). Re-storing an index
	// overwrites the previous content.
	PutChunk(ctx context.Context, sessionID string, index int, data []byte) (string, error)

	// GetChunk returns the stored bytes for the given session and index.
	GetChunk(ctx context.Context, sessionID string, index int) ([]byte, error)

	// ListIndices returns the indices currently stored for the session,
	// in ascending order.
	ListIndices(ctx context.Context, sessionID string) ([]int, error)

	// DeleteAll removes every chunk stored for the session.
	DeleteAll(ctx context.Context, sessionID string) error
}

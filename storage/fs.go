package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// chunkFilePrefix matches the original scratch layout: one file per chunk,
// named by zero-padded index under a per-session directory.
const chunkFilePrefix = "chunk_"

// FSStore keeps chunks as files under root, one directory per session.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed chunk store rooted at root. The
// directory is created if it does not exist.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// sessionDir returns the scratch directory for a session.
func (s *FSStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, "file_transfer_"+sessionID)
}

// PutChunk writes the chunk to <root>/file_transfer_<id>/chunk_<index %06d>.
func (s *FSStore) PutChunk(ctx context.Context, sessionID string, index int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s%06d", chunkFilePrefix, index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save chunk %d: %w", index, err)
	}
	return path, nil
}

// GetChunk reads the stored chunk bytes.
func (s *FSStore) GetChunk(ctx context.Context, sessionID string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.sessionDir(sessionID), fmt.Sprintf("%s%06d", chunkFilePrefix, index))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: session %s index %d", ErrChunkNotFound, sessionID, index)
		}
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	return data, nil
}

// ListIndices scans the session directory for chunk files.
func (s *FSStore) ListIndices(ctx context.Context, sessionID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list session chunks: %w", err)
	}

	var indices []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, chunkFilePrefix) {
			continue
		}
		index, convErr := strconv.Atoi(strings.TrimPrefix(name, chunkFilePrefix))
		if convErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ListIndices",
				"file":     name,
			}).Warn("Ignoring stray file in session scratch directory")
			continue
		}
		indices = append(indices, index)
	}

	sort.Ints(indices)
	return indices, nil
}

// DeleteAll removes the session's scratch directory.
func (s *FSStore) DeleteAll(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove session scratch: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps chunks in an embedded Badger key-value store. Keys are
// "chunk/<session>/<index %06d>", so a session's chunks form one key prefix
// that can be scanned and dropped together.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger-backed chunk store at path.
// Badger's own logger is silenced; this package logs through logrus.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func sessionPrefix(sessionID string) []byte {
	return []byte("chunk/" + sessionID + "/")
}

func chunkKey(sessionID string, index int) []byte {
	return []byte(fmt.Sprintf("chunk/%s/%06d", sessionID, index))
}

// PutChunk stores the chunk under its session-prefixed key.
func (s *BadgerStore) PutChunk(ctx context.Context, sessionID string, index int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := chunkKey(sessionID, index)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to save chunk %d: %w", index, err)
	}
	return string(key), nil
}

// GetChunk returns the stored chunk bytes.
func (s *BadgerStore) GetChunk(ctx context.Context, sessionID string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(sessionID, index))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: session %s index %d", ErrChunkNotFound, sessionID, index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	return data, nil
}

// ListIndices scans the session's key prefix.
func (s *BadgerStore) ListIndices(ctx context.Context, sessionID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := sessionPrefix(sessionID)
	var indices []int

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			index, convErr := strconv.Atoi(strings.TrimPrefix(key, string(prefix)))
			if convErr != nil {
				continue
			}
			indices = append(indices, index)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list session chunks: %w", err)
	}

	sort.Ints(indices)
	return indices, nil
}

// DeleteAll drops every key under the session's prefix.
func (s *BadgerStore) DeleteAll(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := sessionPrefix(sessionID)
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan session chunks: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to remove session scratch: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to remove session scratch: %w", err)
	}
	return nil
}

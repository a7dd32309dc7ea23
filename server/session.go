package server

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/limits"
)

// ErrSessionNotFound indicates an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionNotActive indicates the session is in the wrong state for the
// requested operation.
var ErrSessionNotActive = errors.New("session not active")

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive accepts chunk stores and a finalize call.
	StatusActive Status = "active"
	// StatusFinalizing fences concurrent finalize calls.
	StatusFinalizing Status = "finalizing"
	// StatusCompleted means the file was reconstructed and verified.
	StatusCompleted Status = "completed"
)

// Session tracks one file transfer from creation to completion. All fields
// are guarded by the owning Store's lock.
type Session struct {
	ID           string
	Filename     string
	TotalSize    int64
	TotalChunks  int
	ExpectedHash string
	Received     map[int]struct{}
	ChunkRefs    map[int]string
	Status       Status
	CreatedAt    time.Time
	LastActivity time.Time
	CompletedAt  time.Time
	OutputPath   string
}

// Snapshot is a point-in-time copy of session state for status reporting.
type Snapshot struct {
	ID             string
	Status         Status
	Progress       float64
	ReceivedChunks int
	TotalChunks    int
	Filename       string
	OutputPath     string
	TransferTime   time.Duration
}

// finalizeInfo carries the fields the finalizer needs after taking the
// finalizing fence, copied so reconstruction runs outside the lock.
type finalizeInfo struct {
	Filename     string
	TotalChunks  int
	ExpectedHash string
	Received     map[int]struct{}
	CreatedAt    time.Time
}

// Store is the in-memory session registry. One exclusive lock guards all
// reads and writes; long operations (disk I/O, cipher work) must run
// outside it.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session registry.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// newSessionID derives a 16-hex-character id from the filename and creation
// time. Ids are not guaranteed unique under rapid creation: a later
// collision silently overwrites the earlier session. Kept as-is for wire
// compatibility.
func newSessionID(filename string, now time.Time) string {
	seed := fmt.Sprintf("%s%.7f", filename, float64(now.UnixNano())/1e9)
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:limits.SessionIDLength]
}

// Create allocates a new active session and registers it.
func (s *Store) Create(filename string, totalSize int64, totalChunks int, expectedHash string) *Session {
	now := time.Now()
	session := &Session{
		ID:           newSessionID(filename, now),
		Filename:     filename,
		TotalSize:    totalSize,
		TotalChunks:  totalChunks,
		ExpectedHash: expectedHash,
		Received:     make(map[int]struct{}),
		ChunkRefs:    make(map[int]string),
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	s.mu.Lock()
	if _, exists := s.sessions[session.ID]; exists {
		logrus.WithFields(logrus.Fields{
			"function":   "Create",
			"session_id": session.ID,
		}).Warn("Session id collision, overwriting earlier session")
	}
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// CheckActive verifies the session exists and is active, refreshing its
// activity timestamp.
func (s *Store) CheckActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Status != StatusActive {
		return ErrSessionNotActive
	}
	session.LastActivity = time.Now()
	return nil
}

// MarkReceived records a stored chunk: adds the index to the received set
// (idempotently), records the storage reference, and refreshes activity.
func (s *Store) MarkReceived(id string, index int, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Status != StatusActive {
		return ErrSessionNotActive
	}

	session.Received[index] = struct{}{}
	session.ChunkRefs[index] = ref
	session.LastActivity = time.Now()
	return nil
}

// BeginFinalize atomically transitions active -> finalizing and returns the
// data the finalizer needs. A concurrent second call observes a non-active
// status and fails fast.
func (s *Store) BeginFinalize(id string) (finalizeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return finalizeInfo{}, ErrSessionNotFound
	}
	if session.Status != StatusActive {
		return finalizeInfo{}, ErrSessionNotActive
	}
	session.Status = StatusFinalizing

	received := make(map[int]struct{}, len(session.Received))
	for index := range session.Received {
		received[index] = struct{}{}
	}

	return finalizeInfo{
		Filename:     session.Filename,
		TotalChunks:  session.TotalChunks,
		ExpectedHash: session.ExpectedHash,
		Received:     received,
		CreatedAt:    session.CreatedAt,
	}, nil
}

// AbortFinalize returns a finalizing session to active so the caller can
// supply missing chunks and retry.
func (s *Store) AbortFinalize(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok && session.Status == StatusFinalizing {
		session.Status = StatusActive
	}
}

// CompleteFinalize transitions finalizing -> completed, recording the output
// path and completion time. It returns the elapsed transfer duration.
func (s *Store) CompleteFinalize(id, outputPath string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	session.Status = StatusCompleted
	session.CompletedAt = time.Now()
	session.OutputPath = outputPath
	return session.CompletedAt.Sub(session.CreatedAt), nil
}

// Snapshot returns a copy of the session's reportable state.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, false
	}

	snap := Snapshot{
		ID:             session.ID,
		Status:         session.Status,
		ReceivedChunks: len(session.Received),
		TotalChunks:    session.TotalChunks,
		Filename:       session.Filename,
	}
	if session.TotalChunks > 0 {
		snap.Progress = float64(len(session.Received)) / float64(session.TotalChunks) * 100
	}
	if session.Status == StatusCompleted {
		snap.OutputPath = session.OutputPath
		snap.TransferTime = session.CompletedAt.Sub(session.CreatedAt)
	}
	return snap, true
}

// ExpireBefore removes every session whose last activity predates cutoff,
// regardless of status, and returns the removed ids. Scratch storage
// cleanup is the caller's responsibility and happens outside the lock.
func (s *Store) ExpireBefore(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, session := range s.sessions {
		if session.LastActivity.Before(cutoff) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	return expired
}

// Len reports the number of registered sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

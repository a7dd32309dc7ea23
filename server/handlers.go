package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/limits"
)

// handleCreateSession authenticates the signed request, decrypts the
// filename, and registers a new active session.
//
// GET /cs?f=<cipher filename, base64>&s=<size>&c=<chunks>&h=<hash>&g=<signature>
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if err := s.authenticate(query.Get("g")); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleCreateSession",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("Rejected session-create request")
		writeError(w, http.StatusForbidden, "Authentication failed")
		return
	}

	// The filename is always cipher-protected, independent of whether bulk
	// chunk encryption is enabled.
	rawName, err := base64.StdEncoding.DecodeString(query.Get("f"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid parameters")
		return
	}
	nameBytes, err := s.cipher.Decrypt(rawName, 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid parameters")
		return
	}
	filename := string(nameBytes)

	totalSize, err := strconv.ParseInt(query.Get("s"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid parameters")
		return
	}
	totalChunks, err := strconv.Atoi(query.Get("c"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid parameters")
		return
	}
	expectedHash := query.Get("h")

	if limits.ValidateFileName(filename) != nil || totalSize <= 0 || totalChunks <= 0 {
		writeError(w, http.StatusBadRequest, "Missing or invalid parameters")
		return
	}
	// The decrypted name becomes an output path component; reject anything
	// that could escape the output directory.
	if filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "Missing or invalid parameters")
		return
	}

	session := s.sessions.Create(filename, totalSize, totalChunks, expectedHash)

	logrus.WithFields(logrus.Fields{
		"function":     "handleCreateSession",
		"session_id":   session.ID,
		"filename":     filename,
		"total_size":   totalSize,
		"total_chunks": totalChunks,
	}).Info("Created transfer session")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"status":     "created",
		"message":    "Session created successfully",
	})
}

// chunkRequest is the POST /k body. ChunkIndex is a pointer so a missing
// field is distinguishable from index zero.
type chunkRequest struct {
	SessionID  string `json:"session_id"`
	ChunkIndex *int   `json:"chunk_index"`
	ChunkData  string `json:"chunk_data"`
}

// handleStoreChunk persists one chunk to scratch storage and updates the
// session's receipt bookkeeping. Storage runs under an enforced deadline
// with real cancellation propagated into the backend.
func (s *Server) handleStoreChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.SessionID == "" || req.ChunkIndex == nil || req.ChunkData == "" {
		writeError(w, http.StatusBadRequest, "Missing chunk parameters")
		return
	}
	index := *req.ChunkIndex
	if err := limits.ValidateChunkIndex(index); err != nil {
		writeError(w, http.StatusBadRequest, "Missing chunk parameters")
		return
	}

	// Registry check under the lock; the write itself runs outside it.
	if err := s.sessions.CheckActive(req.SessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ChunkData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base64 data")
		return
	}
	if err := limits.ValidateChunkPayload(data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chunk payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), limits.ChunkStoreTimeout)
	defer cancel()

	ref, err := s.chunks.PutChunk(ctx, req.SessionID, index, data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "handleStoreChunk",
			"session_id":  req.SessionID,
			"chunk_index": index,
			"error":       err.Error(),
		}).Error("Failed to store chunk")
		writeError(w, http.StatusInternalServerError, "Failed to save chunk")
		return
	}

	if err := s.sessions.MarkReceived(req.SessionID, index, ref); err != nil {
		// The janitor may have reclaimed the session mid-write.
		writeSessionError(w, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleStoreChunk",
		"session_id":  req.SessionID,
		"chunk_index": index,
		"bytes":       len(data),
	}).Debug("Stored chunk")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"chunk_index": index,
		"message":     "Chunk uploaded successfully",
	})
}

// handleStatus reports a session snapshot.
//
// GET /status?s=<session_id>
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("s")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	snap, ok := s.sessions.Snapshot(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	body := map[string]interface{}{
		"session_id":      snap.ID,
		"status":          string(snap.Status),
		"progress":        snap.Progress,
		"received_chunks": snap.ReceivedChunks,
		"total_chunks":    snap.TotalChunks,
		"filename":        snap.Filename,
	}
	if snap.Status == StatusCompleted {
		body["file_path"] = snap.OutputPath
		body["transfer_time"] = snap.TransferTime.Seconds()
	}

	writeJSON(w, http.StatusOK, body)
}

// writeSessionError maps registry errors to their HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, ErrSessionNotActive):
		writeError(w, http.StatusBadRequest, "Session not active")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

package server

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/limits"
)

// ErrHashMismatch indicates the reconstructed file failed its integrity
// check. The output is deleted and the session can never complete.
var ErrHashMismatch = errors.New("file hash verification failed")

// MissingChunksError reports exactly which chunk indices a finalize call
// found absent. The caller may resend them and retry.
type MissingChunksError struct {
	Indices []int
}

func (e *MissingChunksError) Error() string {
	return fmt.Sprintf("missing chunks: %v", e.Indices)
}

// handleFinalize drives the terminal session transition.
//
// POST /fs with body {"session_id": ...}
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), limits.FinalizeTimeout)
	defer cancel()

	outputPath, err := s.finalize(ctx, req.SessionID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleFinalize",
			"session_id": req.SessionID,
			"error":      err.Error(),
		}).Error("Finalize failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "completed",
		"fp":      outputPath,
		"message": "completed successfully",
	})
}

// finalize verifies completeness, reconstructs the file in strict index
// order, verifies the whole-file hash, publishes the result, and reclaims
// scratch storage. On missing chunks or reconstruction errors the session
// returns to active so the transfer can be repaired and retried; a hash
// mismatch leaves it fenced so it can never silently complete.
func (s *Server) finalize(ctx context.Context, sessionID string) (string, error) {
	info, err := s.sessions.BeginFinalize(sessionID)
	if err != nil {
		return "", err
	}

	if missing := missingIndices(info); len(missing) > 0 {
		s.sessions.AbortFinalize(sessionID)
		return "", &MissingChunksError{Indices: missing}
	}

	outputPath, err := s.reconstruct(ctx, sessionID, info)
	if err != nil {
		if errors.Is(err, ErrHashMismatch) {
			// Leave the session fenced: it must never reach completed.
			return "", err
		}
		s.sessions.AbortFinalize(sessionID)
		return "", err
	}

	elapsed, err := s.sessions.CompleteFinalize(sessionID, outputPath)
	if err != nil {
		return "", err
	}

	// Scratch reclamation is best-effort and never affects the result.
	if err := s.chunks.DeleteAll(context.Background(), sessionID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "finalize",
			"session_id": sessionID,
			"error":      err.Error(),
		}).Warn("Failed to clean up session scratch storage")
	}

	logrus.WithFields(logrus.Fields{
		"function":     "finalize",
		"session_id":   sessionID,
		"filename":     info.Filename,
		"total_chunks": info.TotalChunks,
		"elapsed":      elapsed.Seconds(),
		"output_path":  outputPath,
	}).Info("Session completed")

	return outputPath, nil
}

// missingIndices returns the sorted indices in {0..total-1} absent from the
// received set.
func missingIndices(info finalizeInfo) []int {
	var missing []int
	for i := 0; i < info.TotalChunks; i++ {
		if _, ok := info.Received[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing
}

// reconstruct writes chunks 0..total-1 in index order, decrypting when bulk
// encryption is enabled, and hashes the output as it is written. On any
// failure the partial output is removed.
func (s *Server) reconstruct(ctx context.Context, sessionID string, info finalizeInfo) (string, error) {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to reconstruct file: %w", err)
	}
	outputPath := filepath.Join(s.cfg.OutputDir, info.Filename)

	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to reconstruct file: %w", err)
	}

	hash := md5.New()
	start := time.Now()

	for index := 0; index < info.TotalChunks; index++ {
		data, err := s.chunks.GetChunk(ctx, sessionID, index)
		if err != nil {
			out.Close()
			os.Remove(outputPath)
			return "", fmt.Errorf("failed to reconstruct file: %w", err)
		}

		if s.cfg.EnableEncryption {
			data, err = s.cipher.Decrypt(data, s.cipherWorkers)
			if err != nil {
				out.Close()
				os.Remove(outputPath)
				return "", fmt.Errorf("failed to decrypt chunk %d: %w", index, err)
			}
		}

		if _, err := out.Write(data); err != nil {
			out.Close()
			os.Remove(outputPath)
			return "", fmt.Errorf("failed to reconstruct file: %w", err)
		}
		hash.Write(data)
	}

	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to reconstruct file: %w", err)
	}

	if info.ExpectedHash != "" {
		computed := hex.EncodeToString(hash.Sum(nil))
		if computed != info.ExpectedHash {
			os.Remove(outputPath)
			logrus.WithFields(logrus.Fields{
				"function":   "reconstruct",
				"session_id": sessionID,
				"expected":   info.ExpectedHash,
				"computed":   computed,
			}).Error("Reconstructed file failed hash verification")
			return "", ErrHashMismatch
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "reconstruct",
		"session_id": sessionID,
		"chunks":     info.TotalChunks,
		"elapsed":    time.Since(start).Seconds(),
	}).Debug("Reconstructed file")

	return outputPath, nil
}

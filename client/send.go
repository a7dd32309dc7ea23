package client

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/chunk"
)

// ProgressFunc receives (percentDone, uploadedSoFar, totalChunks) after
// every individually successful chunk upload, first-pass or retry.
// uploadedSoFar is monotonically non-decreasing; arrival order is not index
// order.
type ProgressFunc func(percent float64, uploaded, total int)

// TransferResult summarizes a completed transfer.
type TransferResult struct {
	SessionID      string
	Filename       string
	FileSize       int64
	TransferTime   time.Duration
	SpeedMBps      float64
	ChunksUploaded int
}

// Send transfers the file at filePath. It hashes the file, chunks it
// (encrypting inline when enabled), creates a signed session, uploads all
// chunks with bounded concurrency, retries failures, and finalizes. If any
// chunk fails all retry rounds, the transfer fails with a
// PartialTransferError and finalize is never attempted.
func (c *Client) Send(ctx context.Context, filePath string, progress ProgressFunc) (*TransferResult, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", filePath)
	}
	filename := filepath.Base(filePath)

	logrus.WithFields(logrus.Fields{
		"function":  "Send",
		"filename":  filename,
		"file_size": info.Size(),
	}).Info("Starting transfer")

	fileHash, err := hashFile(filePath)
	if err != nil {
		return nil, err
	}

	chunker, err := chunk.New(c.chunkSize, c.variance)
	if err != nil {
		return nil, err
	}
	if c.encrypt {
		chunker = chunker.WithCipher(c.cipher, c.cipherWorkers)
	}

	// The chunk sequence is materialized up front: the session-create
	// request needs the total count.
	chunks, err := chunker.SplitFile(filePath)
	if err != nil {
		return nil, err
	}

	sessionID, err := c.createSession(ctx, filename, info.Size(), len(chunks), fileHash)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Send",
		"session_id":   sessionID,
		"total_chunks": len(chunks),
	}).Info("Created session")

	start := time.Now()
	tracker := &progressTracker{total: len(chunks), fn: progress}

	failed := c.uploadPool(ctx, sessionID, chunks, c.maxWorkers, tracker)

	for attempt := 0; attempt < maxRetryRounds && len(failed) > 0; attempt++ {
		backoff := time.Duration(1<<uint(attempt)) * c.backoffUnit
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"attempt":  attempt + 1,
			"pending":  len(failed),
			"backoff":  backoff,
		}).Info("Retrying failed chunks")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		retryWorkers := c.maxWorkers / 2
		if retryWorkers < 1 {
			retryWorkers = 1
		}
		failed = c.uploadPool(ctx, sessionID, failed, retryWorkers, tracker)
	}

	if len(failed) > 0 {
		indices := make([]int, 0, len(failed))
		for _, ck := range failed {
			indices = append(indices, ck.Index)
		}
		sort.Ints(indices)
		return nil, &PartialTransferError{Indices: indices}
	}

	if err := c.finalize(ctx, sessionID); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	speed := 0.0
	if elapsed > 0 {
		speed = float64(info.Size()) / elapsed.Seconds() / 1024 / 1024
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Send",
		"session_id": sessionID,
		"elapsed":    elapsed.Seconds(),
		"speed_mbps": speed,
	}).Info("Transfer completed")

	return &TransferResult{
		SessionID:      sessionID,
		Filename:       filename,
		FileSize:       info.Size(),
		TransferTime:   elapsed,
		SpeedMBps:      speed,
		ChunksUploaded: len(chunks),
	}, nil
}

// progressTracker serializes progress callbacks across upload workers.
type progressTracker struct {
	mu       sync.Mutex
	uploaded int
	total    int
	fn       ProgressFunc
}

func (p *progressTracker) increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded++
	if p.fn != nil && p.total > 0 {
		p.fn(float64(p.uploaded)/float64(p.total)*100, p.uploaded, p.total)
	}
}

// uploadPool uploads chunks with a bounded worker pool and returns the
// chunks whose uploads failed. Failures within the pool are never retried
// inline.
func (c *Client) uploadPool(ctx context.Context, sessionID string, chunks []chunk.Chunk, workers int, tracker *progressTracker) []chunk.Chunk {
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan chunk.Chunk)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []chunk.Chunk

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ck := range jobs {
				if err := c.uploadChunk(ctx, sessionID, ck); err != nil {
					logrus.WithFields(logrus.Fields{
						"function":    "uploadPool",
						"session_id":  sessionID,
						"chunk_index": ck.Index,
						"error":       err.Error(),
					}).Warn("Failed to upload chunk")
					mu.Lock()
					failed = append(failed, ck)
					mu.Unlock()
					continue
				}
				tracker.increment()
			}
		}()
	}

	for _, ck := range chunks {
		jobs <- ck
	}
	close(jobs)
	wg.Wait()

	return failed
}

// uploadChunk POSTs one chunk as a JSON envelope with a base64 payload.
func (c *Client) uploadChunk(ctx context.Context, sessionID string, ck chunk.Chunk) error {
	ctx, cancel := context.WithTimeout(ctx, chunkUploadTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{
		"session_id":  sessionID,
		"chunk_index": ck.Index,
		"chunk_data":  base64.StdEncoding.EncodeToString(ck.Data),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/k", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}

// createSession signs the current timestamp, cipher-protects the filename,
// and registers the transfer with the server. The returned session id is
// the transfer's single handle.
func (c *Client) createSession(ctx context.Context, filename string, totalSize int64, totalChunks int, fileHash string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, createSessionTimeout)
	defer cancel()

	signature, err := c.cipher.Encrypt([]byte(strconv.FormatInt(time.Now().Unix(), 10)), 1)
	if err != nil {
		return "", fmt.Errorf("failed to sign session request: %w", err)
	}
	// The filename is always cipher-protected, independent of bulk chunk
	// encryption.
	encryptedName, err := c.cipher.Encrypt([]byte(filename), 1)
	if err != nil {
		return "", fmt.Errorf("failed to protect filename: %w", err)
	}

	q := url.Values{}
	q.Set("f", base64.StdEncoding.EncodeToString(encryptedName))
	q.Set("s", strconv.FormatInt(totalSize, 10))
	q.Set("c", strconv.Itoa(totalChunks))
	q.Set("h", fileHash)
	q.Set("g", base64.StdEncoding.EncodeToString(signature))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/cs?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to create session: %w", statusError(resp.StatusCode))
	}

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("server returned no session id")
	}
	return created.SessionID, nil
}

// finalize asks the server to reconstruct and verify the file. The
// transfer succeeds only when the server confirms completed status.
func (c *Client) finalize(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/fs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read finalize response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to complete session: %s", string(raw))
	}

	var completed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &completed); err != nil {
		return fmt.Errorf("failed to decode finalize response: %w", err)
	}
	if completed.Status != "completed" {
		return fmt.Errorf("server reported status %q, want completed", completed.Status)
	}
	return nil
}

// hashFile computes the whole-file MD5 by streaming reads.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

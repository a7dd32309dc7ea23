package server

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dfp/config"
	"github.com/opd-ai/dfp/crypto"
	"github.com/opd-ai/dfp/storage"
)

const testPasskey = "server-test-passkey"

var (
	engineOnce sync.Once
	engine     *crypto.Engine
	engineErr  error
)

func testEngine(t *testing.T) *crypto.Engine {
	t.Helper()
	engineOnce.Do(func() {
		engine, engineErr = crypto.NewEngine(testPasskey, "")
	})
	require.NoError(t, engineErr)
	return engine
}

func newTestServer(t *testing.T, encrypt bool) *Server {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.OutputDir = t.TempDir()
	cfg.EnableEncryption = encrypt
	cfg.CipherWorkers = 2
	return New(cfg, testEngine(t), storage.NewMemStore())
}

// signedQuery builds a valid /cs query for filename with a fresh signature.
func signedQuery(t *testing.T, eng *crypto.Engine, filename string, size int64, chunks int, hash string) url.Values {
	t.Helper()

	sig, err := eng.Encrypt([]byte(strconv.FormatInt(time.Now().Unix(), 10)), 1)
	require.NoError(t, err)
	name, err := eng.Encrypt([]byte(filename), 1)
	require.NoError(t, err)

	q := url.Values{}
	q.Set("f", base64.StdEncoding.EncodeToString(name))
	q.Set("s", strconv.FormatInt(size, 10))
	q.Set("c", strconv.Itoa(chunks))
	q.Set("h", hash)
	q.Set("g", base64.StdEncoding.EncodeToString(sig))
	return q
}

func doRequest(s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server, filename string, size int64, chunks int, hash string) string {
	t.Helper()
	rec := doRequest(s, http.MethodGet, "/cs?"+signedQuery(t, testEngine(t), filename, size, chunks, hash).Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, "session create failed: %s", rec.Body.String())

	var resp struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "created", resp.Status)
	require.Len(t, resp.SessionID, 16)
	return resp.SessionID
}

func storeChunk(t *testing.T, s *Server, sessionID string, index int, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(s, http.MethodPost, "/k", map[string]interface{}{
		"session_id":  sessionID,
		"chunk_index": index,
		"chunk_data":  base64.StdEncoding.EncodeToString(data),
	})
}

func finalize(s *Server, sessionID string) *httptest.ResponseRecorder {
	return doRequest(s, http.MethodPost, "/fs", map[string]string{"session_id": sessionID})
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestCreateSessionAuthWindow(t *testing.T) {
	s := newTestServer(t, false)
	eng := testEngine(t)

	// Fresh signature: accepted.
	createSession(t, s, "fresh.bin", 100, 1, "")

	// Stale signature: rejected with 403 and no session state.
	before := s.Sessions().Len()
	staleTS := time.Now().Add(-2 * time.Minute).Unix()
	sig, err := eng.Encrypt([]byte(strconv.FormatInt(staleTS, 10)), 1)
	require.NoError(t, err)
	name, err := eng.Encrypt([]byte("stale.bin"), 1)
	require.NoError(t, err)

	q := url.Values{}
	q.Set("f", base64.StdEncoding.EncodeToString(name))
	q.Set("s", "100")
	q.Set("c", "1")
	q.Set("g", base64.StdEncoding.EncodeToString(sig))

	rec := doRequest(s, http.MethodGet, "/cs?"+q.Encode(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, before, s.Sessions().Len(), "rejected request must create no state")

	// Garbage and missing signatures: rejected.
	q.Set("g", base64.StdEncoding.EncodeToString([]byte("not a signature")))
	assert.Equal(t, http.StatusForbidden, doRequest(s, http.MethodGet, "/cs?"+q.Encode(), nil).Code)
	q.Del("g")
	assert.Equal(t, http.StatusForbidden, doRequest(s, http.MethodGet, "/cs?"+q.Encode(), nil).Code)
}

func TestCreateSessionInvalidParams(t *testing.T) {
	s := newTestServer(t, false)
	eng := testEngine(t)

	cases := []struct {
		name   string
		mutate func(url.Values)
	}{
		{name: "Zero size", mutate: func(q url.Values) { q.Set("s", "0") }},
		{name: "Zero chunks", mutate: func(q url.Values) { q.Set("c", "0") }},
		{name: "Non-numeric size", mutate: func(q url.Values) { q.Set("s", "abc") }},
		{name: "Unencrypted filename", mutate: func(q url.Values) { q.Set("f", base64.StdEncoding.EncodeToString([]byte("plain.bin"))) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := signedQuery(t, eng, "valid.bin", 100, 1, "")
			tc.mutate(q)
			rec := doRequest(s, http.MethodGet, "/cs?"+q.Encode(), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateSessionRejectsTraversalFilename(t *testing.T) {
	s := newTestServer(t, false)
	rec := doRequest(s, http.MethodGet, "/cs?"+signedQuery(t, testEngine(t), "../escape.bin", 100, 1, "").Encode(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreChunkValidation(t *testing.T) {
	s := newTestServer(t, false)
	sessionID := createSession(t, s, "file.bin", 10, 1, "")

	// Unknown session.
	rec := storeChunk(t, s, "deadbeefdeadbeef", 0, []byte("data"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/k", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Missing parameters.
	rec = doRequest(s, http.MethodPost, "/k", map[string]interface{}{"session_id": sessionID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Invalid base64.
	rec = doRequest(s, http.MethodPost, "/k", map[string]interface{}{
		"session_id": sessionID, "chunk_index": 0, "chunk_data": "!!!not-base64!!!",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Negative index.
	rec = storeChunk(t, s, sessionID, -1, []byte("data"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinalizeMissingChunksThenRetry(t *testing.T) {
	s := newTestServer(t, false)

	parts := [][]byte{[]byte("alpha-"), []byte("bravo-"), []byte("charlie")}
	whole := bytes.Join(parts, nil)
	sessionID := createSession(t, s, "retry.bin", int64(len(whole)), 3, md5hex(whole))

	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 0, parts[0]).Code)
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 2, parts[2]).Code)

	rec := finalize(s, sessionID)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing chunks: [1]")

	// The failed finalize leaves the session active: supply the missing
	// chunk and retry.
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 1, parts[1]).Code)

	rec = finalize(s, sessionID)
	require.Equal(t, http.StatusOK, rec.Code, "retry finalize failed: %s", rec.Body.String())

	var resp struct {
		Status string `json:"status"`
		FP     string `json:"fp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)

	got, err := os.ReadFile(resp.FP)
	require.NoError(t, err)
	assert.Equal(t, whole, got)
}

func TestFinalizeOutOfOrderArrival(t *testing.T) {
	s := newTestServer(t, false)

	parts := make([][]byte, 6)
	for i := range parts {
		parts[i] = []byte(fmt.Sprintf("chunk-%d-payload|", i))
	}
	whole := bytes.Join(parts, nil)
	sessionID := createSession(t, s, "shuffled.bin", int64(len(whole)), len(parts), md5hex(whole))

	for _, index := range []int{4, 1, 5, 0, 3, 2} {
		require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, index, parts[index]).Code)
	}

	rec := finalize(s, sessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FP string `json:"fp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	got, err := os.ReadFile(resp.FP)
	require.NoError(t, err)
	assert.Equal(t, whole, got, "reconstruction must follow index order, not arrival order")
}

func TestFinalizeHashGate(t *testing.T) {
	s := newTestServer(t, false)

	data := []byte("payload that will not match")
	sessionID := createSession(t, s, "tampered.bin", int64(len(data)), 1, md5hex([]byte("something else")))
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 0, data).Code)

	rec := finalize(s, sessionID)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "hash verification failed")

	// No output file may remain.
	outputPath := s.cfg.OutputDir + "/tampered.bin"
	_, err := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(err), "output must be deleted on hash mismatch")

	// The session must never silently reach completed.
	rec = finalize(s, sessionID)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	snap, ok := s.Sessions().Snapshot(sessionID)
	require.True(t, ok)
	assert.NotEqual(t, StatusCompleted, snap.Status)
}

func TestIdempotentReupload(t *testing.T) {
	s := newTestServer(t, false)

	first := []byte("first write ")
	second := []byte("final write!")
	tail := []byte("-tail")
	whole := append(append([]byte(nil), second...), tail...)
	sessionID := createSession(t, s, "rewrite.bin", int64(len(whole)), 2, md5hex(whole))

	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 0, first).Code)
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 0, second).Code)
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 1, tail).Code)

	snap, ok := s.Sessions().Snapshot(sessionID)
	require.True(t, ok)
	assert.Equal(t, 2, snap.ReceivedChunks, "re-upload must not double-count")

	rec := finalize(s, sessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FP string `json:"fp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	got, err := os.ReadFile(resp.FP)
	require.NoError(t, err)
	assert.Equal(t, whole, got, "last write for an index must win")
}

func TestEncryptedReconstruction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cipher-heavy reconstruction in short mode")
	}

	s := newTestServer(t, true)
	eng := testEngine(t)

	plain := make([]byte, 700)
	for i := range plain {
		plain[i] = byte(i % 253)
	}
	parts := [][]byte{plain[:300], plain[300:600], plain[600:]}

	// Hash covers the original plaintext, not the ciphertext.
	sessionID := createSession(t, s, "secret.bin", int64(len(plain)), 3, md5hex(plain))

	crypto.SetKeypairCache(true)
	defer crypto.SetKeypairCache(false)

	for i, part := range parts {
		encrypted, err := eng.Encrypt(part, 2)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, i, encrypted).Code)
	}

	rec := finalize(s, sessionID)
	require.Equal(t, http.StatusOK, rec.Code, "finalize failed: %s", rec.Body.String())

	var resp struct {
		FP string `json:"fp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	got, err := os.ReadFile(resp.FP)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	rec := doRequest(s, http.MethodGet, "/status?s=0123456789abcdef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(s, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	data := []byte("ab")
	sessionID := createSession(t, s, "status.bin", 2, 2, md5hex(data))
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 0, data[:1]).Code)

	rec = doRequest(s, http.MethodGet, "/status?s="+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Status         string  `json:"status"`
		Progress       float64 `json:"progress"`
		ReceivedChunks int     `json:"received_chunks"`
		TotalChunks    int     `json:"total_chunks"`
		Filename       string  `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "active", snap.Status)
	assert.Equal(t, 50.0, snap.Progress)
	assert.Equal(t, 1, snap.ReceivedChunks)
	assert.Equal(t, 2, snap.TotalChunks)
	assert.Equal(t, "status.bin", snap.Filename)
}

func TestFinalizeFence(t *testing.T) {
	store := NewStore()
	session := store.Create("fence.bin", 10, 1, "")

	_, err := store.BeginFinalize(session.ID)
	require.NoError(t, err)

	// A second concurrent finalize observes non-active and fails fast.
	_, err = store.BeginFinalize(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	// Chunk stores are also fenced while finalizing.
	assert.ErrorIs(t, store.CheckActive(session.ID), ErrSessionNotActive)

	store.AbortFinalize(session.ID)
	assert.NoError(t, store.CheckActive(session.ID))
}

func TestJanitorSweep(t *testing.T) {
	s := newTestServer(t, false)

	data := []byte("doomed data")
	sessionID := createSession(t, s, "doomed.bin", int64(len(data)), 1, "")
	require.Equal(t, http.StatusOK, storeChunk(t, s, sessionID, 0, data).Code)

	// Backdate the session past the TTL.
	s.sessions.mu.Lock()
	s.sessions.sessions[sessionID].LastActivity = time.Now().Add(-2 * time.Hour)
	s.sessions.mu.Unlock()

	s.Sweep(context.Background())

	_, ok := s.Sessions().Snapshot(sessionID)
	assert.False(t, ok, "expired session must be removed")

	indices, err := s.chunks.ListIndices(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, indices, "expired session scratch must be reclaimed")

	// Storing into the reaped session now fails with 404.
	rec := storeChunk(t, s, sessionID, 0, data)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionIDFormat(t *testing.T) {
	id := newSessionID("some file.bin", time.Now())
	assert.Len(t, id, 16)
	_, err := hex.DecodeString(id)
	assert.NoError(t, err)
}

package dfp_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dfp/client"
	"github.com/opd-ai/dfp/config"
	"github.com/opd-ai/dfp/crypto"
	"github.com/opd-ai/dfp/server"
	"github.com/opd-ai/dfp/storage"
)

const e2ePasskey = "end-to-end-passkey"

var (
	e2eEngineOnce sync.Once
	e2eEngine     *crypto.Engine
	e2eEngineErr  error
)

func sharedEngine(t *testing.T) *crypto.Engine {
	t.Helper()
	e2eEngineOnce.Do(func() {
		e2eEngine, e2eEngineErr = crypto.NewEngine(e2ePasskey, "")
	})
	require.NoError(t, e2eEngineErr)
	return e2eEngine
}

// startServer brings up a full transfer server over httptest with an
// in-memory chunk store and a temp output directory.
func startServer(t *testing.T, encrypt bool) (*httptest.Server, string) {
	t.Helper()

	cfg := config.DefaultServer()
	cfg.OutputDir = t.TempDir()
	cfg.EnableEncryption = encrypt
	cfg.CipherWorkers = 2

	srv := server.New(cfg, sharedEngine(t), storage.NewMemStore())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, cfg.OutputDir
}

func newClient(t *testing.T, serverURL string, encrypt bool, chunkSize int, variance float64) *client.Client {
	t.Helper()

	cfg := config.DefaultClient()
	cfg.ServerURL = serverURL
	cfg.MaxWorkers = 3
	cfg.ChunkSize = chunkSize
	cfg.ChunkSizeVariance = variance
	cfg.EnableEncryption = encrypt
	cfg.CipherWorkers = 2

	c, err := client.New(cfg, e2ePasskey)
	require.NoError(t, err)
	return c
}

func writePayload(t *testing.T, size int) (string, string) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + 13) % 256)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sum := md5.Sum(data)
	return path, hex.EncodeToString(sum[:])
}

func TestEndToEndPlaintext(t *testing.T) {
	ts, outputDir := startServer(t, false)
	c := newClient(t, ts.URL, false, 300, 0)

	path, wantHash := writePayload(t, 700)

	result, err := c.Send(context.Background(), path, nil)
	require.NoError(t, err)

	// 700 bytes at a fixed 300-byte chunk size makes exactly three chunks.
	assert.Equal(t, 3, result.ChunksUploaded)
	assert.Equal(t, int64(700), result.FileSize)
	require.Len(t, result.SessionID, 16)

	status, err := c.Status(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 100.0, status.Progress)

	got, err := os.ReadFile(filepath.Join(outputDir, "payload.bin"))
	require.NoError(t, err)
	sum := md5.Sum(got)
	assert.Equal(t, wantHash, hex.EncodeToString(sum[:]), "reconstructed file must match the source byte for byte")
	assert.Len(t, got, 700)
}

func TestEndToEndEncrypted(t *testing.T) {
	if testing.Short() {
		t.Skip("cipher-heavy round trip")
	}
	crypto.SetKeypairCache(true)
	defer crypto.SetKeypairCache(false)

	ts, outputDir := startServer(t, true)
	c := newClient(t, ts.URL, true, 400, 0.25)

	path, wantHash := writePayload(t, 2048)

	result, err := c.Send(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Greater(t, result.ChunksUploaded, 1)

	got, err := os.ReadFile(filepath.Join(outputDir, "payload.bin"))
	require.NoError(t, err)
	sum := md5.Sum(got)
	assert.Equal(t, wantHash, hex.EncodeToString(sum[:]))
}

func TestEndToEndWrongPasskeyRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("derives a second keypair")
	}

	ts, _ := startServer(t, false)

	cfg := config.DefaultClient()
	cfg.ServerURL = ts.URL
	cfg.MaxWorkers = 2
	cfg.ChunkSize = 300

	c, err := client.New(cfg, "a-different-passkey")
	require.NoError(t, err)

	path, _ := writePayload(t, 100)
	_, err = c.Send(context.Background(), path, nil)
	require.Error(t, err, "mismatched passphrases must fail session creation")
}

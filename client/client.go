package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/config"
	"github.com/opd-ai/dfp/crypto"
)

// Per-request deadlines, matching the server's expectations.
const (
	createSessionTimeout = 30 * time.Second
	chunkUploadTimeout   = 30 * time.Second
	finalizeTimeout      = 60 * time.Second
	statusTimeout        = 10 * time.Second
)

// maxRetryRounds is the number of retry rounds after the first upload pass.
// Round n sleeps 2^n seconds first (1s, 2s, 4s).
const maxRetryRounds = 3

const userAgent = "DFPClient/1.0"

// Client uploads files to a DFP transfer server.
type Client struct {
	serverURL     string
	http          *http.Client
	cipher        *crypto.Engine
	encrypt       bool
	maxWorkers    int
	chunkSize     int
	variance      float64
	cipherWorkers int

	// backoffUnit scales retry sleeps; tests shrink it.
	backoffUnit time.Duration
}

// New builds a Client. The cipher engine is always derived, even with bulk
// encryption disabled, because session-create signatures and filenames are
// cipher-protected regardless.
func New(cfg config.Client, passkey string) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL must not be empty")
	}
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be at least 1, got %d", cfg.MaxWorkers)
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}

	engine, err := crypto.NewEngine(passkey, cfg.Salt)
	if err != nil {
		return nil, err
	}

	cipherWorkers := cfg.CipherWorkers
	if cipherWorkers < 1 {
		cipherWorkers = config.HostParallelism()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxWorkers * 2,
		MaxIdleConnsPerHost: cfg.MaxWorkers * 2,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"server_url":  cfg.ServerURL,
		"max_workers": cfg.MaxWorkers,
		"encryption":  cfg.EnableEncryption,
		"fingerprint": engine.Fingerprint(),
	}).Info("Transfer client initialized")

	return &Client{
		serverURL:     strings.TrimRight(cfg.ServerURL, "/"),
		http:          &http.Client{Transport: transport},
		cipher:        engine,
		encrypt:       cfg.EnableEncryption,
		maxWorkers:    cfg.MaxWorkers,
		chunkSize:     cfg.ChunkSize,
		variance:      cfg.ChunkSizeVariance,
		cipherWorkers: cipherWorkers,
		backoffUnit:   time.Second,
	}, nil
}

// SessionStatus is the server's status report for a session.
type SessionStatus struct {
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	ReceivedChunks int     `json:"received_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	Filename       string  `json:"filename"`
	FilePath       string  `json:"file_path"`
	TransferTime   float64 `json:"transfer_time"`
}

// Status queries the server for a session's progress.
func (c *Client) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("s", sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// Package config holds client and server configuration with YAML loading
// and sane defaults. Every knob is also settable directly in code.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/opd-ai/dfp/limits"
)

// Backend names accepted by Server.Backend.
const (
	BackendFS     = "fs"
	BackendBadger = "badger"
)

// Server configures the transfer server.
type Server struct {
	// Host is the listen address.
	Host string `yaml:"host"`
	// Port is the listen port.
	Port int `yaml:"port"`
	// OutputDir receives reconstructed files.
	OutputDir string `yaml:"output_dir"`
	// ScratchDir holds in-flight chunk data (fs backend) or the Badger
	// database (badger backend).
	ScratchDir string `yaml:"scratch_dir"`
	// Backend selects the chunk store: "fs" or "badger".
	Backend string `yaml:"backend"`
	// EnableEncryption turns on bulk chunk-payload decryption. Filenames
	// and auth signatures are cipher-protected regardless.
	EnableEncryption bool `yaml:"enable_encryption"`
	// Salt for key derivation. Empty means the protocol default.
	Salt string `yaml:"salt"`
	// SessionTTL is the idle lifetime before the janitor reclaims a session.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// CipherWorkers is the parallel decrypt worker count. Zero means host
	// parallelism.
	CipherWorkers int `yaml:"cipher_workers"`
}

// Client configures the transfer client.
type Client struct {
	// ServerURL is the base URL of the transfer server.
	ServerURL string `yaml:"server_url"`
	// MaxWorkers bounds concurrent chunk uploads.
	MaxWorkers int `yaml:"max_workers"`
	// ChunkSize is the base chunk size in bytes.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkSizeVariance is the +/- fraction applied to each chunk size.
	ChunkSizeVariance float64 `yaml:"chunk_size_variance"`
	// EnableEncryption turns on bulk chunk-payload encryption.
	EnableEncryption bool `yaml:"enable_encryption"`
	// Salt for key derivation. Empty means the protocol default.
	Salt string `yaml:"salt"`
	// CipherWorkers is the parallel encrypt worker count. Zero means host
	// parallelism.
	CipherWorkers int `yaml:"cipher_workers"`
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		Host:          "localhost",
		Port:          8080,
		OutputDir:     "dfp_received",
		ScratchDir:    os.TempDir(),
		Backend:       BackendFS,
		Salt:          limits.DefaultSalt,
		SessionTTL:    limits.SessionTTL,
		SweepInterval: 5 * time.Minute,
	}
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		ServerURL:         "http://localhost:8080",
		MaxWorkers:        5,
		ChunkSize:         1024 * 1024,
		ChunkSizeVariance: 0.5,
		Salt:              limits.DefaultSalt,
	}
}

// LoadServer reads a YAML server config, applying defaults for unset fields.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := loadYAML(path, &cfg); err != nil {
		return Server{}, err
	}
	if cfg.Backend != BackendFS && cfg.Backend != BackendBadger {
		return Server{}, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return cfg, nil
}

// LoadClient reads a YAML client config, applying defaults for unset fields.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := loadYAML(path, &cfg); err != nil {
		return Client{}, err
	}
	if cfg.MaxWorkers < 1 {
		return Client{}, fmt.Errorf("max_workers must be at least 1, got %d", cfg.MaxWorkers)
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// HostParallelism reports the number of logical CPUs, the default worker
// count for CPU-bound cipher work. Detection failures fall back to the
// runtime's view.
func HostParallelism() int {
	count, err := cpu.Counts(true)
	if err != nil || count < 1 {
		logrus.WithFields(logrus.Fields{
			"function": "HostParallelism",
			"fallback": runtime.NumCPU(),
		}).Debug("CPU detection failed, using runtime fallback")
		return runtime.NumCPU()
	}
	return count
}

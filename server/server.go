package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/config"
	"github.com/opd-ai/dfp/crypto"
	"github.com/opd-ai/dfp/storage"
)

// Server is the HTTP transfer server. It owns the session registry; nothing
// is process-global, so multiple servers can coexist in one process.
type Server struct {
	mux           *http.ServeMux
	cfg           config.Server
	cipher        *crypto.Engine
	sessions      *Store
	chunks        storage.ChunkStore
	cipherWorkers int
}

// New builds a Server from its collaborators. The engine is always required
// because filenames and auth signatures are cipher-protected even when bulk
// chunk encryption is disabled.
func New(cfg config.Server, engine *crypto.Engine, chunks storage.ChunkStore) *Server {
	workers := cfg.CipherWorkers
	if workers < 1 {
		workers = config.HostParallelism()
	}

	s := &Server{
		mux:           http.NewServeMux(),
		cfg:           cfg,
		cipher:        engine,
		sessions:      NewStore(),
		chunks:        chunks,
		cipherWorkers: workers,
	}
	s.routes()

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"encryption":     cfg.EnableEncryption,
		"backend":        cfg.Backend,
		"cipher_workers": workers,
		"fingerprint":    engine.Fingerprint(),
	}).Info("Transfer server initialized")

	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /cs", s.handleCreateSession)
	s.mux.HandleFunc("POST /k", s.handleStoreChunk)
	s.mux.HandleFunc("POST /fs", s.handleFinalize)
	s.mux.HandleFunc("GET /status", s.handleStatus)
}

// ServeHTTP applies the protocol's blanket response policy (permissive CORS,
// one request per connection) and dispatches to the endpoint handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("Connection", "close")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	requestID := uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote":     r.RemoteAddr,
	}).Debug("Handling request")

	s.mux.ServeHTTP(w, r)
}

// Sessions exposes the registry for status inspection and tests.
func (s *Server) Sessions() *Store {
	return s.sessions
}

// writeJSON sends a JSON success body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Warn("Failed to write response body")
	}
}

// writeError sends the protocol's error body: {"error": ..., "status_code": ...}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":       message,
		"status_code": status,
	})
}

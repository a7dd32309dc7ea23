// Command dfp-server runs the receiving side of the transfer system.
//
// The shared passphrase comes from the DFP_PASSKEY environment variable or,
// when unset, an interactive no-echo prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/opd-ai/dfp/config"
	"github.com/opd-ai/dfp/crypto"
	"github.com/opd-ai/dfp/server"
	"github.com/opd-ai/dfp/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML server config")
		host       = flag.String("host", "", "listen host (overrides config)")
		port       = flag.Int("port", 0, "listen port (overrides config)")
		outputDir  = flag.String("output", "", "directory for reconstructed files (overrides config)")
		encrypt    = flag.Bool("encrypt", false, "expect encrypted chunk payloads")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *encrypt {
		cfg.EnableEncryption = true
	}

	passkey, err := readPasskey()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to read passphrase")
	}

	engine, err := crypto.NewEngine(passkey, cfg.Salt)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to derive cipher keypair")
	}

	chunks, closeStore, err := openStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open chunk store")
	}
	defer closeStore()

	srv := server.New(cfg, engine, chunks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.StartJanitor(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Graceful shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"addr":       cfg.Addr(),
		"output_dir": cfg.OutputDir,
		"backend":    cfg.Backend,
		"encryption": cfg.EnableEncryption,
	}).Info("Transfer server listening")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("Server stopped unexpectedly")
	}

	// Give expired sessions one last sweep before exiting.
	srv.Sweep(context.Background())
	logrus.Info("Transfer server stopped")
}

func loadConfig(path string) (config.Server, error) {
	if path == "" {
		return config.DefaultServer(), nil
	}
	return config.LoadServer(path)
}

// openStore builds the configured chunk store and returns a close hook.
func openStore(cfg config.Server) (storage.ChunkStore, func(), error) {
	switch cfg.Backend {
	case config.BackendBadger:
		store, err := storage.OpenBadger(cfg.ScratchDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close badger store")
			}
		}, nil
	case config.BackendFS:
		store, err := storage.NewFSStore(cfg.ScratchDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func readPasskey() (string, error) {
	if passkey := os.Getenv("DFP_PASSKEY"); passkey != "" {
		return passkey, nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", errors.New("passphrase must not be empty")
	}
	return string(raw), nil
}

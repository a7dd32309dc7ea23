// Command dfp-client sends a file to a transfer server, or queries the
// status of an earlier transfer.
//
// The shared passphrase comes from the DFP_PASSKEY environment variable or,
// when unset, an interactive no-echo prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/opd-ai/dfp/client"
	"github.com/opd-ai/dfp/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML client config")
		serverURL  = flag.String("server", "", "transfer server base URL (overrides config)")
		filePath   = flag.String("file", "", "file to send")
		statusID   = flag.String("status", "", "query the status of a session instead of sending")
		workers    = flag.Int("workers", 0, "concurrent upload workers (overrides config)")
		chunkSize  = flag.Int("chunk-size", 0, "base chunk size in bytes (overrides config)")
		encrypt    = flag.Bool("encrypt", false, "encrypt chunk payloads")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		// Keep the terminal clean for the progress line.
		logrus.SetLevel(logrus.WarnLevel)
	}

	if *filePath == "" && *statusID == "" {
		fmt.Fprintln(os.Stderr, "usage: dfp-client -file <path> | -status <session-id>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}
	if *encrypt {
		cfg.EnableEncryption = true
	}

	passkey, err := readPasskey()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to read passphrase")
	}

	c, err := client.New(cfg, passkey)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *statusID != "" {
		runStatus(ctx, c, *statusID)
		return
	}
	runSend(ctx, c, *filePath)
}

func runSend(ctx context.Context, c *client.Client, path string) {
	result, err := c.Send(ctx, path, func(percent float64, uploaded, total int) {
		fmt.Printf("\rUploading: %5.1f%% (%d/%d chunks)", percent, uploaded, total)
	})
	fmt.Println()
	if err != nil {
		var partial *client.PartialTransferError
		if errors.As(err, &partial) {
			logrus.WithField("chunks", partial.Indices).Fatal("Transfer incomplete: some chunks never arrived")
		}
		logrus.WithError(err).Fatal("Transfer failed")
	}

	fmt.Printf("Transfer complete: %s (%d bytes) in %.2fs at %.2f MB/s, session %s\n",
		result.Filename, result.FileSize, result.TransferTime.Seconds(), result.SpeedMBps, result.SessionID)
}

func runStatus(ctx context.Context, c *client.Client, sessionID string) {
	status, err := c.Status(ctx, sessionID)
	if err != nil {
		logrus.WithError(err).Fatal("Status query failed")
	}

	fmt.Printf("Session %s: %s\n", status.SessionID, status.Status)
	fmt.Printf("  progress: %.1f%% (%d/%d chunks)\n", status.Progress, status.ReceivedChunks, status.TotalChunks)
	if status.FilePath != "" {
		fmt.Printf("  output:   %s\n", status.FilePath)
	}
}

func loadConfig(path string) (config.Client, error) {
	if path == "" {
		return config.DefaultClient(), nil
	}
	return config.LoadClient(path)
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

package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweep reclaims every session idle for longer than the configured TTL,
// regardless of status: completed sessions are also eligible for eventual
// reclamation. Registry removal happens under the lock; scratch deletion
// happens outside it. Cleanup failures are logged and swallowed.
func (s *Server) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.SessionTTL)
	expired := s.sessions.ExpireBefore(cutoff)

	for _, sessionID := range expired {
		if err := s.chunks.DeleteAll(ctx, sessionID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Sweep",
				"session_id": sessionID,
				"error":      err.Error(),
			}).Warn("Failed to clean up expired session scratch storage")
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function":   "Sweep",
			"session_id": sessionID,
		}).Info("Cleaned up expired session")
	}
}

// StartJanitor runs Sweep on the configured interval until ctx is
// cancelled, then performs one final sweep before returning.
func (s *Server) StartJanitor(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.Sweep(context.Background())
				return
			}
		}
	}()
}

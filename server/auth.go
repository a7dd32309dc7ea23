package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/limits"
)

// ErrAuthenticationFailed indicates a missing, malformed, or expired
// session-create signature.
var ErrAuthenticationFailed = errors.New("authentication failed")

// authenticate validates a signed session-create request. The signature is
// the base64 of the client's segment-encrypted timestamp; it is accepted
// when the decrypted timestamp is within limits.AuthWindow of server time.
//
// No nonce is involved, so a captured signature replays within the window.
// That weakness is part of the wire format and is preserved deliberately.
func (s *Server) authenticate(signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrAuthenticationFailed)
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", ErrAuthenticationFailed)
	}

	plaintext, err := s.cipher.Decrypt(raw, 1)
	if err != nil {
		return fmt.Errorf("%w: signature does not decrypt", ErrAuthenticationFailed)
	}

	clientTime, err := strconv.ParseFloat(strings.TrimSpace(string(plaintext)), 64)
	if err != nil {
		return fmt.Errorf("%w: signature is not a timestamp", ErrAuthenticationFailed)
	}

	serverTime := float64(time.Now().UnixNano()) / 1e9
	skew := math.Abs(serverTime - clientTime)

	logrus.WithFields(logrus.Fields{
		"function":         "authenticate",
		"client_timestamp": clientTime,
		"server_timestamp": serverTime,
		"skew_seconds":     skew,
	}).Debug("Validating session-create signature")

	if skew > limits.AuthWindow.Seconds() {
		return fmt.Errorf("%w: timestamp outside %s window", ErrAuthenticationFailed, limits.AuthWindow)
	}
	return nil
}

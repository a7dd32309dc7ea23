// Package limits provides centralized protocol constants for DFP transfers.
package limits

import (
	"errors"
	"fmt"
	"time"
)

// Segment geometry for the 2048-bit OAEP/SHA-256 cipher.
const (
	// SegmentPlaintextSize is the maximum plaintext bytes per cipher segment.
	SegmentPlaintextSize = 190
	// SegmentCiphertextSize is the exact ciphertext bytes per cipher segment.
	SegmentCiphertextSize = 256
	// RSAKeyBits is the modulus size of the derived keypair.
	RSAKeyBits = 2048
)

// Key derivation parameters. These are wire-format constants: the same
// (passkey, salt) must yield the same keypair in every implementation.
const (
	// PBKDF2Iterations is the iteration count for PBKDF2-HMAC-SHA256.
	PBKDF2Iterations = 100000
	// DerivedKeySize is the PBKDF2 output length in bytes.
	DerivedKeySize = 32
	// DefaultSalt is used when no salt is configured.
	DefaultSalt = "dfp#2025"
)

// MaxChunkPayload is the maximum decoded chunk payload accepted by the
// server. Larger uploads are rejected before touching storage.
const MaxChunkPayload = 64 * 1024 * 1024

// MaxFileNameLength is the maximum accepted file name length in bytes.
// The value (255) matches typical filesystem limits.
const MaxFileNameLength = 255

// SessionIDLength is the hex length of a session identifier.
const SessionIDLength = 16

// Timing constants.
const (
	// AuthWindow is the tolerated difference between the server clock and
	// the timestamp recovered from a session-create signature.
	AuthWindow = 30 * time.Second
	// SessionTTL is how long an idle session survives before the janitor
	// sweep reclaims it.
	SessionTTL = time.Hour
	// ChunkStoreTimeout bounds a single server-side chunk store operation.
	ChunkStoreTimeout = 30 * time.Second
	// FinalizeTimeout bounds a single server-side finalize operation.
	FinalizeTimeout = 60 * time.Second
)

// ErrPayloadEmpty is returned when an empty or nil payload is provided.
var ErrPayloadEmpty = errors.New("payload is empty")

// ErrPayloadTooLarge is returned when a payload exceeds the specified limit.
var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

// ErrNameTooLong is returned when a file name exceeds MaxFileNameLength.
var ErrNameTooLong = errors.New("file name too long")

// ErrNegativeIndex is returned when a chunk index is negative.
var ErrNegativeIndex = errors.New("chunk index must be non-negative")

// ValidateChunkPayload validates a decoded chunk payload against
// MaxChunkPayload. Returns an error with context if the payload is empty
// or exceeds the limit.
func ValidateChunkPayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > MaxChunkPayload {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxChunkPayload)
	}
	return nil
}

// ValidateChunkIndex validates that a chunk index is non-negative.
func ValidateChunkIndex(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: got %d", ErrNegativeIndex, index)
	}
	return nil
}

// ValidateFileName validates a decrypted file name.
func ValidateFileName(name string) error {
	if name == "" {
		return errors.New("file name is empty")
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrNameTooLong, len(name), MaxFileNameLength)
	}
	return nil
}

// CiphertextLen returns the ciphertext length produced by segment-encrypting
// plaintextLen bytes. Zero-length input maps to zero-length output.
func CiphertextLen(plaintextLen int) int {
	if plaintextLen <= 0 {
		return 0
	}
	segments := (plaintextLen + SegmentPlaintextSize - 1) / SegmentPlaintextSize
	return segments * SegmentCiphertextSize
}

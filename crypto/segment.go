package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/opd-ai/dfp/limits"
)

// ErrDecrypt indicates that a ciphertext segment failed OAEP validation.
// This means the data was corrupted in transit or the key material does not
// match; the call is fatal and is never retried internally.
var ErrDecrypt = errors.New("segment decryption failed: corrupted data or key mismatch")

// ErrCiphertextAlignment indicates that a ciphertext is not a whole number
// of 256-byte segments.
var ErrCiphertextAlignment = errors.New("ciphertext length is not a multiple of the segment size")

// EncryptSegments splits plaintext into 190-byte slices (the last slice may
// be shorter) and OAEP-encrypts each independently with the public key,
// concatenating the 256-byte ciphertexts in order. Zero-length input yields
// zero-length output.
func (e *Engine) EncryptSegments(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return []byte{}, nil
	}

	out := make([]byte, 0, limits.CiphertextLen(len(plaintext)))
	for offset := 0; offset < len(plaintext); offset += limits.SegmentPlaintextSize {
		end := offset + limits.SegmentPlaintextSize
		if end > len(plaintext) {
			end = len(plaintext)
		}

		ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &e.key.PublicKey, plaintext[offset:end], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt segment at offset %d: %w", offset, err)
		}
		out = append(out, ciphertext...)
	}

	return out, nil
}

// DecryptSegments splits ciphertext into fixed 256-byte slices and
// OAEP-decrypts each with the private key. Any slice failing OAEP
// validation fails the whole call with ErrDecrypt.
func (e *Engine) DecryptSegments(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return []byte{}, nil
	}
	if len(ciphertext)%limits.SegmentCiphertextSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrCiphertextAlignment, len(ciphertext))
	}

	out := make([]byte, 0, len(ciphertext)/limits.SegmentCiphertextSize*limits.SegmentPlaintextSize)
	for offset := 0; offset < len(ciphertext); offset += limits.SegmentCiphertextSize {
		segment := ciphertext[offset : offset+limits.SegmentCiphertextSize]

		plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, e.key, segment, nil)
		if err != nil {
			return nil, fmt.Errorf("%w (segment at offset %d)", ErrDecrypt, offset)
		}
		out = append(out, plaintext...)
	}

	return out, nil
}

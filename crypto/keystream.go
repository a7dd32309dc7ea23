package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// keystreamReader exposes an AES-256-CTR keystream as an io.Reader. The
// counter block starts at zero, so the byte sequence is fully determined by
// the key. It is the sole randomness source for deterministic key
// generation and must never be used where real entropy is required.
type keystreamReader struct {
	stream cipher.Stream
}

// newKeystreamReader builds a keystream reader over the derived key.
func newKeystreamReader(key []byte) (*keystreamReader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystream cipher: %w", err)
	}

	// All-zero IV: a 128-bit counter with initial value 0.
	iv := make([]byte, aes.BlockSize)
	return &keystreamReader{stream: cipher.NewCTR(block, iv)}, nil
}

// Read fills p with the next keystream bytes. It never returns an error.
func (r *keystreamReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	r.stream.XORKeyStream(p, p)
	return len(p), nil
}

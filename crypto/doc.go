// Package crypto implements the deterministic asymmetric cipher used by the
// DFP transfer protocol.
//
// A keypair is derived, not generated: PBKDF2-HMAC-SHA256 (100,000
// iterations) stretches a passphrase and salt into a 32-byte key, which
// seeds an AES-256-CTR keystream starting at counter zero. That keystream is
// the sole randomness source consumed by 2048-bit RSA key generation, so the
// same (passkey, salt) pair always yields the same keypair on every host.
// Neither the derived key nor the keypair is ever persisted.
//
// Messages are encrypted segment-wise: plaintext is split into independent
// 190-byte slices, each OAEP/SHA-256 encrypted into exactly 256 ciphertext
// bytes, and the ciphertexts are concatenated in order. This is not a stream
// cipher; segments share no state.
//
// Example:
//
//	engine, err := crypto.NewEngine("correct horse", "dfp#2025")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ciphertext, err := engine.Encrypt(payload, 4)
//
// # Security Considerations
//
// This cipher exists to make bulk traffic resemble generic API payloads and
// to prove passphrase possession. It provides no forward secrecy and no key
// distribution, and the deterministic keypair means anyone holding the
// passphrase and salt can reconstruct the private key. It is not a
// substitute for TLS.
package crypto

// Package limits provides centralized size and timing constants for the DFP
// transfer protocol, along with validation functions used by both the client
// and server components.
//
// # Size Hierarchy
//
//   - SegmentPlaintextSize (190 bytes): the largest plaintext unit the
//     asymmetric cipher accepts per segment. Derived from the 2048-bit OAEP
//     envelope: 256 - 2*32 (SHA-256 digests) - 2.
//
//   - SegmentCiphertextSize (256 bytes): every encrypted segment is exactly
//     one RSA-2048 block. Ciphertext length is always a multiple of this.
//
//   - MaxChunkPayload (64 MiB): the absolute maximum for a single decoded
//     chunk payload accepted by the server. This prevents memory exhaustion
//     from hostile uploads.
//
// # Timing
//
// AuthWindow bounds the clock skew tolerated when validating a signed
// session-create request. SessionTTL is how long an idle session survives
// before the janitor sweep reclaims it. ChunkStoreTimeout and
// FinalizeTimeout bound the two server-side operations that touch storage.
//
// # Protocol Compliance
//
// The segment sizes, PBKDF2 parameters, and timing windows are wire-format
// constants. Changing any of them breaks interoperability with other DFP
// implementations.
package limits

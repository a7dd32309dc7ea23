// Package server implements the receiving side of the DFP transfer
// protocol: an HTTP surface that looks like a generic JSON API but accepts
// chunked file uploads, reassembles them, and verifies their integrity.
//
// Four endpoints drive a session through its lifecycle:
//
//	GET  /cs      create a session (signed with the shared passphrase)
//	POST /k       store one chunk (any order, idempotent per index)
//	POST /fs      finalize: verify completeness, reconstruct, check hash
//	GET  /status  report session progress
//
// Session state lives in an in-memory registry guarded by a single coarse
// lock; the lock covers only registry structure and status transitions,
// never disk or cipher work. Chunk bytes go to a storage.ChunkStore until
// finalization. A janitor sweep reclaims sessions idle for longer than the
// session TTL, whatever their status.
//
// Authentication is a coarse proof of passphrase possession: the client
// encrypts the current timestamp, the server decrypts it and accepts a
// bounded clock skew. There is no nonce, so a captured signature replays
// within the window. This is a documented protocol property, kept for
// interoperability.
package server

// Package dfp implements a chunked file-transfer system that moves files
// between two endpoints over ordinary-looking HTTP traffic.
//
// Both sides derive the same RSA keypair from a shared passphrase, so no
// key material ever travels over the wire. Files are split into randomly
// sized chunks, optionally encrypted, uploaded concurrently as base64
// payloads inside JSON envelopes, and reassembled on the server with
// whole-file MD5 verification.
//
// The module is organized as focused subpackages:
//
//   - crypto: passphrase-derived deterministic RSA cipher with parallel
//     segment encryption
//   - chunk: random-size file splitting with optional inline encryption
//   - client: the sending side (session create, concurrent upload, retry,
//     finalize)
//   - server: the receiving side (HTTP endpoints, session store,
//     reconstruction, expiry janitor)
//   - storage: pluggable chunk persistence (filesystem, Badger, in-memory)
//   - config: YAML configuration for both binaries
//   - limits: shared protocol constants and validation
//
// # Sending a File
//
//	c, err := client.New(config.DefaultClient(), passkey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := c.Send(ctx, "archive.tar", nil)
//
// # Receiving Files
//
//	cfg := config.DefaultServer()
//	engine, err := crypto.NewEngine(passkey, cfg.Salt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, _ := storage.NewFSStore(cfg.ScratchDir)
//	srv := server.New(cfg, engine, store)
//	http.ListenAndServe(cfg.Addr(), srv)
//
// The passphrase is the only shared secret; every deployment should pick
// its own salt as well.
package dfp

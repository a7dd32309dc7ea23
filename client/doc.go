// Package client implements the sending side of the DFP transfer protocol.
//
// A transfer splits the source file into randomly sized chunks, creates a
// signed session on the server, uploads the chunks with bounded
// concurrency, retries failures with exponential backoff on a reduced
// worker pool, and asks the server to finalize. Chunk payloads travel
// base64-encoded inside JSON envelopes so the traffic resembles ordinary
// API calls.
//
// Example:
//
//	c, err := client.New(config.DefaultClient(), passkey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := c.Send(ctx, "archive.tar", func(pct float64, done, total int) {
//	    fmt.Printf("\r%.1f%% (%d/%d)", pct, done, total)
//	})
package client

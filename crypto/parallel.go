package crypto

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/limits"
)

// Parallel cipher workers are CPU-bound: each worker re-derives the keypair
// and processes an independent partition, so workers share no mutable state.
// Re-derivation per worker is the default, interoperable behavior; the
// keypair cache below can be enabled for throughput-sensitive deployments.

type cacheKey struct {
	passkey string
	salt    string
}

var (
	cacheMu      sync.Mutex
	cacheEnabled bool
	engineCache  = make(map[cacheKey]*Engine)
)

// SetKeypairCache enables or disables the process-wide keypair cache used by
// parallel cipher workers. The cache trades the default worker isolation for
// throughput: with the cache on, workers for the same (passkey, salt) share
// one derived keypair instead of re-deriving it. Disabling the cache also
// clears it.
func SetKeypairCache(enabled bool) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cacheEnabled = enabled
	if !enabled {
		engineCache = make(map[cacheKey]*Engine)
	}
}

// engineForWorker returns an engine for one parallel partition, consulting
// the cache when enabled.
func engineForWorker(passkey, salt string) (*Engine, error) {
	key := cacheKey{passkey: passkey, salt: salt}

	cacheMu.Lock()
	if cacheEnabled {
		if engine, ok := engineCache[key]; ok {
			cacheMu.Unlock()
			return engine, nil
		}
	}
	cacheMu.Unlock()

	engine, err := NewEngine(passkey, salt)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	if cacheEnabled {
		engineCache[key] = engine
	}
	cacheMu.Unlock()

	return engine, nil
}

// ParallelEncrypt partitions data into workers near-equal byte ranges and
// segment-encrypts each range on an independently derived engine. Results
// are concatenated in partition order, never completion order.
func ParallelEncrypt(data []byte, passkey, salt string, workers int) ([]byte, error) {
	if workers < 1 {
		workers = 1
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	partitions := partitionBytes(data, workers)
	return runPartitions(partitions, passkey, salt, func(engine *Engine, part []byte) ([]byte, error) {
		return engine.EncryptSegments(part)
	})
}

// ParallelDecrypt partitions ciphertext into workers ranges of whole
// 256-byte segments and decrypts each range on an independently derived
// engine. Partitioning by raw bytes would misalign segment boundaries, so
// ranges always hold complete segments.
func ParallelDecrypt(ciphertext []byte, passkey, salt string, workers int) ([]byte, error) {
	if workers < 1 {
		workers = 1
	}
	if len(ciphertext) == 0 {
		return []byte{}, nil
	}
	if len(ciphertext)%limits.SegmentCiphertextSize != 0 {
		return nil, ErrCiphertextAlignment
	}

	partitions := partitionSegments(ciphertext, workers)
	return runPartitions(partitions, passkey, salt, func(engine *Engine, part []byte) ([]byte, error) {
		return engine.DecryptSegments(part)
	})
}

// runPartitions processes each partition on its own goroutine and joins the
// results in original partition order.
func runPartitions(partitions [][]byte, passkey, salt string, op func(*Engine, []byte) ([]byte, error)) ([]byte, error) {
	results := make([][]byte, len(partitions))
	errs := make([]error, len(partitions))

	var wg sync.WaitGroup
	for i := range partitions {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()

			engine, err := engineForWorker(passkey, salt)
			if err != nil {
				errs[rank] = err
				return
			}
			results[rank], errs[rank] = op(engine, partitions[rank])
		}(i)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runPartitions",
				"rank":     rank,
				"error":    err.Error(),
			}).Error("Parallel cipher worker failed")
			return nil, err
		}
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]byte, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// partitionBytes splits data into workers ranges of ceil(len/workers) bytes.
// Trailing ranges may be shorter or empty.
func partitionBytes(data []byte, workers int) [][]byte {
	perWorker := (len(data) + workers - 1) / workers
	partitions := make([][]byte, 0, workers)
	for rank := 0; rank < workers; rank++ {
		lo := rank * perWorker
		if lo > len(data) {
			lo = len(data)
		}
		hi := lo + perWorker
		if hi > len(data) {
			hi = len(data)
		}
		partitions = append(partitions, data[lo:hi])
	}
	return partitions
}

// partitionSegments splits ciphertext into workers ranges of whole 256-byte
// segments, ceil(totalSegments/workers) segments per range.
func partitionSegments(ciphertext []byte, workers int) [][]byte {
	totalSegments := len(ciphertext) / limits.SegmentCiphertextSize
	perWorker := (totalSegments + workers - 1) / workers
	stride := perWorker * limits.SegmentCiphertextSize

	partitions := make([][]byte, 0, workers)
	for rank := 0; rank < workers; rank++ {
		lo := rank * stride
		if lo > len(ciphertext) {
			lo = len(ciphertext)
		}
		hi := lo + stride
		if hi > len(ciphertext) {
			hi = len(ciphertext)
		}
		partitions = append(partitions, ciphertext[lo:hi])
	}
	return partitions
}

// Encrypt is the parallel encryption entry point bound to this engine's key
// material. A single worker uses the engine's own keypair directly; with
// more workers each one re-derives the same deterministic keypair.
func (e *Engine) Encrypt(data []byte, workers int) ([]byte, error) {
	if workers <= 1 {
		return e.EncryptSegments(data)
	}
	return ParallelEncrypt(data, e.passkey, e.salt, workers)
}

// Decrypt is the parallel decryption entry point bound to this engine's key
// material. A single worker uses the engine's own keypair directly.
func (e *Engine) Decrypt(ciphertext []byte, workers int) ([]byte, error) {
	if workers <= 1 {
		return e.DecryptSegments(ciphertext)
	}
	return ParallelDecrypt(ciphertext, e.passkey, e.salt, workers)
}

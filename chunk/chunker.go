// Package chunk splits source files into randomly sized chunks for
// transfer. Chunk sizes are drawn independently per chunk so that repeated
// transfers of the same file produce different traffic shapes.
package chunk

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dfp/crypto"
)

// ErrInvalidBaseSize indicates a non-positive base chunk size.
var ErrInvalidBaseSize = errors.New("base chunk size must be positive")

// ErrInvalidVariance indicates a variance outside [0, 1).
var ErrInvalidVariance = errors.New("chunk size variance must be in [0, 1)")

// Chunk is one randomly sized slice of a source file. Index determines the
// final ordering during reconstruction.
type Chunk struct {
	Index int
	Data  []byte
}

// Chunker produces variable-size chunks from a reader, optionally
// encrypting each chunk inline through the cipher engine.
type Chunker struct {
	baseSize int
	variance float64
	cipher   *crypto.Engine
	workers  int
}

// New creates a Chunker. Each chunk's length is drawn as
// round(baseSize * uniform(1-variance, 1+variance)), independently per
// chunk.
func New(baseSize int, variance float64) (*Chunker, error) {
	if baseSize <= 0 {
		return nil, ErrInvalidBaseSize
	}
	if variance < 0 || variance >= 1 {
		return nil, ErrInvalidVariance
	}
	return &Chunker{
		baseSize: baseSize,
		variance: variance,
		workers:  runtime.NumCPU(),
	}, nil
}

// WithCipher enables inline encryption of every chunk. Encryption is
// applied immediately as each raw slice is read, using workers parallel
// cipher workers (host parallelism when workers < 1).
func (c *Chunker) WithCipher(engine *crypto.Engine, workers int) *Chunker {
	c.cipher = engine
	if workers > 0 {
		c.workers = workers
	}
	return c
}

// Split reads r to exhaustion and returns the full chunk sequence with
// indices assigned sequentially from 0. Reading stops at the first
// zero-length read.
func (c *Chunker) Split(r io.Reader) ([]Chunk, error) {
	var chunks []Chunk

	for index := 0; ; index++ {
		size := c.nextSize()
		buf := make([]byte, size)

		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		if n == 0 {
			break
		}

		data := buf[:n]
		if c.cipher != nil {
			encrypted, encErr := c.cipher.Encrypt(data, c.workers)
			if encErr != nil {
				return nil, fmt.Errorf("failed to encrypt chunk %d: %w", index, encErr)
			}
			data = encrypted
		}

		chunks = append(chunks, Chunk{Index: index, Data: data})

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Split",
		"chunks":    len(chunks),
		"base_size": c.baseSize,
		"variance":  c.variance,
		"encrypted": c.cipher != nil,
	}).Debug("Chunked input stream")

	return chunks, nil
}

// SplitFile chunks the file at path.
func (c *Chunker) SplitFile(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return c.Split(f)
}

// nextSize draws the next chunk length. Sizes never drop below one byte.
func (c *Chunker) nextSize() int {
	variation := 1 - c.variance + rand.Float64()*2*c.variance
	size := int(math.Round(float64(c.baseSize) * variation))
	if size < 1 {
		size = 1
	}
	return size
}

package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name     string
		baseSize int
		variance float64
		wantErr  error
	}{
		{name: "Valid", baseSize: 300, variance: 0.5, wantErr: nil},
		{name: "Zero variance", baseSize: 300, variance: 0, wantErr: nil},
		{name: "Zero base size", baseSize: 0, variance: 0.5, wantErr: ErrInvalidBaseSize},
		{name: "Negative base size", baseSize: -1, variance: 0.5, wantErr: ErrInvalidBaseSize},
		{name: "Negative variance", baseSize: 300, variance: -0.1, wantErr: ErrInvalidVariance},
		{name: "Variance of one", baseSize: 300, variance: 1, wantErr: ErrInvalidVariance},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.baseSize, tc.variance)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestSplitFixedSizes(t *testing.T) {
	// 700 bytes at base 300 with zero variance: exactly 300, 300, 100.
	data := make([]byte, 700)
	for i := range data {
		data[i] = byte(i)
	}

	chunker, err := New(300, 0)
	require.NoError(t, err)

	chunks, err := chunker.Split(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 300, len(chunks[0].Data))
	assert.Equal(t, 300, len(chunks[1].Data))
	assert.Equal(t, 100, len(chunks[2].Data))

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}

	joined := append(append(append([]byte(nil), chunks[0].Data...), chunks[1].Data...), chunks[2].Data...)
	assert.Equal(t, data, joined)
}

func TestSplitEmptyInput(t *testing.T) {
	chunker, err := New(300, 0)
	require.NoError(t, err)

	chunks, err := chunker.Split(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitVarianceBounds(t *testing.T) {
	data := make([]byte, 100000)
	chunker, err := New(1000, 0.5)
	require.NoError(t, err)

	chunks, err := chunker.Split(bytes.NewReader(data))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	total := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		total += len(c.Data)
		// All but the final chunk must land within the variance window.
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len(c.Data), 500, "chunk %d below variance floor", i)
			assert.LessOrEqual(t, len(c.Data), 1500, "chunk %d above variance ceiling", i)
		}
	}
	assert.Equal(t, len(data), total)
}

func TestSplitSizesVaryAcrossChunks(t *testing.T) {
	data := make([]byte, 200000)
	chunker, err := New(1000, 0.5)
	require.NoError(t, err)

	chunks, err := chunker.Split(bytes.NewReader(data))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 10)

	sizes := make(map[int]struct{})
	for _, c := range chunks[:len(chunks)-1] {
		sizes[len(c.Data)] = struct{}{}
	}
	// Independent uniform draws collapsing to one size would mean the
	// variance is not being applied.
	assert.Greater(t, len(sizes), 1, "all chunk sizes identical despite variance")
}

func TestSplitFileMissing(t *testing.T) {
	chunker, err := New(300, 0)
	require.NoError(t, err)

	_, err = chunker.SplitFile("/nonexistent/path/to/file")
	assert.Error(t, err)
}

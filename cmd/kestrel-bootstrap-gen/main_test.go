package main

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressProducesReadableGzipAndMatchingDigest(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "kestrel-agent")
	output := filepath.Join(dir, "kestrel-agent.gz")

	content := []byte("pretend this is a compiled agent binary")
	require.NoError(t, os.WriteFile(input, content, 0644))

	digest, size, err := compress(input, output, gzip.BestCompression)
	require.NoError(t, err)
	assert.Positive(t, size)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	decompressed, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, content, decompressed)
}

func TestCompressMissingInputErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := compress(filepath.Join(dir, "nonexistent"), filepath.Join(dir, "out.gz"), gzip.DefaultCompression)
	require.Error(t, err)
}

func TestRunRequiresInputAndOutput(t *testing.T) {
	err := run(nil)
	require.Error(t, err)
}

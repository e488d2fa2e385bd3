package hashing_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stackvity/stack-ingest/pkg/ingest/hashing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestFileHasher_KnownVectors(t *testing.T) {
	dir := t.TempDir()
	abc := writeFile(t, dir, "abc.txt", []byte("abc"))
	empty := writeFile(t, dir, "empty.txt", nil)
	h := hashing.NewFileHasher(nil)
	ctx := context.Background()

	testCases := []struct {
		name     string
		path     string
		algo     hashing.Algorithm
		expected string
	}{
		{"md5 abc", abc, hashing.MD5, "900150983CD24FB0D6963F7D28E17F72"},
		{"sha1 abc", abc, hashing.SHA1, "A9993E364706816ABA3E25717850C26C9CD0D89D"},
		{"sha256 abc", abc, hashing.SHA256, "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"},
		{"md5 empty", empty, hashing.MD5, "D41D8CD98F00B204E9800998ECF8427E"},
		{"unknown algorithm falls back to md5", abc, hashing.Algorithm("crc32"), "900150983CD24FB0D6963F7D28E17F72"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.Hash(ctx, tc.path, tc.algo)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, strings.ToUpper(got), got, "digest must be uppercase")
			assert.NotContains(t, got, "-")
		})
	}
}

func TestFileHasher_DeterministicAndSensitive(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("stack-ingest "), 20000) // spans several buffer reads
	a := writeFile(t, dir, "a.bin", content)
	b := writeFile(t, dir, "b.bin", content)

	flipped := append([]byte(nil), content...)
	flipped[len(flipped)/2] ^= 0x01
	c := writeFile(t, dir, "c.bin", flipped)

	h := hashing.NewFileHasher(nil)
	ctx := context.Background()

	for _, algo := range []hashing.Algorithm{hashing.MD5, hashing.SHA1, hashing.SHA256} {
		da, err := h.Hash(ctx, a, algo)
		require.NoError(t, err)
		da2, err := h.Hash(ctx, a, algo)
		require.NoError(t, err)
		db, err := h.Hash(ctx, b, algo)
		require.NoError(t, err)
		dc, err := h.Hash(ctx, c, algo)
		require.NoError(t, err)

		assert.Equal(t, da, da2, "%s: same file twice", algo)
		assert.Equal(t, da, db, "%s: same content", algo)
		assert.NotEqual(t, da, dc, "%s: one flipped bit", algo)
	}
}

func TestFileHasher_OpenFailure(t *testing.T) {
	h := hashing.NewFileHasher(nil)
	_, err := h.Hash(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), hashing.MD5)
	require.Error(t, err)
	assert.ErrorIs(t, err, hashing.ErrOpenFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileHasher_Cancelled(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", []byte("content"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := hashing.NewFileHasher(nil)
	_, err := h.Hash(ctx, path, hashing.MD5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, hashing.ErrReadFailed))
}

func TestHashReader_CancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &cancellingReader{cancel: cancel, remaining: 10}

	_, err := hashing.HashReader(ctx, r, hashing.SHA256)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, r.reads, 10, "reading must stop once the context is cancelled")
}

// cancellingReader cancels its context after the first read.
type cancellingReader struct {
	cancel    context.CancelFunc
	remaining int
	reads     int
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads == 1 {
		r.cancel()
	}
	if r.remaining == 0 {
		return 0, nil
	}
	r.remaining--
	p[0] = 'x'
	return 1, nil
}

func TestParseAlgorithm(t *testing.T) {
	assert.Equal(t, hashing.SHA256, hashing.ParseAlgorithm("SHA256"))
	assert.Equal(t, hashing.SHA1, hashing.ParseAlgorithm(" sha1 "))
	assert.Equal(t, hashing.MD5, hashing.ParseAlgorithm("md5"))
	assert.Equal(t, hashing.MD5, hashing.ParseAlgorithm(""))
	assert.Equal(t, hashing.MD5, hashing.ParseAlgorithm("blake3"))

	assert.True(t, hashing.SHA1.Valid())
	assert.False(t, hashing.Algorithm("blake3").Valid())
}

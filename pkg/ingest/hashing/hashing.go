// Package hashing computes streaming content digests of files on disk.
package hashing

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Algorithm names a supported digest algorithm.
type Algorithm string

// Supported algorithms.
const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// DefaultAlgorithm is used when no algorithm, or an unrecognized one, is requested.
const DefaultAlgorithm = MD5

const defaultBufferSize = 64 * 1024

var (
	// ErrOpenFailed indicates the file could not be opened for hashing
	// (vanished after discovery, permission denied, ...).
	ErrOpenFailed = errors.New("failed to open file for hashing")

	// ErrReadFailed indicates an I/O error while streaming file content into the digest.
	ErrReadFailed = errors.New("failed to read file for hashing")
)

// ParseAlgorithm resolves an algorithm name case-insensitively. Unrecognized names
// fall back to DefaultAlgorithm.
func ParseAlgorithm(s string) Algorithm {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case SHA1:
		return SHA1
	case SHA256:
		return SHA256
	default:
		return MD5
	}
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a == MD5 || a == SHA1 || a == SHA256
}

// New returns a fresh hash.Hash for the algorithm, using MD5 for unrecognized values.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	default:
		return md5.New()
	}
}

// Hasher computes the digest of a file.
// Implementations must close every file handle they open before returning.
type Hasher interface {
	// Hash streams the file at path through algo and returns the digest as uppercase
	// hex without separators. Cancellation of ctx abandons the read and returns ctx.Err().
	Hash(ctx context.Context, path string, algo Algorithm) (string, error)
}

// FileHasher is the default Hasher, reading files from the local filesystem.
type FileHasher struct {
	logger     *slog.Logger
	bufferSize int
}

// NewFileHasher creates a FileHasher. A nil handler discards log output.
func NewFileHasher(loggerHandler slog.Handler) *FileHasher {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &FileHasher{
		logger:     slog.New(loggerHandler).With(slog.String("component", "hasher")),
		bufferSize: defaultBufferSize,
	}
}

// Hash implements the Hasher interface.
func (h *FileHasher) Hash(ctx context.Context, path string, algo Algorithm) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	defer file.Close()

	digest, err := sumReader(ctx, file, algo, h.bufferSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			h.logger.Debug("Hashing abandoned", slog.String("path", path), slog.String("reason", ctxErr.Error()))
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s: %w", ErrReadFailed, path, err)
	}
	h.logger.Debug("File hashed",
		slog.String("path", path),
		slog.String("algorithm", string(algo)),
		slog.Duration("duration", time.Since(start)))
	return digest, nil
}

// HashReader computes the digest of everything readable from r.
func HashReader(ctx context.Context, r io.Reader, algo Algorithm) (string, error) {
	return sumReader(ctx, r, algo, defaultBufferSize)
}

func sumReader(ctx context.Context, r io.Reader, algo Algorithm, bufferSize int) (string, error) {
	hh := algo.New()
	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(hh, &contextReader{ctx: ctx, r: r}, buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(hh.Sum(nil))), nil
}

// contextReader checks for cancellation before every read.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Package cache persists content digests between producer runs so unchanged files
// are not re-hashed.
package cache

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SchemaVersion is the version of the cache file structure. Files with a different
// version are discarded on Load.
const SchemaVersion = "1.0"

const (
	// FormatGob is the gob serialization format.
	FormatGob = "gob"
	// FormatJSON is the JSON serialization format.
	FormatJSON = "json"
	// DefaultFormat is used for empty or unrecognized format names.
	DefaultFormat = FormatGob
)

// ErrCacheLoad indicates the cache file exists but could not be opened.
// Decode failures and version mismatches are not errors; they yield an empty index.
var ErrCacheLoad = errors.New("failed to load digest cache")

// ErrCachePersist indicates the cache file could not be written.
var ErrCachePersist = errors.New("failed to persist digest cache")

// Entry is the stored digest of one file, valid while size and modTime still match.
type Entry struct {
	SizeBytes int64     `json:"sizeBytes"`
	ModTime   time.Time `json:"modTime"`
	Algorithm string    `json:"algorithm"`
	Digest    string    `json:"digest"`
}

// FileHeader is written at the start of the cache file.
type FileHeader struct {
	SchemaVersion string `json:"schemaVersion"`
	AppVersion    string `json:"appVersion"`
}

type jsonFile struct {
	Header FileHeader       `json:"header"`
	Index  map[string]Entry `json:"index"`
}

// FileDigestCache keeps an in-memory index keyed by absolute path and persists it
// to a single file as gob or JSON. It is safe for concurrent use.
type FileDigestCache struct {
	mu         sync.RWMutex
	index      map[string]Entry
	logger     *slog.Logger
	appVersion string
	format     string
	hits       int
	misses     int
}

// NewFileDigestCache creates an empty cache. appVersion is stored in the header and
// compared on Load; "dev" on either side matches anything.
func NewFileDigestCache(loggerHandler slog.Handler, appVersion, format string) *FileDigestCache {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	format = strings.ToLower(format)
	if format != FormatJSON && format != FormatGob {
		format = DefaultFormat
	}
	if appVersion == "" {
		appVersion = "dev"
	}
	return &FileDigestCache{
		index:      make(map[string]Entry),
		logger:     slog.New(loggerHandler).With(slog.String("component", "digestCache"), slog.String("format", format)),
		appVersion: appVersion,
		format:     format,
	}
}

// Load replaces the in-memory index with the contents of cachePath.
//
// A missing file, a corrupt file or a version mismatch leaves an empty index and
// returns nil. Only a failure to open an existing file returns ErrCacheLoad.
func (c *FileDigestCache) Load(cachePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]Entry)

	file, err := os.Open(cachePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("Cache file not found, starting with empty index", "path", cachePath)
			return nil
		}
		return fmt.Errorf("%w: open %s: %w", ErrCacheLoad, cachePath, err)
	}
	defer file.Close()

	var header FileHeader
	var loaded map[string]Entry
	var decodeErr error
	if c.format == FormatJSON {
		var data jsonFile
		decodeErr = json.NewDecoder(file).Decode(&data)
		header, loaded = data.Header, data.Index
	} else {
		dec := gob.NewDecoder(file)
		decodeErr = dec.Decode(&header)
		if decodeErr == nil {
			decodeErr = dec.Decode(&loaded)
		}
	}
	if decodeErr != nil {
		if errors.Is(decodeErr, io.EOF) || errors.Is(decodeErr, io.ErrUnexpectedEOF) {
			c.logger.Warn("Cache file is empty or truncated, treating as miss", "path", cachePath)
		} else {
			c.logger.Warn("Failed to decode cache file, treating as miss", "path", cachePath, "error", decodeErr.Error())
		}
		return nil
	}

	if header.SchemaVersion != SchemaVersion {
		c.logger.Warn("Cache schema version mismatch, invalidating",
			"path", cachePath, "file_schema", header.SchemaVersion, "expected_schema", SchemaVersion)
		return nil
	}
	if header.AppVersion != c.appVersion && header.AppVersion != "dev" && c.appVersion != "dev" {
		c.logger.Warn("Cache app version mismatch, invalidating",
			"path", cachePath, "file_version", header.AppVersion, "expected_version", c.appVersion)
		return nil
	}
	if loaded != nil {
		c.index = loaded
	}
	c.logger.Info("Digest cache loaded", "path", cachePath, "entries", len(c.index))
	return nil
}

// Lookup returns the stored digest for path when size, modTime and algorithm all match.
func (c *FileDigestCache) Lookup(path string, size int64, modTime time.Time, algorithm string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.index[path]
	if !found || entry.SizeBytes != size || !entry.ModTime.Equal(modTime) || entry.Algorithm != algorithm || entry.Digest == "" {
		c.misses++
		return "", false
	}
	c.hits++
	return entry.Digest, true
}

// Store records the digest for path.
func (c *FileDigestCache) Store(path string, size int64, modTime time.Time, algorithm, digest string) {
	c.mu.Lock()
	c.index[path] = Entry{SizeBytes: size, ModTime: modTime, Algorithm: algorithm, Digest: digest}
	c.mu.Unlock()
}

// Forget drops the entry for path, if any.
func (c *FileDigestCache) Forget(path string) {
	c.mu.Lock()
	delete(c.index, path)
	c.mu.Unlock()
}

// Prune drops every entry whose path is not in keep and returns how many were removed.
func (c *FileDigestCache) Prune(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.index)
	maps.DeleteFunc(c.index, func(path string, _ Entry) bool {
		_, ok := keep[path]
		return !ok
	})
	return before - len(c.index)
}

// Len returns the number of entries in the index.
func (c *FileDigestCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Stats returns the hit and miss counts since the cache was created.
func (c *FileDigestCache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Persist writes the index to cachePath atomically via a temporary file and rename.
// An empty index removes any existing file.
func (c *FileDigestCache) Persist(cachePath string) error {
	c.mu.RLock()
	indexCopy := maps.Clone(c.index)
	c.mu.RUnlock()

	if len(indexCopy) == 0 {
		if err := os.Remove(cachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to remove empty cache file", "path", cachePath, "error", err.Error())
		}
		return nil
	}

	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory %s: %w", ErrCachePersist, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(cachePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temporary file in %s: %w", ErrCachePersist, dir, err)
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if _, statErr := os.Stat(tmpPath); statErr == nil {
			_ = os.Remove(tmpPath)
		}
	}()

	header := FileHeader{SchemaVersion: SchemaVersion, AppVersion: c.appVersion}
	var encodeErr error
	if c.format == FormatJSON {
		enc := json.NewEncoder(tmp)
		enc.SetIndent("", "  ")
		encodeErr = enc.Encode(jsonFile{Header: header, Index: indexCopy})
	} else {
		enc := gob.NewEncoder(tmp)
		if encodeErr = enc.Encode(header); encodeErr == nil {
			encodeErr = enc.Encode(indexCopy)
		}
	}
	if encodeErr != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrCachePersist, c.format, encodeErr)
	}

	closed = true
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrCachePersist, tmpPath, err)
	}
	if err := os.Rename(tmpPath, cachePath); err != nil {
		return fmt.Errorf("%w: rename %s to %s: %w", ErrCachePersist, tmpPath, cachePath, err)
	}
	c.logger.Debug("Digest cache persisted", "path", cachePath, "entries", len(indexCopy))
	return nil
}

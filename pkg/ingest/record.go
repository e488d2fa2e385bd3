package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/djherbis/times"
	"github.com/google/uuid"

	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
	"github.com/stackvity/stack-ingest/pkg/ingest/hashing"
)

// FileRecord is the unit published downstream for each retained file.
// It is passed by value and must not be modified after publication.
type FileRecord struct {
	ID             string            `json:"id" msgpack:"id"`
	FileName       string            `json:"fileName" msgpack:"fileName"`
	Extension      string            `json:"extension" msgpack:"extension"`
	PathOnDisk     string            `json:"pathOnDisk" msgpack:"pathOnDisk"`
	Category       classify.Category `json:"category" msgpack:"category"`
	SizeBytes      int64             `json:"sizeBytes" msgpack:"sizeBytes"`
	LastAccessTime time.Time         `json:"lastAccessTime" msgpack:"lastAccessTime"`
	LastWriteTime  time.Time         `json:"lastWriteTime" msgpack:"lastWriteTime"`
	CreationTime   time.Time         `json:"creationTime" msgpack:"creationTime"`
	Origin         Origin            `json:"origin" msgpack:"origin"`
	Status         RecordStatus      `json:"status" msgpack:"status"`
	Digest         string            `json:"digest,omitempty" msgpack:"digest,omitempty"`
	HashAlgorithm  string            `json:"hashAlgorithm,omitempty" msgpack:"hashAlgorithm,omitempty"`
	IsPhysical     bool              `json:"isPhysical" msgpack:"isPhysical"`
}

// FileMeta is the filesystem metadata captured for a file when it is discovered.
type FileMeta struct {
	Path         string // Absolute path
	RelPath      string // Slash-separated path relative to the root
	Name         string
	SizeBytes    int64
	AccessTime   time.Time
	ModTime      time.Time
	CreationTime time.Time
}

// BuildFileMeta copies size and timestamps from info.
//
// CreationTime is the birth time where the platform reports one, otherwise the
// inode change time, otherwise the modification time.
func BuildFileMeta(absPath string, info fs.FileInfo) FileMeta {
	meta := FileMeta{
		Path:         absPath,
		Name:         filepath.Base(absPath),
		SizeBytes:    info.Size(),
		ModTime:      info.ModTime(),
		AccessTime:   info.ModTime(),
		CreationTime: info.ModTime(),
	}
	if info.Sys() == nil {
		return meta
	}
	ts := times.Get(info)
	meta.AccessTime = ts.AccessTime()
	switch {
	case ts.HasBirthTime():
		meta.CreationTime = ts.BirthTime()
	case ts.HasChangeTime():
		meta.CreationTime = ts.ChangeTime()
	}
	return meta
}

// NewRecordID returns 32 lowercase hex characters from a random UUID.
func NewRecordID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// RecordBuilder assembles FileRecords for every category.
type RecordBuilder struct {
	hasher hashing.Hasher
	algo   hashing.Algorithm
	cache  DigestCache
	newID  func() string
}

// NewRecordBuilder creates a builder that hashes retained files with algo.
func NewRecordBuilder(hasher hashing.Hasher, algo hashing.Algorithm) *RecordBuilder {
	if !algo.Valid() {
		algo = hashing.DefaultAlgorithm
	}
	return &RecordBuilder{
		hasher: hasher,
		algo:   algo,
		cache:  &NoOpDigestCache{},
		newID:  NewRecordID,
	}
}

// WithCache makes the builder consult and fill c before and after hashing.
func (b *RecordBuilder) WithCache(c DigestCache) *RecordBuilder {
	if c != nil {
		b.cache = c
	}
	return b
}

// Algorithm returns the digest algorithm used for retained categories.
func (b *RecordBuilder) Algorithm() hashing.Algorithm { return b.algo }

// Build returns the record for meta. Retained categories are hashed first and the
// record is returned only once the digest is known; other categories get no digest.
// cached reports whether the digest came from the DigestCache.
func (b *RecordBuilder) Build(ctx context.Context, meta FileMeta, category classify.Category, extension string) (rec FileRecord, cached bool, err error) {
	rec = FileRecord{
		ID:             b.newID(),
		FileName:       meta.Name,
		Extension:      extension,
		PathOnDisk:     meta.Path,
		Category:       category,
		SizeBytes:      meta.SizeBytes,
		LastAccessTime: meta.AccessTime,
		LastWriteTime:  meta.ModTime,
		CreationTime:   meta.CreationTime,
		Origin:         OriginDisk,
		Status:         RecordStatusAllocated,
		IsPhysical:     true,
	}
	if !category.Retained() {
		return rec, false, nil
	}

	algo := string(b.algo)
	if digest, ok := b.cache.Lookup(meta.Path, meta.SizeBytes, meta.ModTime, algo); ok {
		rec.Digest = digest
		rec.HashAlgorithm = algo
		return rec, true, nil
	}
	digest, err := b.hasher.Hash(ctx, meta.Path, b.algo)
	if err != nil {
		if ctx.Err() != nil {
			return FileRecord{}, false, ctx.Err()
		}
		return FileRecord{}, false, fmt.Errorf("%w: %s: %w", ErrHashFailed, meta.Path, err)
	}
	b.cache.Store(meta.Path, meta.SizeBytes, meta.ModTime, algo, digest)
	rec.Digest = digest
	rec.HashAlgorithm = algo
	return rec, false, nil
}

package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
	"github.com/stackvity/stack-ingest/pkg/ingest/hashing"
)

// ClassificationConfig customizes the default rule classifier.
type ClassificationConfig struct {
	RulesFile               string            `mapstructure:"rulesFile"`
	Extensions              map[string]string `mapstructure:"extensions"` // extension -> category name
	DisableLanguageFallback bool              `mapstructure:"disableLanguageFallback"`
}

// CacheConfig holds settings for the digest cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`   // Defaults to <root>/.stackingest.cache
	Format  string `mapstructure:"format"` // "gob" or "json"
}

// OutputConfig controls where the CLI writes published records.
type OutputConfig struct {
	Path   string       `mapstructure:"path"`
	Format RecordFormat `mapstructure:"format"`
}

// MetricsConfig holds settings for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// WatchConfig holds settings related to watch mode.
type WatchConfig struct {
	Debounce string `mapstructure:"debounce"`
}

// Hooks defines callbacks for status updates during a run.
// Implementations MUST be thread-safe; OnRunComplete may race with UI readers.
type Hooks interface {
	OnFileDiscovered(path string) error
	OnFileStatusUpdate(path string, status Status, message string, duration time.Duration) error
	OnRunComplete(report Report) error
}

// NoOpHooks provides a default, do-nothing implementation of the Hooks interface.
type NoOpHooks struct{}

// OnFileDiscovered implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnFileDiscovered(path string) error { return nil }

// OnFileStatusUpdate implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnFileStatusUpdate(path string, status Status, message string, duration time.Duration) error {
	return nil
}

// OnRunComplete implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnRunComplete(report Report) error { return nil }

// Sink is the bounded downstream queue records are published to.
//
// Publish may block while the queue is full and must return ctx.Err() if ctx is
// cancelled first. Complete signals that no further records will be published.
type Sink interface {
	Publish(ctx context.Context, rec FileRecord) error
	Complete()
}

// DigestCache stores digests across runs, keyed by absolute path.
type DigestCache interface {
	Load(cachePath string) error
	Lookup(path string, size int64, modTime time.Time, algorithm string) (digest string, ok bool)
	Store(path string, size int64, modTime time.Time, algorithm, digest string)
	Persist(cachePath string) error
}

// DigestCachePruner is implemented by caches that can drop entries for files no
// longer present under the root. The producer prunes before each Persist.
type DigestCachePruner interface {
	Prune(keep map[string]struct{}) int
}

// NoOpDigestCache is used when caching is disabled. Every lookup misses.
type NoOpDigestCache struct{}

// Load implements DigestCache, performs no action.
func (c *NoOpDigestCache) Load(cachePath string) error { return nil }

// Lookup implements DigestCache, always returns a miss.
func (c *NoOpDigestCache) Lookup(path string, size int64, modTime time.Time, algorithm string) (string, bool) {
	return "", false
}

// Store implements DigestCache, performs no action.
func (c *NoOpDigestCache) Store(path string, size int64, modTime time.Time, algorithm, digest string) {}

// Persist implements DigestCache, performs no action.
func (c *NoOpDigestCache) Persist(cachePath string) error { return nil }

// Metrics receives per-file observations. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveFile(category classify.Category, status Status, duration time.Duration)
	ObservePublishWait(duration time.Duration)
}

// NoOpMetrics discards all observations.
type NoOpMetrics struct{}

// ObserveFile implements Metrics.
func (NoOpMetrics) ObserveFile(category classify.Category, status Status, duration time.Duration) {}

// ObservePublishWait implements Metrics.
func (NoOpMetrics) ObservePublishWait(duration time.Duration) {}

// Options holds all configuration for a Producer.
type Options struct {
	// --- Core Paths ---
	InputPath string `mapstructure:"input"` // Root directory; used by the CLI, Run takes the root explicitly

	// --- Application Info ---
	AppVersion string `mapstructure:"-"` // Stored in the digest cache header

	// --- Behavior & Control ---
	ConfigFilePath   string `mapstructure:"-"`
	ProfileName      string `mapstructure:"-"`
	Verbose          bool   `mapstructure:"verbose"`
	TuiEnabled       bool   `mapstructure:"tuiEnabled"`
	CompleteOnCancel bool   `mapstructure:"completeOnCancel"` // Complete the sink even when a run is cancelled

	// --- Hashing & Classification ---
	HashAlgorithm  string               `mapstructure:"hashAlgorithm"` // "md5", "sha1", "sha256"
	Classification ClassificationConfig `mapstructure:"classification"`
	IgnorePatterns []string             `mapstructure:"ignore"` // Aggregated with .stackingestignore

	// --- Flow Control & Progress ---
	SinkCapacity            int           `mapstructure:"sinkCapacity"`
	ProgressEvery           int           `mapstructure:"progressEvery"` // 0 disables intermediate snapshots
	PublishWarnThresholdStr string        `mapstructure:"publishWarnThreshold"`
	PublishWarnThreshold    time.Duration `mapstructure:"-"` // Derived from PublishWarnThresholdStr

	// --- Caching ---
	Cache CacheConfig `mapstructure:"cache"`

	// --- Output & Reporting ---
	Output       OutputConfig `mapstructure:"output"`
	OutputFormat OutputFormat `mapstructure:"outputFormat"` // Final report ("text", "json")

	// --- Workflow Features ---
	WatchMode     bool          `mapstructure:"-"` // Set by --watch
	WatchDebounce time.Duration `mapstructure:"-"` // Derived from WatchConfig.Debounce
	WatchConfig   WatchConfig   `mapstructure:"watch"`
	Metrics       MetricsConfig `mapstructure:"metrics"`

	// --- Injected Dependencies ---
	Logger          slog.Handler        `mapstructure:"-"` // Required
	Sink            Sink                `mapstructure:"-"` // Required
	EventHooks      Hooks               `mapstructure:"-"` // Optional, defaults to NoOpHooks
	Classifier      classify.Classifier `mapstructure:"-"` // Optional, built from Classification when nil
	Hasher          hashing.Hasher      `mapstructure:"-"` // Optional, defaults to FileHasher
	DigestCache     DigestCache         `mapstructure:"-"` // Optional, built from Cache when nil
	MetricsRecorder Metrics             `mapstructure:"-"` // Optional, defaults to NoOpMetrics
	WalkerFactory   WalkerFactory       `mapstructure:"-"` // Optional (testing)
}

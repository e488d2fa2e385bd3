package ingest

import "time"

// Constants defining default values for configuration options.
// These seed the Viper defaults in the CLI and fill zero values in NewProducer.
const (
	// DefaultHashAlgorithm is the digest algorithm for retained files.
	DefaultHashAlgorithm = "md5"
	// DefaultSinkCapacity is the buffer size of the bounded record sink.
	DefaultSinkCapacity = 64
	// DefaultProgressEvery publishes an intermediate snapshot after this many files. 0 disables it.
	DefaultProgressEvery = 100
	// DefaultPublishWarnThresholdString is the slow-publication warning threshold as a duration string.
	DefaultPublishWarnThresholdString = "1s"
	// DefaultPublishWarnThreshold is the parsed form of DefaultPublishWarnThresholdString.
	DefaultPublishWarnThreshold = 1 * time.Second
	// DefaultCompleteOnCancel leaves the sink open when a run is cancelled.
	DefaultCompleteOnCancel = false
	// DefaultVerbose is the default state for verbose logging.
	DefaultVerbose = false
	// DefaultTuiEnabled is the default state for the Terminal UI.
	DefaultTuiEnabled = true
	// DefaultOutputFormat is the default format for the final summary report.
	DefaultOutputFormat = OutputFormatText
	// DefaultRecordFormat is the default encoding of records written by the CLI.
	DefaultRecordFormat = RecordFormatJSONL
	// DefaultRecordOutputPath writes records to stdout.
	DefaultRecordOutputPath = "-"
	// DefaultCacheEnabled is the default state for the digest cache.
	DefaultCacheEnabled = false
	// DefaultCacheFormat is the serialization used by the digest cache.
	DefaultCacheFormat = "gob"
	// DefaultMetricsEnabled is the default state for the metrics endpoint.
	DefaultMetricsEnabled = false
	// DefaultMetricsAddress is the listen address of the metrics endpoint.
	DefaultMetricsAddress = "127.0.0.1:9464"
	// DefaultWatchDebounceString is the default debounce duration string for watch mode.
	DefaultWatchDebounceString = "500ms"
	// DefaultWatchDebounceDuration is the parsed default debounce duration.
	DefaultWatchDebounceDuration = 500 * time.Millisecond
)

// File names used by the producer.
const (
	// IgnoreFileName is searched for by walking up from the root path.
	IgnoreFileName = ".stackingestignore"
	// DigestCacheFileName is the default digest cache file, placed in the root path.
	DigestCacheFileName = ".stackingest.cache"
)

// ReportSchemaVersion indicates the version of the JSON report structure.
const ReportSchemaVersion = "1.0"

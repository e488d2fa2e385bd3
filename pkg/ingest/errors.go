package ingest

import "errors"

// Errors returned by the producer or recorded per file in Report.Errors.
// Check with errors.Is; most are wrapped with the path and underlying cause.
var (
	// ErrConfigValidation indicates the Options or the run arguments failed validation
	// (missing logger or sink, root path missing or not a directory, invalid enum values).
	// Returned directly by NewProducer, Run or config loading; always fatal.
	ErrConfigValidation = errors.New("invalid configuration options provided")

	// ErrRunInProgress is returned by Run when the same Producer is already running.
	ErrRunInProgress = errors.New("producer run already in progress")

	// ErrWalkFailed indicates the directory traversal could not be completed,
	// e.g. the root became unreadable. Returned by Run; fatal for the run.
	ErrWalkFailed = errors.New("directory walk failed")

	// ErrStatFailed indicates file metadata could not be read at discovery time.
	// Recorded per file; the file counts as skipped.
	ErrStatFailed = errors.New("failed to get file stats")

	// ErrHashFailed wraps any failure from the Hasher for a retained file.
	// Recorded per file; the file counts as skipped.
	ErrHashFailed = errors.New("failed to hash file")

	// ErrClassifyFailed indicates the Classifier panicked for a file name.
	ErrClassifyFailed = errors.New("failed to classify file")

	// ErrPublishFailed indicates the Sink rejected a record for a reason other than
	// cancellation (for example, it was already completed).
	ErrPublishFailed = errors.New("failed to publish record")
)

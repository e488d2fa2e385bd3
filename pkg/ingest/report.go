package ingest

import "time"

// Report summarizes the result of a single producer run.
type Report struct {
	Summary      ReportSummary  `json:"summary"`
	Categories   map[string]int `json:"categories"`
	SkippedFiles []SkippedInfo  `json:"skippedFiles"`
	Errors       []ErrorInfo    `json:"errors"`
}

// ReportSummary contains aggregated statistics for a run.
type ReportSummary struct {
	RootPath        string    `json:"rootPath"`
	ProfileUsed     string    `json:"profileUsed,omitempty"`
	ConfigFilePath  string    `json:"configFilePath,omitempty"`
	HashAlgorithm   string    `json:"hashAlgorithm"`
	Discovered      int       `json:"discovered"`
	Accepted        int       `json:"accepted"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	TotalRemaining  int       `json:"totalRemaining"`
	CacheHits       int       `json:"cacheHits"`
	CacheEnabled    bool      `json:"cacheEnabled"`
	Done            bool      `json:"done"`
	Cancelled       bool      `json:"cancelled"`
	FatalError      string    `json:"fatalError,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
	Timestamp       time.Time `json:"timestamp"`
	SchemaVersion   string    `json:"schemaVersion"`
}

// SkippedInfo details a file that was counted as skipped because its category is not retained.
type SkippedInfo struct {
	Path     string `json:"path"`
	Category string `json:"category"`
}

// ErrorInfo details a per-file failure. The file counts as skipped.
type ErrorInfo struct {
	Path  string    `json:"path"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

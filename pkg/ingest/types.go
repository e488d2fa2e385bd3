package ingest

// Status defines the processing states reported to Hooks for each discovered file.
type Status string

// Constants representing the defined file processing statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Origin identifies where a FileRecord was produced.
type Origin string

// OriginDisk marks records built from files found on a local filesystem walk.
const OriginDisk Origin = "Disk"

// RecordStatus is the lifecycle state of a FileRecord.
type RecordStatus string

// RecordStatusAllocated is the state of every record this stage publishes.
const RecordStatusAllocated RecordStatus = "Allocated"

// OutputFormat defines the format for the final summary report.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// RecordFormat defines the encoding used when the CLI writes published records.
type RecordFormat string

const (
	RecordFormatJSONL   RecordFormat = "jsonl"
	RecordFormatMsgpack RecordFormat = "msgpack"
)

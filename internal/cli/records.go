package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/stackvity/stack-ingest/pkg/ingest"
)

type recordEncoder interface {
	Encode(v any) error
}

// RecordWriter encodes published records onto a stream, one value per record.
// jsonl writes newline-terminated JSON objects; msgpack writes concatenated maps.
type RecordWriter struct {
	buf     *bufio.Writer
	enc     recordEncoder
	format  ingest.RecordFormat
	written int
	logger  *slog.Logger
}

// NewRecordWriter creates a writer for format on w.
func NewRecordWriter(w io.Writer, format ingest.RecordFormat, loggerHandler slog.Handler) (*RecordWriter, error) {
	buf := bufio.NewWriter(w)
	var enc recordEncoder
	switch format {
	case ingest.RecordFormatJSONL, "":
		format = ingest.RecordFormatJSONL
		enc = json.NewEncoder(buf)
	case ingest.RecordFormatMsgpack:
		menc := msgpack.NewEncoder(buf)
		menc.UseCompactInts(true)
		enc = menc
	default:
		return nil, fmt.Errorf("%w: unsupported record format %q", ingest.ErrConfigValidation, format)
	}
	return &RecordWriter{
		buf:    buf,
		enc:    enc,
		format: format,
		logger: slog.New(loggerHandler).With(slog.String("component", "recordWriter")),
	}, nil
}

// Write encodes a single record.
func (w *RecordWriter) Write(rec ingest.FileRecord) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	w.written++
	return nil
}

// Flush writes any buffered bytes to the underlying writer.
func (w *RecordWriter) Flush() error {
	return w.buf.Flush()
}

// Written returns the number of records encoded so far.
func (w *RecordWriter) Written() int { return w.written }

// Consume drains records until the channel is closed or ctx is done, then flushes.
// Reaching ctx.Done is not an error.
func (w *RecordWriter) Consume(ctx context.Context, records <-chan ingest.FileRecord) error {
	defer func() {
		if err := w.Flush(); err != nil {
			w.logger.Error("Failed to flush records", slog.String("error", err.Error()))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Record consumer stopped before sink completion", slog.Int("written", w.written))
			return nil
		case rec, ok := <-records:
			if !ok {
				w.logger.Debug("Record sink completed", slog.Int("written", w.written), slog.String("format", string(w.format)))
				return nil
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// OpenRecordOutput returns stdout for "-" (or an empty path) and otherwise creates
// or truncates the file at path.
func OpenRecordOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" || path == ingest.DefaultRecordOutputPath {
		return nopWriteCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open record output %s: %w", path, err)
	}
	return f, nil
}

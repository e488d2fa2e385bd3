package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stackvity/stack-ingest/internal/testutil"
	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
)

func sampleRecords() []ingest.FileRecord {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []ingest.FileRecord{
		{ID: "0123456789abcdef0123456789abcdef", FileName: "a.txt", Extension: "txt", PathOnDisk: "/r/a.txt", Category: classify.CategoryText, SizeBytes: 3, LastWriteTime: ts, Origin: ingest.OriginDisk, Status: ingest.RecordStatusAllocated, Digest: "ABC", HashAlgorithm: "md5", IsPhysical: true},
		{ID: "fedcba9876543210fedcba9876543210", FileName: "b.zip", Extension: "zip", PathOnDisk: "/r/b.zip", Category: classify.CategoryArchive, SizeBytes: 9, LastWriteTime: ts, Origin: ingest.OriginDisk, Status: ingest.RecordStatusAllocated, Digest: "DEF", HashAlgorithm: "md5", IsPhysical: true},
	}
}

func feed(records []ingest.FileRecord) <-chan ingest.FileRecord {
	ch := make(chan ingest.FileRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	return ch
}

func TestRecordWriter_JSONL(t *testing.T) {
	var out bytes.Buffer
	w, err := NewRecordWriter(&out, ingest.RecordFormatJSONL, testutil.DiscardHandler())
	require.NoError(t, err)

	require.NoError(t, w.Consume(context.Background(), feed(sampleRecords())))
	assert.Equal(t, 2, w.Written())

	scanner := bufio.NewScanner(&out)
	var got []ingest.FileRecord
	for scanner.Scan() {
		var rec ingest.FileRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "a.txt", got[0].FileName)
	assert.Equal(t, classify.CategoryArchive, got[1].Category)
}

func TestRecordWriter_Msgpack(t *testing.T) {
	var out bytes.Buffer
	w, err := NewRecordWriter(&out, ingest.RecordFormatMsgpack, testutil.DiscardHandler())
	require.NoError(t, err)
	require.NoError(t, w.Consume(context.Background(), feed(sampleRecords())))

	dec := msgpack.NewDecoder(&out)
	var got []ingest.FileRecord
	for {
		var rec ingest.FileRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "fedcba9876543210fedcba9876543210", got[1].ID)
	assert.True(t, got[0].LastWriteTime.Equal(sampleRecords()[0].LastWriteTime))
}

func TestRecordWriter_DefaultsToJSONL(t *testing.T) {
	w, err := NewRecordWriter(io.Discard, "", testutil.DiscardHandler())
	require.NoError(t, err)
	assert.Equal(t, ingest.RecordFormatJSONL, w.format)
}

func TestRecordWriter_UnsupportedFormat(t *testing.T) {
	_, err := NewRecordWriter(io.Discard, "xml", testutil.DiscardHandler())
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrConfigValidation)
}

func TestRecordWriter_ConsumeStopsOnContext(t *testing.T) {
	w, err := NewRecordWriter(io.Discard, ingest.RecordFormatJSONL, testutil.DiscardHandler())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Consume(ctx, make(chan ingest.FileRecord)) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancellation")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestRecordWriter_WriteErrorStopsConsume(t *testing.T) {
	w, err := NewRecordWriter(failingWriter{}, ingest.RecordFormatJSONL, testutil.DiscardHandler())
	require.NoError(t, err)
	big := sampleRecords()[0]
	big.PathOnDisk = string(bytes.Repeat([]byte("x"), 8192))

	err = w.Consume(context.Background(), feed([]ingest.FileRecord{big}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestOpenRecordOutput(t *testing.T) {
	var stdout bytes.Buffer
	for _, path := range []string{"", "-"} {
		w, err := OpenRecordOutput(path, &stdout)
		require.NoError(t, err)
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	assert.Equal(t, "xx", stdout.String())

	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	w, err := OpenRecordOutput(path, &stdout)
	require.NoError(t, err)
	_, err = w.Write([]byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	_, err = OpenRecordOutput(filepath.Join(t.TempDir(), "missing", "out.jsonl"), &stdout)
	assert.Error(t, err)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/stack-ingest/internal/testutil"
	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/sink"
)

var fiveFiles = map[string]string{
	"a.txt":        "alpha",
	"docs/b.txt":   "bravo",
	"c.zip":        "PK-not-really",
	"photos/d.jpg": "jpeg",
	"e.unknownext": "???",
}

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func baseOptions(root string) ingest.Options {
	return ingest.Options{
		InputPath:     root,
		AppVersion:    "test",
		HashAlgorithm: "md5",
		SinkCapacity:  2,
		ProgressEvery: 1,
		Output:        ingest.OutputConfig{Path: "-", Format: ingest.RecordFormatJSONL},
		OutputFormat:  ingest.OutputFormatText,
		Logger:        testutil.DiscardHandler(),
	}
}

func testLogger() *slog.Logger { return slog.New(testutil.DiscardHandler()) }

func decodeLines(t *testing.T, data string) []ingest.FileRecord {
	t.Helper()
	var recs []ingest.FileRecord
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		if line == "" {
			continue
		}
		var rec ingest.FileRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		recs = append(recs, rec)
	}
	return recs
}

func TestRunWithStreams_RecordsToStdout(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateTree(t, root, fiveFiles)
	var out, errOut bytes.Buffer

	err := RunWithStreams(context.Background(), baseOptions(root), testLogger(), Streams{Out: &out, Err: &errOut})
	require.NoError(t, err)

	recs := decodeLines(t, out.String())
	require.Len(t, recs, 3)
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.FileName)
		assert.Len(t, r.ID, 32)
		assert.NotEmpty(t, r.Digest)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt", "c.zip"}, names)

	report := errOut.String()
	assert.Contains(t, report, "Ingest run done")
	assert.Contains(t, report, "Accepted:        3")
	assert.Contains(t, report, "Skipped:         2 (failed: 0)")
	assert.Contains(t, report, "Total remaining: 4")
}

func TestRunWithStreams_FileOutputInsideRootIsExcluded(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateTree(t, root, fiveFiles)
	testutil.CreateDummyDir(t, filepath.Join(root, "out"))
	opts := baseOptions(root)
	opts.Output.Path = filepath.Join(root, "out", "records.jsonl")
	opts.OutputFormat = ingest.OutputFormatJSON
	var out, errOut bytes.Buffer

	require.NoError(t, RunWithStreams(context.Background(), opts, testLogger(), Streams{Out: &out, Err: &errOut}))

	var report ingest.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 5, report.Summary.Discovered)
	assert.Equal(t, 3, report.Summary.Accepted)
	assert.True(t, report.Summary.Done)

	data, err := os.ReadFile(opts.Output.Path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, string(data)), 3)
}

func TestRunWithStreams_InvalidRoot(t *testing.T) {
	opts := baseOptions(filepath.Join(t.TempDir(), "missing"))
	var out, errOut bytes.Buffer

	err := RunWithStreams(context.Background(), opts, testLogger(), Streams{Out: &out, Err: &errOut})
	require.Error(t, err)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Ingest run failed")
}

func TestRunWithStreams_CancelledIsNotAnError(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateTree(t, root, fiveFiles)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, errOut bytes.Buffer

	require.NoError(t, RunWithStreams(ctx, baseOptions(root), testLogger(), Streams{Out: &out, Err: &errOut}))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Ingest run cancelled")
}

func TestRunWithStreams_DigestCacheAcrossRuns(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateTree(t, root, fiveFiles)
	opts := baseOptions(root)
	opts.OutputFormat = ingest.OutputFormatJSON
	opts.Cache = ingest.CacheConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "digests.cache"), Format: "gob"}

	run := func() ingest.Report {
		var out, errOut bytes.Buffer
		require.NoError(t, RunWithStreams(context.Background(), opts, testLogger(), Streams{Out: &out, Err: &errOut}))
		var report ingest.Report
		require.NoError(t, json.Unmarshal(errOut.Bytes(), &report))
		return report
	}

	first := run()
	assert.Equal(t, 0, first.Summary.CacheHits)
	second := run()
	assert.Equal(t, 3, second.Summary.CacheHits)
	assert.Equal(t, 3, second.Summary.Accepted)
}

func TestRunWithStreams_MetricsServer(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateTree(t, root, fiveFiles)
	opts := baseOptions(root)
	opts.Metrics = ingest.MetricsConfig{Enabled: true, Address: "127.0.0.1:0"}
	var out, errOut bytes.Buffer

	require.NoError(t, RunWithStreams(context.Background(), opts, testLogger(), Streams{Out: &out, Err: &errOut}))
	assert.Len(t, decodeLines(t, out.String()), 3)
}

func TestRunWithStreams_WatchRerunsOnChange(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateTree(t, root, map[string]string{"a.txt": "alpha"})
	opts := baseOptions(root)
	opts.WatchMode = true
	opts.WatchDebounce = 50 * time.Millisecond
	opts.Output.Path = filepath.Join(t.TempDir(), "records.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out, errOut bytes.Buffer
	result := make(chan error, 1)
	go func() {
		result <- RunWithStreams(ctx, opts, testLogger(), Streams{Out: &out, Err: &errOut})
	}()

	readOutput := func() string {
		data, _ := os.ReadFile(opts.Output.Path)
		return string(data)
	}
	require.Eventually(t, func() bool {
		return strings.Contains(readOutput(), `"fileName":"a.txt"`)
	}, 5*time.Second, 20*time.Millisecond)

	testutil.CreateDummyFile(t, filepath.Join(root, "sub", "f.txt"), "foxtrot")

	require.Eventually(t, func() bool {
		return strings.Contains(readOutput(), `"fileName":"f.txt"`)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch mode did not stop after cancellation")
	}
	assert.Contains(t, out.String(), "Ingest run done")
}

func TestExcludeOutputFromWalk(t *testing.T) {
	root := tempRoot(t)
	testutil.CreateDummyDir(t, filepath.Join(root, "out"))

	testCases := []struct {
		name   string
		output string
		want   []string
	}{
		{"stdout", "-", nil},
		{"inside root", filepath.Join(root, "out", "r.jsonl"), []string{"/out/r.jsonl"}},
		{"outside root", filepath.Join(t.TempDir(), "r.jsonl"), nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := ingest.Options{InputPath: root, Output: ingest.OutputConfig{Path: tc.output}}
			excludeOutputFromWalk(&opts)
			assert.Equal(t, tc.want, opts.IgnorePatterns)
		})
	}
}

func TestRelevantEvent(t *testing.T) {
	ignored := []string{"/r/.stackingest.cache", "/tmp/out.jsonl"}

	assert.True(t, relevantEvent(fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Write}, ignored))
	assert.True(t, relevantEvent(fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Write | fsnotify.Chmod}, ignored))
	assert.False(t, relevantEvent(fsnotify.Event{Name: "/r/a.txt", Op: fsnotify.Chmod}, ignored))
	assert.False(t, relevantEvent(fsnotify.Event{Name: "/r/.stackingest.cache", Op: fsnotify.Write}, ignored))
	assert.False(t, relevantEvent(fsnotify.Event{Name: "/r/.stackingest.cache.tmp-123", Op: fsnotify.Create}, ignored))
	assert.False(t, relevantEvent(fsnotify.Event{Name: "/tmp/out.jsonl", Op: fsnotify.Write}, ignored))
}

func TestApp_HoldCarriesOverToNewProducer(t *testing.T) {
	a := &app{}
	a.setHold(true)

	p, err := ingest.NewProducer(ingest.Options{Logger: testutil.DiscardHandler(), Sink: sink.NewChannelSink(1)})
	require.NoError(t, err)
	a.setCurrent(p)
	assert.True(t, p.IsHeld())

	a.setHold(false)
	assert.False(t, p.IsHeld())
	a.setCurrent(nil)
}

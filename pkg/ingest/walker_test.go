package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stackvity/stack-ingest/internal/testutil"
	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relPaths(files []ingest.DiscoveredFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Meta.RelPath)
	}
	sort.Strings(out)
	return out
}

func newTestWalker(t *testing.T, root string, patterns ...string) (*ingest.Walker, *testutil.RecordingHooks) {
	t.Helper()
	hooks := &testutil.RecordingHooks{}
	opts := &ingest.Options{IgnorePatterns: patterns, EventHooks: hooks}
	w, err := ingest.NewWalker(root, opts, testutil.DiscardHandler())
	require.NoError(t, err)
	return w, hooks
}

func TestWalker_DiscoversNestedFiles(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{
		"a.txt":         "a",
		"sub/b.txt":     "bb",
		"sub/deep/c.md": "ccc",
	})
	testutil.CreateDummyDir(t, filepath.Join(root, "empty"))
	w, hooks := newTestWalker(t, root)

	files, err := w.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/deep/c.md"}, relPaths(files))
	assert.Len(t, hooks.Discovered(), 3)

	for _, f := range files {
		require.NoError(t, f.Err)
		assert.True(t, filepath.IsAbs(f.Meta.Path))
		assert.Equal(t, filepath.Base(f.Meta.Path), f.Meta.Name)
		assert.False(t, f.Meta.ModTime.IsZero())
		assert.False(t, f.Meta.CreationTime.IsZero())
	}
	assert.Equal(t, int64(3), files[2].Meta.SizeBytes)
}

func TestWalker_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{"real.txt": "r"})
	testutil.CreateTree(t, outside, map[string]string{"secret.txt": "s"})
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linkdir")))
	w, _ := newTestWalker(t, root)

	files, err := w.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt"}, relPaths(files))
}

func TestWalker_IgnorePatterns(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{
		"keep.txt":            "k",
		"build/out.txt":       "o",
		"logs/app.log":        "l",
		"logs/keep.log":       "l",
		"nested/build/x.txt":  "x",
		"rooted.txt":          "r",
		"nested/rooted.txt":   "r",
		ingest.IgnoreFileName: "build/\n*.log\n!keep.log\n/rooted.txt\n",
	})
	w, hooks := newTestWalker(t, root)

	files, err := w.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt", "logs/keep.log", "nested/rooted.txt"}, relPaths(files))
	assert.Equal(t, ingest.StatusSkipped, hooks.Status("logs/app.log"))
	assert.Equal(t, ingest.StatusSkipped, hooks.Status("rooted.txt"))
	assert.Equal(t, 4, w.Ignored(), "two build dirs, app.log and rooted.txt")
}

func TestWalker_ConfigPatternsAndExclude(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{
		"a.txt":     "a",
		"b.tmp":     "b",
		"state.bin": "s",
	})
	w, _ := newTestWalker(t, root, "*.tmp")
	w.Exclude(filepath.Join(root, "state.bin"), "")

	files, err := w.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, relPaths(files))
}

func TestWalker_MissingRootFails(t *testing.T) {
	w, _ := newTestWalker(t, filepath.Join(t.TempDir(), "gone"))
	_, err := w.Discover(context.Background())
	assert.ErrorIs(t, err, ingest.ErrWalkFailed)
}

func TestWalker_CancelledContext(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{"a.txt": "a", "b.txt": "b"})
	w, _ := newTestWalker(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files, err := w.Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, files)
}

func TestWalker_UnreadableSubdirectoryIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{"ok.txt": "o", "locked/hidden.txt": "h"})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	w, _ := newTestWalker(t, root)

	files, err := w.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, relPaths(files))
}

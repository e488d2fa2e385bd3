package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stackvity/stack-ingest/pkg/ingest"
)

// watch runs the producer once, then again after every burst of filesystem
// changes under the root settles for the debounce period.
func (a *app) watch(ctx context.Context) error {
	logger := a.logger.With(slog.String("component", "watch"))

	root, err := filepath.Abs(a.opts.InputPath)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve root path %q: %w", ingest.ErrConfigValidation, a.opts.InputPath, err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root, logger); err != nil {
		return err
	}
	ignored := a.watchIgnoredPaths(root)

	report, err := a.runOnce(ctx)
	if err != nil {
		return err
	}
	if report != nil {
		a.onReport(*report)
	}

	debounce := a.opts.WatchDebounce
	if debounce <= 0 {
		debounce = ingest.DefaultWatchDebounceDuration
	}
	logger.Info("Watching for changes", slog.String("root", root), slog.Duration("debounce", debounce))

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watch mode stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(event, ignored) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Lstat(event.Name); statErr == nil && info.IsDir() {
					if addErr := addRecursive(watcher, event.Name, logger); addErr != nil {
						logger.Warn("Failed to watch new directory", slog.String("path", event.Name), slog.String("error", addErr.Error()))
					}
				}
			}
			logger.Debug("Change detected", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerC = timer.C

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", slog.String("error", werr.Error()))

		case <-timerC:
			timerC = nil
			logger.Info("Changes settled, re-running producer")
			report, runErr := a.runOnce(ctx)
			if runErr != nil {
				logger.Error("Watch run failed", slog.String("error", runErr.Error()))
				continue
			}
			if report != nil {
				a.onReport(*report)
			}
		}
	}
}

// watchIgnoredPaths returns the files the CLI itself writes under root.
func (a *app) watchIgnoredPaths(root string) []string {
	cachePath := a.opts.Cache.Path
	if cachePath == "" {
		cachePath = filepath.Join(root, ingest.DigestCacheFileName)
	}
	paths := []string{cachePath}
	if out := a.opts.Output.Path; out != "" && out != ingest.DefaultRecordOutputPath {
		if dir, err := filepath.EvalSymlinks(filepath.Dir(out)); err == nil {
			out = filepath.Join(dir, filepath.Base(out))
		}
		paths = append(paths, out)
	}
	return paths
}

// relevantEvent drops attribute-only changes and writes to the CLI's own files,
// including the cache's temporary files.
func relevantEvent(event fsnotify.Event, ignored []string) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	for _, p := range ignored {
		if event.Name == p || strings.HasPrefix(event.Name, p+".tmp") {
			return false
		}
	}
	return true
}

// addRecursive watches dir and every directory below it. Symlinked directories
// are not followed.
func addRecursive(watcher *fsnotify.Watcher, dir string, logger *slog.Logger) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("%w: cannot watch %s: %w", ingest.ErrWalkFailed, path, err)
			}
			logger.Warn("Skipping unreadable directory", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := watcher.Add(path); addErr != nil {
			if path == dir {
				return fmt.Errorf("%w: cannot watch %s: %w", ingest.ErrWalkFailed, path, addErr)
			}
			logger.Warn("Failed to watch directory", slog.String("path", path), slog.String("error", addErr.Error()))
		}
		return nil
	})
}

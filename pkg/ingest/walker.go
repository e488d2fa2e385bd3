package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackvity/stack-ingest/pkg/util"
)

// DiscoveredFile is one regular file found by the Walker. Err is set when the
// file's metadata could not be read; Meta then only carries Path, RelPath and Name.
type DiscoveredFile struct {
	Meta FileMeta
	Err  error
}

// WalkerFactory defines a function type for creating Walkers.
type WalkerFactory func(rootPath string, opts *Options, loggerHandler slog.Handler) (*Walker, error)

// Walker enumerates the regular files under a root, applying ignore rules and
// skipping symbolic links and special files.
type Walker struct {
	root          string
	hooks         Hooks
	logger        *slog.Logger
	ignoreMatcher *ignoreMatcher
	exclude       map[string]struct{}
	ignored       int
}

// NewWalker creates a new Walker for rootPath.
func NewWalker(rootPath string, opts *Options, loggerHandler slog.Handler) (*Walker, error) {
	logger := slog.New(loggerHandler).With(slog.String("component", "walker"))
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for root: %w", err)
	}
	matcher, err := newIgnoreMatcher(absRoot, opts.IgnorePatterns, logger)
	if err != nil {
		logger.Error("Failed to initialize ignore pattern matcher", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to initialize ignore patterns: %w", err)
	}
	logger.Debug("Ignore patterns loaded", slog.Int("count", matcher.patternCount()))
	hooks := opts.EventHooks
	if hooks == nil {
		hooks = &NoOpHooks{}
	}
	w := &Walker{
		root:          absRoot,
		hooks:         hooks,
		logger:        logger,
		ignoreMatcher: matcher,
		exclude:       make(map[string]struct{}),
	}
	w.Exclude(matcher.sourceFile)
	return w, nil
}

// Exclude removes the given absolute paths from discovery. Used for files the
// producer itself writes under the root, such as the digest cache.
func (w *Walker) Exclude(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			w.exclude[abs] = struct{}{}
		}
	}
}

// Root returns the absolute root path.
func (w *Walker) Root() string { return w.root }

// Ignored returns how many files and directories the last Discover skipped by pattern.
func (w *Walker) Ignored() int { return w.ignored }

// Discover walks the tree once and returns every eligible file in WalkDir order.
// It fails only when the root itself cannot be read or ctx is cancelled.
func (w *Walker) Discover(ctx context.Context) ([]DiscoveredFile, error) {
	w.logger.Info("Starting directory walk", slog.String("path", w.root))
	w.ignored = 0
	files := make([]DiscoveredFile, 0, 256)

	walkErr := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return err
			}
			w.logger.Warn("Error accessing path during walk", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if path == w.root {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			w.logger.Debug("Skipping symbolic link", slog.String("path", path))
			return nil
		}

		relativePath, err := filepath.Rel(w.root, path)
		if err != nil {
			w.logger.Warn("Could not calculate relative path", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		relativePath = filepath.ToSlash(relativePath)

		isDir := d.IsDir()
		if w.ignoreMatcher.Match(relativePath, isDir) {
			pattern := w.ignoreMatcher.LastMatchPattern(relativePath, isDir)
			w.logger.Debug("Path ignored", slog.String("path", relativePath), slog.Bool("isDir", isDir), slog.String("pattern", pattern))
			w.ignored++
			if isDir {
				return filepath.SkipDir
			}
			if hookErr := w.hooks.OnFileStatusUpdate(relativePath, StatusSkipped, "Ignored by pattern: "+pattern, 0); hookErr != nil {
				w.logger.Warn("Event hook OnFileStatusUpdate (Ignored) failed", slog.String("path", relativePath), slog.String("error", hookErr.Error()))
			}
			return nil
		}
		if isDir {
			return nil
		}
		if _, skip := w.exclude[path]; skip {
			return nil
		}
		if !d.Type().IsRegular() {
			w.logger.Debug("Skipping special file", slog.String("path", relativePath), slog.String("mode", d.Type().String()))
			return nil
		}

		if hookErr := w.hooks.OnFileDiscovered(relativePath); hookErr != nil {
			w.logger.Warn("Event hook OnFileDiscovered failed", slog.String("path", relativePath), slog.String("error", hookErr.Error()))
		}
		info, statErr := d.Info()
		if statErr != nil {
			files = append(files, DiscoveredFile{
				Meta: FileMeta{Path: path, RelPath: relativePath, Name: d.Name()},
				Err:  fmt.Errorf("%w: %s: %w", ErrStatFailed, relativePath, statErr),
			})
			return nil
		}
		meta := BuildFileMeta(path, info)
		meta.RelPath = relativePath
		files = append(files, DiscoveredFile{Meta: meta})
		return nil
	})

	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			w.logger.Info("Directory walk cancelled", slog.String("reason", walkErr.Error()))
			return files, walkErr
		}
		w.logger.Error("Directory walk failed", slog.String("error", walkErr.Error()))
		return nil, fmt.Errorf("%w: %s: %w", ErrWalkFailed, w.root, walkErr)
	}
	w.logger.Info("Directory walk completed", slog.Int("files", len(files)), slog.Int("ignored", w.ignored))
	return files, nil
}

// --- ignoreMatcher ---

type ignoreMatcher struct {
	patterns   []ignorePattern
	basePath   string
	sourceFile string // Ignore file the patterns were loaded from, if any
	logger     *slog.Logger
}

type ignorePattern struct {
	pattern     string // Cleaned pattern using '/' separators
	origPattern string
	negated     bool
	isDirOnly   bool
	isRooted    bool
	baseAbsPath string // Directory the pattern is relative to
}

func newIgnoreMatcher(absRoot string, configPatterns []string, logger *slog.Logger) (*ignoreMatcher, error) {
	matcher := &ignoreMatcher{
		basePath: absRoot,
		logger:   logger.With(slog.String("component", "ignoreMatcher")),
	}
	ignoreFilePath, err := findIgnoreFile(absRoot)
	if err != nil {
		matcher.logger.Warn("Error searching for "+IgnoreFileName, slog.String("error", err.Error()))
	}
	if ignoreFilePath != "" {
		filePatterns, err := loadPatternsFromFile(ignoreFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ignore file %s: %w", ignoreFilePath, err)
		}
		matcher.sourceFile = ignoreFilePath
		matcher.addPatterns(filePatterns, filepath.Dir(ignoreFilePath))
		matcher.logger.Debug("Loaded patterns from ignore file", slog.String("path", ignoreFilePath), slog.Int("count", len(filePatterns)))
	}
	matcher.addPatterns(configPatterns, absRoot)
	return matcher, nil
}

// findIgnoreFile walks up from absStartPath looking for IgnoreFileName.
func findIgnoreFile(absStartPath string) (string, error) {
	currentPath := absStartPath
	for {
		candidate := filepath.Join(currentPath, IgnoreFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("error checking for ignore file at %s: %w", candidate, err)
		}
		parent := filepath.Dir(currentPath)
		if parent == currentPath || parent == "" {
			return "", nil
		}
		currentPath = parent
	}
}

func loadPatternsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open ignore file %s: %w", filePath, err)
	}
	defer file.Close()
	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", filePath, err)
	}
	return patterns, nil
}

func (m *ignoreMatcher) addPatterns(rawPatterns []string, baseAbsPath string) {
	for _, raw := range rawPatterns {
		p := ignorePattern{origPattern: raw, baseAbsPath: baseAbsPath}
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "!") {
			p.negated = true
			trimmed = strings.TrimSpace(trimmed[1:])
		}
		if strings.HasPrefix(trimmed, "/") {
			p.isRooted = true
			trimmed = strings.TrimPrefix(trimmed, "/")
		}
		if strings.HasSuffix(trimmed, "/") {
			p.isDirOnly = true
			trimmed = strings.TrimSuffix(trimmed, "/")
		}
		p.pattern = filepath.ToSlash(trimmed)
		if p.pattern == "" {
			continue
		}
		m.patterns = append(m.patterns, p)
	}
}

// Match reports whether relativePath is ignored. The last matching pattern wins.
func (m *ignoreMatcher) Match(relativePath string, isDir bool) bool {
	_, ignored := m.decide(relativePath, isDir)
	return ignored
}

// LastMatchPattern returns the pattern that caused relativePath to be ignored, or "".
func (m *ignoreMatcher) LastMatchPattern(relativePath string, isDir bool) string {
	pattern, ignored := m.decide(relativePath, isDir)
	if !ignored {
		return ""
	}
	return pattern
}

func (m *ignoreMatcher) decide(relativePath string, isDir bool) (string, bool) {
	lastPattern := ""
	ignored := false
	for _, p := range m.patterns {
		if p.isDirOnly && !isDir {
			continue
		}
		if util.MatchesGitignore(p.pattern, p.baseAbsPath, m.basePath, relativePath, p.isRooted) {
			lastPattern = p.origPattern
			ignored = !p.negated
		}
	}
	return lastPattern, ignored
}

func (m *ignoreMatcher) patternCount() int {
	return len(m.patterns)
}

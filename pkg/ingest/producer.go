package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stackvity/stack-ingest/pkg/ingest/cache"
	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
	"github.com/stackvity/stack-ingest/pkg/ingest/hashing"
	"github.com/stackvity/stack-ingest/pkg/ingest/progress"
)

// Producer walks a directory tree, classifies every file and publishes a FileRecord
// for each retained one to the Sink. A Producer runs one traversal at a time.
type Producer struct {
	opts          *Options
	logger        *slog.Logger
	classifier    classify.Classifier
	builder       *RecordBuilder
	sink          Sink
	hooks         Hooks
	metrics       Metrics
	digestCache   DigestCache
	cacheActive   bool
	loadedCache   string
	walkerFactory WalkerFactory
	tracker       *progress.Tracker
	hold          *holdGate
	publishWarn   time.Duration
	progressEvery int
	done          atomic.Bool
	running       atomic.Bool
}

// NewProducer validates opts and resolves defaults for every optional dependency.
func NewProducer(opts Options) (*Producer, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: Logger implementation (slog.Handler) cannot be nil", ErrConfigValidation)
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("%w: Sink cannot be nil", ErrConfigValidation)
	}
	logger := slog.New(opts.Logger).With(slog.String("component", "producer"))

	if opts.EventHooks == nil {
		opts.EventHooks = &NoOpHooks{}
	}
	if opts.MetricsRecorder == nil {
		opts.MetricsRecorder = NoOpMetrics{}
	}
	if opts.Classifier == nil {
		c, err := NewClassifier(opts.Classification)
		if err != nil {
			return nil, err
		}
		opts.Classifier = c
		logger.Debug("Classifier not provided, using rule classifier")
	}
	if opts.Hasher == nil {
		opts.Hasher = hashing.NewFileHasher(opts.Logger)
	}

	algo := hashing.ParseAlgorithm(opts.HashAlgorithm)
	if opts.HashAlgorithm != "" && !strings.EqualFold(strings.TrimSpace(opts.HashAlgorithm), string(algo)) {
		logger.Warn("Unrecognized hash algorithm, falling back", slog.String("requested", opts.HashAlgorithm), slog.String("using", string(algo)))
	}
	opts.HashAlgorithm = string(algo)

	cacheActive := opts.DigestCache != nil || opts.Cache.Enabled
	if opts.DigestCache == nil {
		if opts.Cache.Enabled {
			opts.DigestCache = cache.NewFileDigestCache(opts.Logger, opts.AppVersion, opts.Cache.Format)
		} else {
			opts.DigestCache = &NoOpDigestCache{}
		}
	}

	publishWarn := opts.PublishWarnThreshold
	if publishWarn <= 0 {
		publishWarn = DefaultPublishWarnThreshold
	}
	progressEvery := opts.ProgressEvery
	if progressEvery < 0 {
		progressEvery = 0
	}
	walkerFactory := opts.WalkerFactory
	if walkerFactory == nil {
		walkerFactory = NewWalker
	}

	return &Producer{
		opts:          &opts,
		logger:        logger,
		classifier:    opts.Classifier,
		builder:       NewRecordBuilder(opts.Hasher, algo).WithCache(opts.DigestCache),
		sink:          opts.Sink,
		hooks:         opts.EventHooks,
		metrics:       opts.MetricsRecorder,
		digestCache:   opts.DigestCache,
		cacheActive:   cacheActive,
		walkerFactory: walkerFactory,
		tracker:       progress.NewTracker(),
		hold:          newHoldGate(),
		publishWarn:   publishWarn,
		progressEvery: progressEvery,
	}, nil
}

// NewClassifier builds the rule classifier described by cfg: the built-in rules,
// then cfg.RulesFile, then cfg.Extensions.
func NewClassifier(cfg ClassificationConfig) (*classify.RuleClassifier, error) {
	var rules []classify.Rules
	if cfg.RulesFile != "" {
		r, err := classify.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigValidation, err)
		}
		rules = append(rules, r)
	}
	if len(cfg.Extensions) > 0 {
		r, err := classify.RulesFromExtensionMap(cfg.Extensions)
		if err != nil {
			return nil, fmt.Errorf("%w: classification.extensions: %w", ErrConfigValidation, err)
		}
		rules = append(rules, r)
	}
	c, err := classify.New(classify.Config{Rules: rules, DisableLanguageFallback: cfg.DisableLanguageFallback})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidation, err)
	}
	return c, nil
}

// SetHold pauses (true) or resumes (false) processing. It is honored immediately
// before each file; a file already being processed finishes first.
func (p *Producer) SetHold(hold bool) {
	if p.hold.set(hold) {
		p.logger.Info("Hold changed", slog.Bool("hold", hold))
	}
}

// IsHeld reports whether a hold is currently requested.
func (p *Producer) IsHeld() bool { return p.hold.isHeld() }

// IsDone reports whether the last run completed normally.
func (p *Producer) IsDone() bool { return p.done.Load() }

// Progress returns the tracker holding the run counters.
func (p *Producer) Progress() *progress.Tracker { return p.tracker }

// Algorithm returns the digest algorithm in use.
func (p *Producer) Algorithm() hashing.Algorithm { return p.builder.Algorithm() }

// Close closes all progress subscriptions. The Producer must not be run afterwards.
func (p *Producer) Close() { p.tracker.Close() }

// Run traverses rootPath and returns done=true once every file has been handled
// and the Sink completed.
//
// Cancellation is not an error: Run then returns (false, nil) after publishing a
// final snapshot flagged Cancelled. Structural failures (invalid root, failed
// traversal) return a non-nil error. Per-file failures never abort the run.
func (p *Producer) Run(ctx context.Context, rootPath string) (done bool, err error) {
	if !p.running.CompareAndSwap(false, true) {
		return false, ErrRunInProgress
	}
	defer p.running.Store(false)
	p.done.Store(false)
	p.tracker.Reset(0)

	startTime := time.Now()
	agg := newReportAggregator()
	cancelled := false
	absRoot := rootPath
	cachePath := ""
	var seen map[string]struct{}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic recovered during producer run", "panicValue", r)
			done = false
			err = fmt.Errorf("panic during execution: %v", r)
		}
		if cachePath != "" {
			if pruner, ok := p.digestCache.(DigestCachePruner); ok && seen != nil {
				if removed := pruner.Prune(seen); removed > 0 {
					p.logger.Debug("Pruned digest cache entries for missing files", slog.Int("entries", removed))
				}
			}
			if persistErr := p.digestCache.Persist(cachePath); persistErr != nil {
				p.logger.Error("Failed to persist digest cache", slog.String("path", cachePath), slog.String("error", persistErr.Error()))
			}
		}
		report := agg.getReport(p, absRoot, startTime, done, cancelled, err)
		p.logger.Info("Producer run finished",
			slog.Duration("duration", time.Since(startTime)),
			slog.Int("accepted", report.Summary.Accepted),
			slog.Int("skipped", report.Summary.Skipped),
			slog.Int("failed", report.Summary.Failed),
			slog.Bool("done", done),
			slog.Bool("cancelled", cancelled),
		)
		if hookErr := p.hooks.OnRunComplete(report); hookErr != nil {
			p.logger.Warn("OnRunComplete hook returned an error", slog.String("error", hookErr.Error()))
		}
	}()

	resolved, err := resolveRoot(rootPath)
	if err != nil {
		return false, err
	}
	absRoot = resolved
	p.logger.Info("Starting producer run", slog.String("root", absRoot), slog.String("algorithm", string(p.builder.Algorithm())))

	if p.cacheActive {
		cachePath = p.opts.Cache.Path
		if cachePath == "" {
			cachePath = filepath.Join(absRoot, DigestCacheFileName)
		}
		if cachePath != p.loadedCache {
			if loadErr := p.digestCache.Load(cachePath); loadErr != nil {
				p.logger.Warn("Digest cache unavailable, hashing every file", slog.String("path", cachePath), slog.String("error", loadErr.Error()))
			}
			p.loadedCache = cachePath
		}
	}

	walker, err := p.walkerFactory(absRoot, p.opts, p.opts.Logger)
	if err != nil {
		p.logger.Error("Failed to initialize directory walker", slog.String("error", err.Error()))
		return false, fmt.Errorf("%w: walker initialization: %w", ErrWalkFailed, err)
	}
	walker.Exclude(cachePath)

	files, err := walker.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			cancelled = true
			p.tracker.Reset(0)
			p.finishCancelled()
			return false, nil
		}
		return false, err
	}

	seen = make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f.Meta.Path] = struct{}{}
	}
	p.tracker.Reset(len(files))
	p.tracker.Publish(false, false)

	for i, f := range files {
		if waitErr := p.waitForRelease(ctx); waitErr != nil {
			cancelled = true
			break
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if abandoned := p.processFile(ctx, f, agg); abandoned {
			cancelled = true
			break
		}
		if p.progressEvery > 0 && (i+1)%p.progressEvery == 0 {
			p.tracker.Publish(false, false)
		}
	}

	if cancelled {
		p.finishCancelled()
		return false, nil
	}

	p.tracker.Publish(true, false)
	p.sink.Complete()
	p.done.Store(true)
	return true, nil
}

func (p *Producer) finishCancelled() {
	snap := p.tracker.Publish(true, true)
	p.logger.Info("Producer run cancelled",
		slog.Int("accepted", snap.Accepted),
		slog.Int("skipped", snap.Skipped),
		slog.Int("totalRemaining", snap.TotalRemaining))
	if p.opts.CompleteOnCancel {
		p.sink.Complete()
	}
}

func resolveRoot(rootPath string) (string, error) {
	if rootPath == "" {
		return "", fmt.Errorf("%w: root path is required", ErrConfigValidation)
	}
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve root path %q: %w", ErrConfigValidation, rootPath, err)
	}
	if resolved, evalErr := filepath.EvalSymlinks(absRoot); evalErr == nil {
		absRoot = resolved
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("%w: cannot access root path %q: %w", ErrConfigValidation, rootPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: root path %q is not a directory", ErrConfigValidation, rootPath)
	}
	return absRoot, nil
}

func (p *Producer) waitForRelease(ctx context.Context) error {
	if !p.hold.isHeld() {
		return nil
	}
	p.logger.Info("Producer on hold, waiting for release")
	if err := p.hold.wait(ctx); err != nil {
		return err
	}
	p.logger.Info("Producer released")
	return nil
}

// processFile handles one discovered file. It returns true when the file was
// abandoned because ctx was cancelled; no counter is touched in that case.
// A panic from the classifier, hasher, digest cache or sink fails only this file.
func (p *Producer) processFile(ctx context.Context, f DiscoveredFile, agg *reportAggregator) (abandoned bool) {
	start := time.Now()
	relPath := f.Meta.RelPath
	var category classify.Category
	stage := ErrClassifyFailed
	settled := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.logger.Error("Panic recovered while processing file", slog.String("path", f.Meta.Path), slog.Any("panicValue", r))
		abandoned = false
		if !settled {
			settled = true
			p.fail(f, category, fmt.Errorf("%w: %s: panic: %v", stage, relPath, r), start, agg)
		}
	}()

	p.notify(relPath, StatusProcessing, "", 0)

	category = p.classifier.Classify(f.Meta.Name)
	extension := p.classifier.ExtensionOf(f.Meta.Name)
	if f.Err != nil {
		settled = true
		p.fail(f, category, f.Err, start, agg)
		return false
	}

	if !category.Retained() {
		settled = true
		p.tracker.Record(category, progress.OutcomeSkipped)
		agg.addSkipped(SkippedInfo{Path: relPath, Category: string(category)})
		elapsed := time.Since(start)
		p.metrics.ObserveFile(category, StatusSkipped, elapsed)
		p.notify(relPath, StatusSkipped, "Category "+string(category)+" is not retained", elapsed)
		return false
	}

	stage = ErrHashFailed
	rec, cached, err := p.builder.Build(ctx, f.Meta, category, extension)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Debug("Abandoning file after cancellation during hashing", slog.String("path", relPath))
			return true
		}
		settled = true
		p.fail(f, category, err, start, agg)
		return false
	}

	stage = ErrPublishFailed
	if err := p.publish(ctx, rec); err != nil {
		if ctx.Err() != nil {
			p.logger.Debug("Abandoning file after cancellation during publication", slog.String("path", relPath))
			return true
		}
		settled = true
		p.fail(f, category, fmt.Errorf("%w: %s: %w", ErrPublishFailed, relPath, err), start, agg)
		return false
	}

	settled = true
	p.tracker.Record(category, progress.OutcomeAccepted)
	agg.addAccepted(cached)
	elapsed := time.Since(start)
	p.metrics.ObserveFile(category, StatusPublished, elapsed)
	msg := "Published " + string(category)
	if cached {
		msg += " (cached digest)"
	}
	p.notify(relPath, StatusPublished, msg, elapsed)
	return false
}

func (p *Producer) publish(ctx context.Context, rec FileRecord) error {
	start := time.Now()
	warn := time.AfterFunc(p.publishWarn, func() {
		p.logger.Warn("Sink publication blocked, consumer may be slow",
			slog.String("path", rec.PathOnDisk), slog.Duration("threshold", p.publishWarn))
	})
	defer warn.Stop()
	err := p.sink.Publish(ctx, rec)
	p.metrics.ObservePublishWait(time.Since(start))
	return err
}

func (p *Producer) fail(f DiscoveredFile, category classify.Category, err error, start time.Time, agg *reportAggregator) {
	now := time.Now()
	p.logger.Error("Failed to process file",
		slog.Time("at", now),
		slog.String("path", f.Meta.Path),
		slog.String("category", string(category)),
		slog.String("error", err.Error()))
	p.tracker.Record(category, progress.OutcomeFailed)
	agg.addError(ErrorInfo{Path: f.Meta.RelPath, Error: err.Error(), At: now.UTC()})
	elapsed := time.Since(start)
	p.metrics.ObserveFile(category, StatusFailed, elapsed)
	p.notify(f.Meta.RelPath, StatusFailed, err.Error(), elapsed)
}

func (p *Producer) notify(path string, status Status, message string, duration time.Duration) {
	if hookErr := p.hooks.OnFileStatusUpdate(path, status, message, duration); hookErr != nil {
		p.logger.Warn("Event hook OnFileStatusUpdate failed", slog.String("path", path), slog.String("status", string(status)), slog.String("error", hookErr.Error()))
	}
}

// --- holdGate ---

// holdGate blocks callers of wait while held. Releasing closes the current channel.
type holdGate struct {
	mu      sync.Mutex
	held    bool
	release chan struct{}
}

func newHoldGate() *holdGate {
	return &holdGate{}
}

// set changes the hold state and reports whether it changed.
func (g *holdGate) set(hold bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if hold == g.held {
		return false
	}
	g.held = hold
	if hold {
		g.release = make(chan struct{})
	} else {
		close(g.release)
	}
	return true
}

func (g *holdGate) isHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// wait returns once the gate is released or ctx is done.
func (g *holdGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.held {
			g.mu.Unlock()
			return nil
		}
		ch := g.release
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// --- reportAggregator ---

// reportAggregator collects per-file report entries during a run.
type reportAggregator struct {
	mu        sync.Mutex
	skipped   []SkippedInfo
	errors    []ErrorInfo
	cacheHits int
}

func newReportAggregator() *reportAggregator {
	return &reportAggregator{
		skipped: make([]SkippedInfo, 0, 64),
		errors:  make([]ErrorInfo, 0, 16),
	}
}

func (a *reportAggregator) addAccepted(cached bool) {
	if !cached {
		return
	}
	a.mu.Lock()
	a.cacheHits++
	a.mu.Unlock()
}

func (a *reportAggregator) addSkipped(info SkippedInfo) {
	a.mu.Lock()
	a.skipped = append(a.skipped, info)
	a.mu.Unlock()
}

func (a *reportAggregator) addError(info ErrorInfo) {
	a.mu.Lock()
	a.errors = append(a.errors, info)
	a.mu.Unlock()
}

func (a *reportAggregator) getReport(p *Producer, root string, startTime time.Time, done, cancelled bool, runErr error) Report {
	snap := p.tracker.Snapshot()
	categories := make(map[string]int)
	for c, n := range p.tracker.Categories() {
		categories[string(c)] = n
	}

	a.mu.Lock()
	skipped := make([]SkippedInfo, len(a.skipped))
	copy(skipped, a.skipped)
	errorsList := make([]ErrorInfo, len(a.errors))
	copy(errorsList, a.errors)
	cacheHits := a.cacheHits
	a.mu.Unlock()

	fatal := ""
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fatal = runErr.Error()
	}
	return Report{
		Summary: ReportSummary{
			RootPath:        root,
			ProfileUsed:     p.opts.ProfileName,
			ConfigFilePath:  p.opts.ConfigFilePath,
			HashAlgorithm:   string(p.builder.Algorithm()),
			Discovered:      snap.Discovered,
			Accepted:        snap.Accepted,
			Skipped:         snap.Skipped,
			Failed:          snap.Failed,
			TotalRemaining:  snap.TotalRemaining,
			CacheHits:       cacheHits,
			CacheEnabled:    p.cacheActive,
			Done:            done,
			Cancelled:       cancelled,
			FatalError:      fatal,
			DurationSeconds: time.Since(startTime).Seconds(),
			Timestamp:       time.Now().UTC(),
			SchemaVersion:   ReportSchemaVersion,
		},
		Categories:   categories,
		SkippedFiles: skipped,
		Errors:       errorsList,
	}
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/stackvity/stack-ingest/internal/cli/hooks"
	"github.com/stackvity/stack-ingest/internal/cli/ui"
	"github.com/stackvity/stack-ingest/internal/observability"
	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/cache"
	"github.com/stackvity/stack-ingest/pkg/ingest/sink"
)

const (
	progressBuffer         = 16
	metricsShutdownTimeout = 5 * time.Second
)

// Streams are the process outputs the CLI writes to.
type Streams struct {
	Out io.Writer // Records when the output path is "-", otherwise the final report
	Err io.Writer // TUI, buffered TUI-time logs, and the report when records use Out
}

// Run orchestrates the application after configuration loading, writing to the
// process stdout and stderr.
func Run(ctx context.Context, opts ingest.Options, logger *slog.Logger) error {
	return RunWithStreams(ctx, opts, logger, Streams{Out: os.Stdout, Err: os.Stderr})
}

// RunWithStreams runs the producer, the record consumer, the progress renderer and
// the optional metrics server in one errgroup. In watch mode the producer is re-run
// after debounced filesystem changes until ctx is cancelled.
//
// A cancelled run is not an error.
func RunWithStreams(ctx context.Context, opts ingest.Options, logger *slog.Logger, streams Streams) error {
	if opts.Logger == nil {
		opts.Logger = logger.Handler()
	}
	excludeOutputFromWalk(&opts)

	metrics, err := observability.InitMetrics(opts.Metrics)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics shutdown failed", slog.String("error", err.Error()))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &app{
		opts:       opts,
		logger:     logger,
		libHandler: opts.Logger,
		streams:    streams,
		metrics:    metrics,
	}
	if opts.Cache.Enabled {
		a.digestCache = cache.NewFileDigestCache(opts.Logger, opts.AppVersion, opts.Cache.Format)
	}

	var tuiLogs *lockedBuffer
	var tuiProg hooks.TUIProgram
	if opts.TuiEnabled {
		tuiLogs = &lockedBuffer{}
		a.libHandler = slog.NewTextHandler(tuiLogs, &slog.HandlerOptions{Level: slog.LevelWarn})
		a.program = tea.NewProgram(
			ui.NewModel(opts.AppVersion, a.setHold),
			tea.WithContext(runCtx),
			tea.WithOutput(streams.Err),
		)
		tuiProg = teaSender{a.program}
	}
	a.hooks = hooks.NewCLIHooks(logger, opts.TuiEnabled, opts.Verbose, tuiProg)

	g, gctx := errgroup.WithContext(runCtx)

	if metrics.Enabled() {
		srv := observability.NewServer(opts.Metrics.Address, metrics, opts.Logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	if a.program != nil {
		g.Go(func() error {
			_, err := a.program.Run()
			// Leaving the TUI ends the run.
			cancel()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("terminal UI: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		if a.program != nil {
			defer a.program.Quit()
		}
		if opts.WatchMode {
			return a.watch(gctx)
		}
		report, err := a.runOnce(gctx)
		if report != nil {
			a.onReport(*report)
		}
		return err
	})

	err = g.Wait()

	if tuiLogs != nil && tuiLogs.Len() > 0 {
		_, _ = streams.Err.Write(tuiLogs.Bytes())
	}
	if last, ok := a.lastReport(); ok && (!opts.WatchMode || a.program != nil) {
		if reportErr := WriteReport(a.reportWriter(), last, opts.OutputFormat); reportErr != nil {
			logger.Error("Failed to write final report", slog.String("error", reportErr.Error()))
		}
	}
	return err
}

// excludeOutputFromWalk keeps a record output file under the root from being
// ingested on the next traversal.
func excludeOutputFromWalk(opts *ingest.Options) {
	path := opts.Output.Path
	if path == "" || path == ingest.DefaultRecordOutputPath || opts.InputPath == "" {
		return
	}
	root, err := filepath.Abs(opts.InputPath)
	if err != nil {
		return
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	out := path
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		out = filepath.Join(dir, filepath.Base(path))
	}
	rel, err := filepath.Rel(root, out)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	opts.IgnorePatterns = append(opts.IgnorePatterns, "/"+filepath.ToSlash(rel))
}

type app struct {
	opts        ingest.Options
	logger      *slog.Logger
	libHandler  slog.Handler
	streams     Streams
	metrics     *observability.PrometheusMetrics
	digestCache ingest.DigestCache
	hooks       *hooks.CLIHooks
	program     *tea.Program

	mu      sync.Mutex
	current *ingest.Producer
	held    bool
	last    *ingest.Report
}

// runOnce performs one traversal with a fresh producer and sink. The report is
// nil when the producer could not be started.
func (a *app) runOnce(ctx context.Context) (*ingest.Report, error) {
	out, err := OpenRecordOutput(a.opts.Output.Path, a.streams.Out)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := out.Close(); err != nil {
			a.logger.Error("Failed to close record output", slog.String("error", err.Error()))
		}
	}()
	writer, err := NewRecordWriter(out, a.opts.Output.Format, a.libHandler)
	if err != nil {
		return nil, err
	}

	s := sink.NewChannelSink(a.opts.SinkCapacity)
	capture := &reportCapture{Hooks: a.hooks}

	popts := a.opts
	popts.Logger = a.libHandler
	popts.Sink = s
	popts.EventHooks = capture
	if a.metrics.Enabled() {
		popts.MetricsRecorder = a.metrics
	}
	if a.digestCache != nil {
		popts.DigestCache = a.digestCache
	}
	producer, err := ingest.NewProducer(popts)
	if err != nil {
		return nil, err
	}
	a.setCurrent(producer)
	defer a.setCurrent(nil)
	snaps, _ := producer.Progress().Subscribe(progressBuffer)

	producerCtx, stopProducer := context.WithCancel(ctx)
	defer stopProducer()
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()

	var g errgroup.Group
	g.Go(func() error {
		defer producer.Close()
		defer func() {
			// Records buffered in a sink that was never completed are dropped.
			select {
			case <-s.Completed():
			default:
				stopDrain()
			}
		}()
		done, err := producer.Run(producerCtx, a.opts.InputPath)
		if err != nil {
			return err
		}
		a.logger.Debug("Producer returned", slog.Bool("done", done))
		return nil
	})
	g.Go(func() error {
		if err := writer.Consume(drainCtx, s.Records()); err != nil {
			stopProducer()
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.hooks.ForwardProgress(context.Background(), snaps)
	})

	err = g.Wait()
	a.logger.Debug("Records written", slog.Int("count", writer.Written()), slog.String("output", a.opts.Output.Path))
	return capture.Report(), err
}

// setHold is bound to the TUI hold key. The state carries over to producers
// created later in watch mode.
func (a *app) setHold(hold bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held = hold
	if a.current != nil {
		a.current.SetHold(hold)
	}
}

func (a *app) setCurrent(p *ingest.Producer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = p
	if p != nil && a.held {
		p.SetHold(true)
	}
}

// onReport records the latest report and, in watch mode without a TUI, prints it.
func (a *app) onReport(report ingest.Report) {
	a.mu.Lock()
	a.last = &report
	a.mu.Unlock()
	if a.opts.WatchMode && a.program == nil {
		if err := WriteReport(a.reportWriter(), report, a.opts.OutputFormat); err != nil {
			a.logger.Error("Failed to write report", slog.String("error", err.Error()))
		}
	}
}

func (a *app) lastReport() (ingest.Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return ingest.Report{}, false
	}
	return *a.last, true
}

func (a *app) reportWriter() io.Writer {
	if a.opts.Output.Path == "" || a.opts.Output.Path == ingest.DefaultRecordOutputPath {
		return a.streams.Err
	}
	return a.streams.Out
}

// reportCapture keeps the report handed to OnRunComplete.
type reportCapture struct {
	ingest.Hooks
	mu     sync.Mutex
	report *ingest.Report
}

func (c *reportCapture) OnRunComplete(report ingest.Report) error {
	c.mu.Lock()
	c.report = &report
	c.mu.Unlock()
	return c.Hooks.OnRunComplete(report)
}

func (c *reportCapture) Report() *ingest.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// teaSender adapts *tea.Program to hooks.TUIProgram.
type teaSender struct{ p *tea.Program }

func (s teaSender) Send(msg any) { s.p.Send(msg) }

// lockedBuffer collects log output while the TUI owns the terminal.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/progress"
)

// --- TUI Message Structs ---

// FileDiscoveredMsg signals that a file was found by the walker.
type FileDiscoveredMsg struct{ Path string }

// FileStatusUpdateMsg signals a change in a file's processing status.
type FileStatusUpdateMsg struct {
	Path     string
	Status   ingest.Status
	Message  string
	Duration time.Duration
}

// ProgressMsg carries an aggregate progress snapshot.
type ProgressMsg struct{ Snapshot progress.Snapshot }

// RunCompleteMsg signals the end of a producer run.
type RunCompleteMsg struct{ Report ingest.Report }

// --- Hook Implementation ---

// CLIHooks implements ingest.Hooks, bridging producer events to the TUI or the logger.
type CLIHooks struct {
	logger         *slog.Logger
	tuiEnabled     bool
	verboseEnabled bool
	tuiProgram     TUIProgram
}

// TUIProgram is the part of *tea.Program the hooks need.
type TUIProgram interface {
	Send(msg any)
}

// NoOpTUIProgram provides a default null implementation.
type NoOpTUIProgram struct{}

// Send implements TUIProgram.
func (n *NoOpTUIProgram) Send(msg any) {}

// NewCLIHooks creates a new CLIHooks instance. A nil tuiProg is replaced by NoOpTUIProgram.
func NewCLIHooks(logger *slog.Logger, tuiEnabled, verboseEnabled bool, tuiProg TUIProgram) *CLIHooks {
	if tuiProg == nil {
		tuiProg = &NoOpTUIProgram{}
	}
	return &CLIHooks{
		logger:         logger,
		tuiEnabled:     tuiEnabled,
		verboseEnabled: verboseEnabled,
		tuiProgram:     tuiProg,
	}
}

// OnFileDiscovered implements ingest.Hooks.
func (h *CLIHooks) OnFileDiscovered(path string) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(FileDiscoveredMsg{Path: path})
	} else if h.verboseEnabled {
		h.logger.Debug("File discovered", "path", path)
	}
	return nil
}

// OnFileStatusUpdate implements ingest.Hooks. It is called from the producer goroutine.
func (h *CLIHooks) OnFileStatusUpdate(path string, status ingest.Status, message string, duration time.Duration) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(FileStatusUpdateMsg{
			Path:     path,
			Status:   status,
			Message:  message,
			Duration: duration,
		})
		return nil
	}

	if h.verboseEnabled {
		logLevel := slog.LevelDebug
		logMsg := "File status updated"
		attrs := []any{
			slog.String("path", path),
			slog.String("status", string(status)),
		}
		if duration > 0 {
			attrs = append(attrs, slog.Duration("duration", duration))
		}
		if message != "" {
			logKey := "message"
			if status == ingest.StatusFailed {
				logKey = "error"
			}
			attrs = append(attrs, slog.String(logKey, message))
		}
		switch status {
		case ingest.StatusPublished, ingest.StatusSkipped:
			logLevel = slog.LevelInfo
		case ingest.StatusFailed:
			logLevel = slog.LevelError
			logMsg = "File processing failed"
		}
		h.logger.Log(context.Background(), logLevel, logMsg, attrs...)
		return nil
	}

	// Quiet mode: the producer already logs failures; nothing else is shown per file.
	return nil
}

// OnRunComplete implements ingest.Hooks.
func (h *CLIHooks) OnRunComplete(report ingest.Report) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunCompleteMsg{Report: report})
	}
	return nil
}

// ForwardProgress relays snapshots from ch to the TUI until ch is closed or ctx is done.
// Without a TUI, snapshots are logged at Debug when verbose.
func (h *CLIHooks) ForwardProgress(ctx context.Context, ch <-chan progress.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if h.tuiEnabled {
				h.tuiProgram.Send(ProgressMsg{Snapshot: snap})
				continue
			}
			if h.verboseEnabled {
				h.logger.Debug("Progress",
					slog.Int("accepted", snap.Accepted),
					slog.Int("skipped", snap.Skipped),
					slog.Int("totalRemaining", snap.TotalRemaining),
					slog.Bool("final", snap.Final))
			}
		}
	}
}

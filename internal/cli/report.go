package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/stackvity/stack-ingest/pkg/ingest"
)

// WriteReport renders report as human-readable text or indented JSON.
func WriteReport(w io.Writer, report ingest.Report, format ingest.OutputFormat) error {
	if format == ingest.OutputFormatJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := io.WriteString(w, formatTextReport(report))
	return err
}

func runState(s ingest.ReportSummary) string {
	switch {
	case s.FatalError != "":
		return "failed"
	case s.Cancelled:
		return "cancelled"
	case s.Done:
		return "done"
	default:
		return "incomplete"
	}
}

func formatTextReport(report ingest.Report) string {
	s := report.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Ingest run %s\n", runState(s))
	fmt.Fprintf(&b, "  Root:            %s\n", s.RootPath)
	if s.ProfileUsed != "" {
		fmt.Fprintf(&b, "  Profile:         %s\n", s.ProfileUsed)
	}
	fmt.Fprintf(&b, "  Algorithm:       %s\n", s.HashAlgorithm)
	fmt.Fprintf(&b, "  Discovered:      %d\n", s.Discovered)
	fmt.Fprintf(&b, "  Accepted:        %d\n", s.Accepted)
	fmt.Fprintf(&b, "  Skipped:         %d (failed: %d)\n", s.Skipped, s.Failed)
	fmt.Fprintf(&b, "  Total remaining: %d\n", s.TotalRemaining)
	if s.CacheEnabled {
		fmt.Fprintf(&b, "  Cache hits:      %d\n", s.CacheHits)
	}
	fmt.Fprintf(&b, "  Duration:        %.2fs\n", s.DurationSeconds)
	if s.FatalError != "" {
		fmt.Fprintf(&b, "  Fatal error:     %s\n", s.FatalError)
	}

	if len(report.Categories) > 0 {
		names := make([]string, 0, len(report.Categories))
		for name := range report.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("  Categories:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "    %-10s %d\n", name+":", report.Categories[name])
		}
	}

	if len(report.Errors) > 0 {
		b.WriteString("  Errors:\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "    %s: %s\n", e.Path, e.Error)
		}
	}
	return b.String()
}

package progress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/dhcgn/ost-export/stats"
)

// Enabled resolves the --progress mode. "auto" shows progress only at info
// level when stdout is a terminal, so debug logs and pipes stay clean.
func Enabled(mode, logLevel string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	return logLevel == "info" && term.IsTerminal(int(os.Stdout.Fd()))
}

// Spinner shows the folder being exported and running counts.
type Spinner struct {
	sp      *pterm.SpinnerPrinter
	mu      sync.Mutex
	enabled bool

	folder  string
	scanned int
	written int
	skipped int
}

// New starts a spinner when enabled is true.
func New(enabled bool) *Spinner {
	s := &Spinner{enabled: enabled}
	if enabled {
		sp, err := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Exporting messages")
		if err != nil {
			s.enabled = false
			return s
		}
		s.sp = sp
	}
	return s
}

// Update advances the counters based on the event type.
func (s *Spinner) Update(evt stats.Event) {
	if !s.enabled || s.sp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		s.scanned++
		if evt.Folder != "" {
			s.folder = evt.Folder
		}
	case stats.EventTypeWritten:
		s.written++
	case stats.EventTypeSkipped, stats.EventTypeFiltered:
		s.skipped++
	case stats.EventTypeError:
		// Errors are printed above the spinner
		if evt.Err != nil {
			pterm.Error.Printf("%s: %v\n", evt.Folder, evt.Err)
		}
		return
	default:
		return
	}

	folder := s.folder
	if len(folder) > 40 {
		folder = "..." + folder[len(folder)-37:]
	}
	s.sp.UpdateText(fmt.Sprintf("%s: %d scanned, %d written, %d skipped", folder, s.scanned, s.written, s.skipped))
}

// Stop finalizes the spinner.
func (s *Spinner) Stop() {
	if !s.enabled || s.sp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.sp.Stop()
	pterm.Success.Printf("Exported %d of %d messages\n", s.written, s.scanned)
}

// Subscriber creates a stats subscriber function that updates the spinner.
func (s *Spinner) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			s.Update(evt)
		}
	}
}

// ProgressReporter prints a summary section once the run ends.
type ProgressReporter struct {
	spinner   *Spinner
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes the spinner and a summary printer when the
// spinner is enabled.
func NewProgressReporter(stream stats.EventStream, spinner *Spinner, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		spinner:   spinner,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if spinner != nil && spinner.enabled {
		stream.SubscribeStats("progress-spinner", spinner.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Built: %d (fallback documents: %d)\n", summary.Built, summary.Fallbacks)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Written: %d\n", summary.Written)
	pterm.Info.Printf("Skipped: %d\n", summary.Skipped)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	if len(summary.Folders) > 0 {
		pterm.DefaultSection.Println("Top folders")
		stats.PrettyPrintTop(summary.Folders, 10)
	}

	return nil
}

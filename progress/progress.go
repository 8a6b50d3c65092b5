package progress

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/oft-to-eml/stats"
)

// Bar manages a progress bar for tracking template conversion. The bar
// advances once per scanned template, so the total is the number of
// template files discovered up front.
type Bar struct {
	pb             *pterm.ProgressbarPrinter
	total          int
	currentScanned int
	mu             sync.Mutex
	enabled        bool
}

// New creates a new progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		// Create progress bar with total steps
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Converting templates").
			Start()

		bar.pb = pb

		// Show initial status
		pterm.Info.Printf("Templates found: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update increments the progress bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.currentScanned++
		// Update progress for each scanned template
		b.pb.Increment()

		// Update title with current file name (truncated)
		if evt.Source != "" {
			display := filepath.Base(evt.Source)
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			b.pb.UpdateTitle("Converting: " + display)
		}
	case stats.EventTypeStored, stats.EventTypeDryRunStore:
		// Don't print individual success messages - let progress bar handle it
		// This keeps the output clean
	case stats.EventTypeDuplicate, stats.EventTypeFiltered:
		// Don't print individual skip messages - let progress bar handle it
		// The final stats will show totals
	case stats.EventTypeError:
		// Show error messages above the progress bar
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ensure we reach 100%
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	b.pb.Stop()
	pterm.Success.Println("Conversion complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter wraps the stats Reporter with progress bar functionality.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter creates a new progress reporter with optional progress bar.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		// Subscribe both the progress bar and the stats collector
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

// collectStats collects statistics and prints final summary.
func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	// Print final summary after progress bar stops
	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	if pr.logger != nil {
		// Print summary using pterm for nice formatting
		pterm.Println()
		pterm.DefaultSection.Println("Summary Statistics")
		pterm.Info.Printf("Duration: %v\n", duration)
		pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
		pterm.Info.Printf("Enqueued: %d\n", summary.Enqueued)
		pterm.Info.Printf("Converted: %d\n", summary.Converted)
		pterm.Info.Printf("Stored: %d\n", summary.Stored)
		pterm.Info.Printf("Dry-run stored: %d\n", summary.DryRunStored)
		pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
		pterm.Info.Printf("Filtered (skipped): %d\n", summary.Filtered)
		pterm.Info.Printf("Errors: %d\n", summary.Errors)
		if summary.LastError != nil {
			pterm.Error.Printf("Last error: %v\n", summary.LastError)
		}
	}

	return nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/storygen/pkg/support/xsync"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the commandline display of stats.
var maxUpdateFrequency = time.Millisecond * 200

// ProgressBar displays the progress of a batch job (scoring documents, sampling stories) along with
// a table of statistics, redrawn asynchronously.
type ProgressBar struct {
	bar       *progressbar.ProgressBar
	unit      string
	startTime time.Time

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	numLinesPrinted  int
	updates          chan int
	drawLoopDone     *xsync.Latch
	closeOnce        sync.Once

	mu             sync.Mutex
	done, tokens   int64
	extraMetricFns []ExtraMetricFn
}

// NewProgressBar creates a ProgressBar for total items (e.g. documents), counted in unit, writing to w.
// If total is < 0 the total is unknown and a spinner is shown.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func NewProgressBar(w io.Writer, total int, unit string, extraMetrics ...ExtraMetricFn) *ProgressBar {
	pBar := &ProgressBar{
		unit:           unit,
		startTime:      time.Now(),
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(w),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		updates:        make(chan int, 100), // Large buffer so things are not blocked.
		drawLoopDone:   xsync.NewLatch(),
		extraMetricFns: extraMetrics,
	}
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(w),
	)
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	go pBar.drawLoop(w)
	return pBar
}

// Add reports n more items done, with the given number of tokens processed.
// It is safe to call it concurrently.
func (pBar *ProgressBar) Add(n int, tokens int) {
	pBar.mu.Lock()
	pBar.done += int64(n)
	pBar.tokens += int64(tokens)
	pBar.mu.Unlock()
	pBar.updates <- n
}

// Done finishes the progress bar, waiting for the pending updates to be drawn.
// Extra calls are ignored.
func (pBar *ProgressBar) Done() {
	pBar.closeOnce.Do(func() {
		close(pBar.updates)
		pBar.drawLoopDone.Wait()
		_ = pBar.bar.Finish()
		pBar.termenv.ShowCursor()
		_, _ = fmt.Fprintln(pBar.termenv)
	})
}

// drawLoop asynchronously draws updates: handy if the work is faster than the terminal.
func (pBar *ProgressBar) drawLoop(w io.Writer) {
	defer pBar.drawLoopDone.Trigger()
	for amount := range pBar.updates {
		// Exhaust the updates in the buffer:
	exhaust:
		for {
			select {
			case more, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += more
			default:
				break exhaust
			}
		}

		// Create the table to be printed.
		pBar.mu.Lock()
		done, tokens := pBar.done, pBar.tokens
		pBar.mu.Unlock()
		elapsed := time.Since(pBar.startTime)
		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row(pBar.unit, humanize.Comma(done))
		pBar.statsTable.Row("tokens", humanize.Comma(tokens))
		pBar.statsTable.Row("tokens/s", fmt.Sprintf("%.1f", float64(tokens)/max(elapsed.Seconds(), 1e-9)))
		pBar.statsTable.Row("elapsed", FormatDuration(elapsed))
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// Clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(pBar.numLinesPrinted)
		}
		pBar.isFirstOutput = false

		// Print update.
		rendered := pBar.statsStyle.Render(pBar.statsTable.String())
		_, _ = fmt.Fprintln(w, rendered)
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(w)
		pBar.numLinesPrinted = lipgloss.Height(rendered) + 1
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

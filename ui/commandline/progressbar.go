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
const maxUpdateFrequency = time.Millisecond * 200

// ProgressBar displays the progress of a long task, e.g. the evaluation of many texts, along with a table
// of statistics that is refreshed asynchronously, so the task is not slowed down by a slow terminal.
//
// Add is safe for concurrent use.
type ProgressBar struct {
	w        io.Writer
	total    int
	unit     string
	start    time.Time
	bar      *progressbar.ProgressBar
	finished bool

	// Only accessed by the drawing goroutine.
	numDone, lastNumLines int

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan int
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// NewProgressBar creates and displays a progress bar in w for total items, named unit (e.g. "texts").
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
//
// Call Finish when the task is done.
func NewProgressBar(w io.Writer, total int, unit string, extraMetrics ...ExtraMetricFn) *ProgressBar {
	pBar := &ProgressBar{
		w:              w,
		total:          total,
		unit:           unit,
		start:          time.Now(),
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(w),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		updates:        make(chan int, 100), // Large buffer so things are not blocked.
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
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates()
	return pBar
}

// Add reports amount more items done.
func (pBar *ProgressBar) Add(amount int) {
	pBar.updates <- amount
}

// Finish waits for the pending updates to be displayed and restores the terminal cursor.
// It can be called more than once.
func (pBar *ProgressBar) Finish() {
	if pBar.finished {
		return
	}
	pBar.finished = true
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.w)
}

// drawUpdates asynchronously: this is handy if the task is faster than the terminal, in particular
// if running on cloud, with a relatively slow network connection.
func (pBar *ProgressBar) drawUpdates() {
	defer pBar.asyncUpdatesDone.Done()
	for amount := range pBar.updates {
		// Exhaust the updates in the buffer:
	exhaust:
		for {
			select {
			case newAmount, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newAmount
			default:
				break exhaust
			}
		}
		pBar.numDone += amount

		// Create the table to be printed.
		elapsed := time.Since(pBar.start)
		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Done", fmt.Sprintf("%s of %s %s",
			humanize.Comma(int64(pBar.numDone)), humanize.Comma(int64(pBar.total)), pBar.unit))
		pBar.statsTable.Row("Elapsed", FormatDuration(elapsed))
		numRows := 2
		if pBar.numDone > 0 {
			pBar.statsTable.Row("Mean duration", FormatDuration(elapsed/time.Duration(pBar.numDone)))
			numRows++
		}
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
			numRows++
		}

		// For command-line, we clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(pBar.lastNumLines)
		}
		pBar.isFirstOutput = false
		// Table rows, its top and bottom borders and the progress bar line.
		pBar.lastNumLines = numRows + 3

		// Print update.
		_, _ = fmt.Fprintln(pBar.w, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprint(pBar.w, "\033[J\n")
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

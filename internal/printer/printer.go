// Package printer formats warren CLI output. Colors are disabled by NO_COLOR.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dyluth/warren/internal/loader"
	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Stdout and Stderr are where output goes. Tests swap them for buffers.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// Success prints a message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints a message in the default color.
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a message in yellow with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stdout, msg)
}

// Step prints a step of a multi-step operation.
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a title, an explanation and numbered suggestions to Stderr and returns
// an error carrying only the title, for Cobra (which is silenced).
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}

// Outcome prints one script's load result.
func Outcome(path string, outcome loader.Outcome, err error) {
	switch outcome {
	case loader.OutcomeFailed:
		red.Fprintf(Stdout, "✗ %s", path)
		if err != nil {
			fmt.Fprintf(Stdout, "\n    %v", err)
		}
		fmt.Fprintln(Stdout)
	case loader.OutcomeCached:
		faint.Fprintf(Stdout, "· %s (cached)\n", path)
	default:
		green.Fprintf(Stdout, "✓ %s", path)
		fmt.Fprintf(Stdout, " (%s)\n", outcome)
	}
}

// Statistics prints the totals of a load pass.
func Statistics(stats loader.Statistics) {
	line := fmt.Sprintf("%d compiled, %d cached, %d precompiled, %d failed in %s\n",
		stats.Compiled, stats.Cached, stats.Precompiled, stats.Failed, stats.Duration.Round(time.Microsecond))
	if stats.Failed > 0 {
		yellow.Fprint(Stdout, line)
		return
	}
	green.Fprint(Stdout, line)
}

// Table prints rows under a header with aligned columns.
func Table(header []string, rows [][]string) {
	w := tabwriter.NewWriter(Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// Package printer renders operator-facing messages: progress notes on
// stdout and rich, colored error reports on stderr.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// Output destinations. Tests swap these for buffers.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

func init() {
	// Keep colors when piped (e.g. through tee); NO_COLOR turns them off.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a green message prefixed with a checkmark.
func Success(format string, a ...any) {
	green.Fprintf(Stdout, "✓ %s", strings.TrimPrefix(fmt.Sprintf(format, a...), "✓ "))
}

// Info prints an uncolored message.
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a yellow message to stderr prefixed with a warning sign.
func Warning(format string, a ...any) {
	yellow.Fprintf(Stderr, "⚠️  %s", strings.TrimPrefix(fmt.Sprintf(format, a...), "⚠️  "))
}

// Step prints a cyan progress step.
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a title, an explanation and suggested fixes to stderr, and
// returns an error carrying only the title. Commands return it with
// SilenceErrors set so the report is not printed twice.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with a block of key/value details, printed in
// key order.
func ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(Stderr)
		for _, k := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

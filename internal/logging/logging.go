// Package logging builds the structured logger shared by every component.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Options configures New.
type Options struct {
	Verbose bool
	// NoColor disables ANSI colors. NO_COLOR in the environment also does.
	NoColor bool
}

// New returns a tint-backed slog logger writing to w. Info is the default
// level; Verbose enables debug output.
func New(w io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    opts.NoColor || os.Getenv("NO_COLOR") != "",
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

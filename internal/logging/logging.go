// Package logging builds the process logger: JSON records on stdout and,
// when a file is configured, a size-rotated copy on disk.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for LOG_FILE.
const (
	maxSizeMB  = 50
	maxBackups = 5
	maxAgeDays = 28
)

// New returns a JSON logger at level writing to stdout and, when file is
// set, to a rotated file. The returned closer flushes and closes the file.
func New(level, file string) (*slog.Logger, io.Closer) {
	return build(os.Stdout, level, file)
}

func build(stdout io.Writer, level, file string) (*slog.Logger, io.Closer) {
	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(stdout, lj)
		closer = lj
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With("service", "magnetron"), closer
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

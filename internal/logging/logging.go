// Package logging builds the process logger: a charm console handler for
// people and, optionally, a rotating JSON file for machines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "charm.land/log/v2"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rand/chatbattery/internal/config"
)

// Prefix tags every console line.
const Prefix = "chatbattery"

// Options configures New.
type Options struct {
	Config config.LogConfig

	// Debug forces the debug level regardless of Config.Level.
	Debug bool

	// Console receives human-readable output, usually stderr.
	Console io.Writer
}

// New builds a logger from opts. The returned closer flushes and closes the
// log file, if any; it is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Config.Level)
	if err != nil {
		return nil, nil, err
	}
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handlers []slog.Handler
	if opts.Console != nil {
		console := charmlog.NewWithOptions(opts.Console, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Prefix:          Prefix,
			Level:           charmlog.Level(level),
		})
		handlers = append(handlers, console)
	}

	var closer io.Closer = nopCloser{}
	if opts.Config.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.Config.File,
			MaxSize:    opts.Config.MaxSizeMB,
			MaxBackups: opts.Config.MaxBackups,
			MaxAge:     opts.Config.MaxAgeDays,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}))
		closer = rotator
	}

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closer, nil
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty means
// info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Package logging builds the logr.Logger handed to every component. It is
// backed by zerolog: a console writer on a terminal, JSON lines otherwise,
// optionally into a rotating file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is auto, console or json.
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"
}

// New creates the process logger. Without a file it writes to stderr.
func New(cfg Config) (logr.Logger, error) {
	if cfg.File == "" {
		return NewWithWriter(cfg, os.Stderr, IsTerminal()), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return logr.Discard(), fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    orDefault(cfg.MaxSizeMB, 10),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		Compress:   true,
	}
	return NewWithWriter(cfg, w, false), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewWithWriter creates a logger writing to w. terminal selects the console
// format when Format is auto.
func NewWithWriter(cfg Config, w io.Writer, terminal bool) logr.Logger {
	zl := zerolog.New(w)

	console := cfg.Format == "console" || (cfg.Format != "json" && terminal)
	if console {
		zl = zl.Output(zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    !terminal || !isColorTerminal(),
			TimeFormat: time.RFC3339,
		})
	}

	zl = zl.Level(ParseLevel(cfg.Level))
	zl = zl.With().Caller().Timestamp().Logger()
	return zerologr.New(&zl)
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return level
}

func IsTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func isColorTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return true
}

// IsContextCancellation reports whether err comes from a cancelled or
// expired context.
func IsContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorIfNotCanceled logs err unless it is a context cancellation.
func ErrorIfNotCanceled(log logr.Logger, err error, msg string, keysAndValues ...any) {
	if err != nil && !IsContextCancellation(err) {
		log.Error(err, msg, keysAndValues...)
	}
}

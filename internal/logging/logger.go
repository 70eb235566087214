// Package logging provides the component-scoped key/value logger used across
// the gateway. All loggers share one logrus backend configured by Setup.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var base = newBase()

func newBase() *log.Logger {
	l := log.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&Formatter{})
	l.SetLevel(log.InfoLevel)
	return l
}

// Config controls the shared backend.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	File       string // optional path; rotated by lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup applies cfg to every logger, including ones created earlier.
func Setup(cfg Config) error {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		base.SetFormatter(&Formatter{})
	case "json":
		base.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		base.SetOutput(io.MultiWriter(os.Stdout, rotator))
	} else {
		base.SetOutput(os.Stdout)
	}
	return nil
}

// SetOutput redirects the shared backend, mainly for tests. A nil writer
// restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	base.SetOutput(w)
}

// Logger is a component-prefixed structured logger.
type Logger struct {
	entry *log.Entry
}

// NewLogger creates a logger whose lines carry component.
func NewLogger(component string) *Logger {
	return &Logger{entry: base.WithField(componentKey, component)}
}

// With returns a child logger that always includes keyvals.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(keyvals))}
}

func (l *Logger) Debug(msg string, keyvals ...any) {
	l.entry.WithFields(fields(keyvals)).Debug(msg)
}

func (l *Logger) Info(msg string, keyvals ...any) {
	l.entry.WithFields(fields(keyvals)).Info(msg)
}

func (l *Logger) Warn(msg string, keyvals ...any) {
	l.entry.WithFields(fields(keyvals)).Warn(msg)
}

func (l *Logger) Error(msg string, keyvals ...any) {
	l.entry.WithFields(fields(keyvals)).Error(msg)
}

// fields converts alternating key/value pairs. A trailing key without a
// value is kept under "!BADKEY" rather than dropped.
func fields(keyvals []any) log.Fields {
	if len(keyvals) == 0 {
		return nil
	}
	f := make(log.Fields, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			f["!BADKEY"] = key
			break
		}
		value := keyvals[i+1]
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		f[key] = value
	}
	return f
}

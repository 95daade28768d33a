// logger.go - Structured logging for the daemon
package main

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Logger bundles the root logger with the files it writes to.
type Logger struct {
	zerolog.Logger
	files []*os.File
}

// auditWriter forwards warn and above to the audit sink.
type auditWriter struct {
	w io.Writer
}

func (a auditWriter) Write(p []byte) (int, error) {
	return a.w.Write(p)
}

func (a auditWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return a.w.Write(p)
}

// NewLogger builds the root logger from cfg. Console output goes to out.
func NewLogger(cfg LoggingConfig, out io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	console := out
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	writers := []io.Writer{console}

	if cfg.File != "" {
		f, err := openAppend(cfg.File)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	if cfg.AuditFile != "" {
		f, err := openAppend(cfg.AuditFile)
		if err != nil {
			l.Close()
			return nil, errors.Wrap(err, "open audit file")
		}
		l.files = append(l.files, f)
		writers = append(writers, auditWriter{w: f})
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Audit records a security relevant event. It always reaches the audit sink.
func (l *Logger) Audit(event string, fields map[string]any) {
	l.Warn().Str("audit", event).Fields(fields).Msg("audit event")
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

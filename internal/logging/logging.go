package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields = logrus.Fields

// Config selects level, output format and an optional rotated log file.
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	return l
}

// InitFromEnv configures the logger from LOG_LEVEL (debug|info|warn|error),
// LOG_FORMAT (text|json) and LOG_FILE.
func InitFromEnv() {
	Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		File:   os.Getenv("LOG_FILE"),
	})
}

// Init applies cfg to the process logger.
func Init(cfg Config) {
	base.SetLevel(parseLevel(cfg.Level))

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}

	if cfg.File == "" {
		base.SetOutput(os.Stderr)
		return
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 14
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
	base.SetOutput(io.MultiWriter(os.Stderr, rotated))
}

func parseLevel(raw string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetOutput redirects log output; tests use it to capture lines.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// With returns an entry tagged with the emitting component.
func With(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// WithFields returns an entry carrying the given fields.
func WithFields(f Fields) *logrus.Entry {
	return base.WithFields(f)
}

func Debugf(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	base.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	base.Fatalf(format, args...)
}

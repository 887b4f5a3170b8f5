package core

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var once sync.Once

type logger struct {
	*log.Logger
	file *lumberjack.Logger
}

var singleton *logger

// LoggerConfig controls the process-wide logger. A zero value logs debug output to stderr.
type LoggerConfig struct {
	Level        string
	ReportCaller bool
	// File, when set, receives a copy of every line and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func newLogger(cfg LoggerConfig) *logger {
	var out io.Writer = os.Stderr
	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stderr, file)
	}
	l := log.NewWithOptions(out, log.Options{
		ReportCaller:    cfg.ReportCaller,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "Anima 🏎️ ",
	})
	l.SetLevel(parseLevel(cfg.Level))
	return &logger{Logger: l, file: file}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.DebugLevel
	}
}

// InitializeLogger configures the logger. Only the first call (or the first log line,
// whichever happens first) has any effect.
func InitializeLogger(cfg LoggerConfig) {
	once.Do(func() {
		singleton = newLogger(cfg)
	})
}

// ShutdownLogger flushes and closes the rotating file sink, if any.
func ShutdownLogger() error {
	if singleton != nil && singleton.file != nil {
		return singleton.file.Close()
	}
	return nil
}

func getLogger() *logger {
	once.Do(func() {
		singleton = newLogger(LoggerConfig{ReportCaller: true})
	})
	return singleton
}

// LogWith returns a sub-logger tagged with a component name for structured key/value logging.
func LogWith(component string) *log.Logger {
	return getLogger().With("component", component)
}

// LogDebug and friends take a message followed by alternating keys and values.
func LogDebug(msg string, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Debug(msg, keyvals...)
}

func LogInfo(msg string, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Info(msg, keyvals...)
}

func LogWarn(msg string, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Warn(msg, keyvals...)
}

func LogError(msg string, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Error(msg, keyvals...)
}

func LogFatal(msg string, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Fatal(msg, keyvals...)
}

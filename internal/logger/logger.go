package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel           = LevelInfo
	format                 = "text"
	output       io.Writer = os.Stdout
	outputFile   *os.File
	logger       = newSlogLogger(output, format)
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level that is emitted. Unknown names are ignored.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetFormat selects "text" or "json" output. Unknown formats are ignored.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()

	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return
	}
	format = f
	logger = newSlogLogger(output, format)
}

// SetOutput redirects log lines to "stdout", "stderr" or a file path
// (opened in append mode).
func SetOutput(dest string) error {
	var w io.Writer
	var file *os.File

	switch strings.ToLower(dest) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", dest, err)
		}
		w = f
		file = f
	}

	setWriter(w, file)
	return nil
}

// SetWriter redirects log lines to an arbitrary writer. Mostly useful in tests.
func SetWriter(w io.Writer) {
	setWriter(w, nil)
}

func setWriter(w io.Writer, file *os.File) {
	mu.Lock()
	defer mu.Unlock()

	if outputFile != nil {
		_ = outputFile.Close()
	}
	outputFile = file
	output = w
	logger = newSlogLogger(output, format)
}

func newSlogLogger(w io.Writer, f string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if f == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	if level < currentLevel {
		mu.RUnlock()
		return
	}
	l := logger
	mu.RUnlock()

	l.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

// IsDebug reports whether debug lines are currently emitted, so callers can
// skip building expensive log arguments.
func IsDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel <= LevelDebug
}

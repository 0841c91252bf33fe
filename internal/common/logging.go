package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = log.New(os.Stderr, "[bolt] ", log.LstdFlags|log.Lmicroseconds)
	debug  atomic.Bool
)

// LogConfig controls the rotating log file.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

// Debugf logs only when the configured level is debug or trace.
func Debugf(format string, args ...interface{}) {
	if debug.Load() {
		logger.Printf("debug: "+format, args...)
	}
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// SetOutput redirects the package logger, mainly for tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel enables debug output for "debug" and "trace".
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		debug.Store(true)
	default:
		debug.Store(false)
	}
}

// SetupLogging mirrors log output to stdout and a rotating file. It also
// points the standard library logger at the same writer.
func SetupLogging(cfg LogConfig) (io.Closer, error) {
	SetLevel(cfg.Level)
	if cfg.Directory == "" {
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := cfg.Filename
	if name == "" {
		name = "bolt.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	out := io.MultiWriter(os.Stdout, rotator)
	logger.SetOutput(out)
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

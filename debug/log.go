// Package debug routes logs to ~/.config/go-melody/debug.log, since the
// TUI owns the terminal.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	file    *os.File
	logger  = zap.NewNop()
	mu      sync.Mutex
	enabled bool
)

// Path returns the debug log location
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-melody", "debug.log"), nil
}

// Enable starts debug logging to ~/.config/go-melody/debug.log
func Enable() error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	logPath, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	file = f
	logger = New(f, zapcore.DebugLevel)
	enabled = true

	logger.Info("=== Debug logging started ===")
	return nil
}

// New builds a console-encoded logger writing to f.
func New(f *os.File, level zapcore.Level) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(f), level)
	return zap.New(core)
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	logger.Sync()
	if file != nil {
		file.Close()
		file = nil
	}
	logger = zap.NewNop()
	enabled = false
}

// Logger returns the debug logger, or a no-op logger when disabled.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Log writes a message to the debug log
func Log(category, format string, args ...any) {
	Logger().Named(category).Debug(fmt.Sprintf(format, args...))
}

// LogEvery logs only every N calls (use for high-frequency events)
var counters = make(map[string]int)

func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

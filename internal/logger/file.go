package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logFilePermissions restricts session logs to the operator.
const logFilePermissions = 0o600

// NewWithFile creates a logger that writes to the console like New and
// additionally appends JSON records to a timestamped file in dir.
// It returns the logger, the file path and a close function that flushes
// and closes the file.
func NewWithFile(level zapcore.LevelEnabler, dir string, options ...zap.Option) (*zap.SugaredLogger, string, func() error, error) {
	if level == nil {
		level = defaultLevel
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("imgcast-%s.log", time.Now().Format("20060102-150405")))

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return nil, "", nil, fmt.Errorf("open log file: %w", err)
	}

	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level)

	console := New(level, options...).Desugar()
	l := zap.New(zapcore.NewTee(console.Core(), fileCore), options...).Sugar()

	closeFn := func() error {
		// Sync errors on files are not actionable at shutdown.
		_ = l.Sync()

		return file.Close()
	}

	return l, path, closeFn, nil
}

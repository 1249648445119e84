// Package build provides the shared logging backend used by every package
// in this module, following the subsystem-logger convention from
// daemon/log.go in the teacher repo: one btclog.Backend, many named
// sub-loggers, rotated to disk through jrick/logrotate.
package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter muxes log output to both the rotator (once initialized) and, by
// default, stdout so a node started without InitLogRotator still logs
// somewhere useful.
type LogWriter struct {
	RotatorPipe io.Writer
}

func (w *LogWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.RotatorPipe != nil {
		return w.RotatorPipe.Write(p)
	}
	return len(p), nil
}

var (
	logWriter  = &LogWriter{}
	backendLog = btclog.NewBackend(logWriter)
	logRotator *rotator.Rotator
)

// NewSubLogger creates a logger for the named subsystem backed by the
// shared backend.
func NewSubLogger(subsystem string) btclog.Logger {
	return backendLog.Logger(subsystem)
}

// InitLogRotator initializes the log rotation described by logFile,
// splitting into maxLogFiles of maxLogFileSize megabytes each. Must be
// called before any subsystem logger is used if on-disk logs are desired;
// otherwise subsystem loggers still work, writing only to stdout.
func InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return err
	}
	logRotator = r
	logWriter.RotatorPipe = r
	return nil
}

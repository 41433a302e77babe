package logging

import (
	"os"

	"pkt.systems/pslog"

	"github.com/arloliu/rota/types"
)

// PsLogger implements types.Logger on top of pslog, the structured logger
// used by the rotad daemon.
type PsLogger struct {
	logger pslog.Logger
}

var _ types.Logger = (*PsLogger)(nil)

// NewPslog wraps a pslog.Logger. A nil logger falls back to pslog.NoopLogger().
func NewPslog(logger pslog.Logger) *PsLogger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	return &PsLogger{logger: logger}
}

// Subsystem returns a child logger tagged with sys=<name>.
func (l *PsLogger) Subsystem(name string) *PsLogger {
	return &PsLogger{logger: l.logger.With("sys", name)}
}

// Unwrap returns the underlying pslog.Logger.
func (l *PsLogger) Unwrap() pslog.Logger { return l.logger }

func (l *PsLogger) Debug(msg string, keysAndValues ...any) { l.logger.Debug(msg, keysAndValues...) }
func (l *PsLogger) Info(msg string, keysAndValues ...any) { l.logger.Info(msg, keysAndValues...) }
func (l *PsLogger) Warn(msg string, keysAndValues ...any) { l.logger.Warn(msg, keysAndValues...) }
func (l *PsLogger) Error(msg string, keysAndValues ...any) { l.logger.Error(msg, keysAndValues...) }

// Fatal logs at error level and exits the process.
func (l *PsLogger) Fatal(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
	os.Exit(1) //nolint:revive // Fatal should exit the program
}

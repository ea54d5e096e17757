package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender routes entries through tb.Log so output is attributed to the running test and
// only shown when it fails or runs with -v.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that logs to tb.
func NewTestAppender(tb testing.TB) Appender {
	return testAppender{tb: tb}
}

func (app testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	app.tb.Helper()
	line, err := formatEntry(entry, fields)
	app.tb.Log(line)
	return err
}

func (app testAppender) Sync() error {
	return nil
}

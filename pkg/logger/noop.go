package logger

// noopLogger 空日志实现，用于未注入日志时的默认值
type noopLogger struct{}

// Noop 返回空日志实现
func Noop() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

func (n noopLogger) Named(name string) Logger { return n }

func (n noopLogger) WithFields(keysAndValues ...interface{}) Logger { return n }

func (noopLogger) Sync() error { return nil }

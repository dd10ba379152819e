package logger

import "context"

// Entry carries metric fields (duration_ms, count, ...) for a single log line.
// Example: logger.With(logger.Fields{logger.FieldDurationMs: 1234}).Info(ctx, "Batch finished")
type Entry struct {
	fields Fields
}

// With creates a new Entry with the given metric fields.
func With(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// WithField adds a single field to the Entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	merged := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		merged[k] = v
	}
	merged[key] = value
	return &Entry{fields: merged}
}

// WithDuration adds a duration_ms field to the Entry.
func (e *Entry) WithDuration(ms int64) *Entry {
	return e.WithField(FieldDurationMs, ms)
}

// Debug logs at Debug level with metric fields.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Debugf(format, args...)
}

// Info logs at Info level with metric fields.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Infof(format, args...)
}

// Warn logs at Warn level with metric fields.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Warnf(format, args...)
}

// Error logs at Error level with metric fields.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Errorf(format, args...)
}

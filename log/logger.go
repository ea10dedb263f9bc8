// Package log provides structured logging with worker context.
//
// Two logger variants are available:
//   - Logger: non-sugared zap.Logger for the runtime data plane (high
//     performance, structured fields).
//   - SugaredLogger: printf-style logging for CLI/inspect surfaces
//     (convenience over performance).
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WorkerMeta identifies the worker process and, where applicable, the
// query/pipeline this logger is scoped to. PipelineID and QueryID are
// empty for worker-level loggers (e.g. the transport or buffer manager)
// and populated for pipeline-scoped loggers.
type WorkerMeta struct {
	WorkerID   string
	QueryID    string
	PipelineID string
}

// Logger provides structured logging with worker context. All log entries
// include worker identity fields.
//
// Use this for data-plane paths where performance matters. For CLI/inspect
// surfaces, use Sugar() to get a SugaredLogger.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI and inspect
// surfaces. Wraps zap.SugaredLogger with worker context.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger with worker context. Output defaults to
// os.Stderr.
func NewLogger(meta WorkerMeta) *Logger {
	return newLoggerWithWriter(meta, os.Stderr)
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

// With returns a Logger with additional static context fields merged in,
// e.g. an operator id or partition key.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{zap: l.zap.With(zap.Any("fields", fields))}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func newLoggerWithWriter(meta WorkerMeta, w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)

	contextFields := []zap.Field{
		zap.String("worker_id", meta.WorkerID),
	}
	if meta.QueryID != "" {
		contextFields = append(contextFields, zap.String("query_id", meta.QueryID))
	}
	if meta.PipelineID != "" {
		contextFields = append(contextFields, zap.String("pipeline_id", meta.PipelineID))
	}

	zapLogger := zap.New(core).With(contextFields...)
	return &Logger{zap: zapLogger}
}

func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }
func (l *Logger) Info(message string, fields map[string]any)  { l.zap.Info(message, zap.Any("fields", fields)) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.zap.Warn(message, zap.Any("fields", fields)) }
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }
func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}

package audit

import (
	"context"
	"log/slog"
)

// LogRecorder writes entries to a structured logger. Successful
// invocations log at Info, failures at Warn.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder wraps an existing slog logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, e *Entry) error {
	attrs := []slog.Attr{
		slog.String("id", e.ID),
		slog.Time("timestamp", e.Timestamp),
		slog.String("plugin_id", e.PluginID),
		slog.String("method", e.Method),
		slog.Bool("success", e.Success),
		slog.Duration("elapsed", e.Elapsed),
		slog.Int64("memory_bytes", e.MemoryBytes),
		slog.Int64("instructions", e.Instructions),
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.WorkerID != 0 {
		attrs = append(attrs, slog.Int("worker_id", e.WorkerID))
	}
	if e.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", e.ErrorKind))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	if len(e.Logs) > 0 {
		attrs = append(attrs, slog.Int("log_lines", len(e.Logs)))
	}

	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	r.logger.LogAttrs(ctx, level, "plugin invocation", attrs...)
	return nil
}

var _ Recorder = (*LogRecorder)(nil)

// FileConfig controls the rotating audit log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FileRecorder writes JSON entries to a size-rotated log file.
type FileRecorder struct {
	*LogRecorder
	writer *rotatingWriter
}

// NewFileRecorder opens (or creates) the audit log file at cfg.Path.
func NewFileRecorder(cfg FileConfig) (*FileRecorder, error) {
	writer, err := newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &FileRecorder{
		LogRecorder: NewLogRecorder(slog.New(handler)),
		writer:      writer,
	}, nil
}

// Close flushes and closes the underlying log file.
func (r *FileRecorder) Close() error {
	return r.writer.Close()
}

var _ Recorder = (*FileRecorder)(nil)

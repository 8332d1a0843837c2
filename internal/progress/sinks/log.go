package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-crawler/internal/progress"
)

// LogSink writes one structured log line per event. Chapter completions are
// logged at debug level so long works do not flood the console.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("work_id", evt.WorkID),
		}
		if evt.Chapter != "" {
			fields = append(fields,
				zap.String("chapter", evt.Chapter),
				zap.String("strategy", evt.Strategy),
				zap.Int("attempts", evt.Attempts),
				zap.Int64("chars", evt.Chars),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageChapterDone, progress.StageCheckpoint:
			s.logger.Debug("progress event", fields...)
		case progress.StageChapterFailed, progress.StageWorkError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

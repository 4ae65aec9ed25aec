// Package sinks provides Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/progress"
)

// LogSink writes one structured log line per event. Run boundaries log at
// info; per-URL events at debug so a default production run stays quiet.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			fields = append(fields, zap.Int("total", evt.Total))
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
			s.logger.Info("progress event", fields...)
		default:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("status", string(evt.Status)),
				zap.Int("current", evt.Current),
				zap.Int("total", evt.Total),
				zap.Int("links", evt.Links),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("progress event", fields...)
		}
	}
	return nil
}

func (s *LogSink) Close(context.Context) error {
	return nil
}

package sink

import (
	"context"

	"Go2NetSensor/internal/model"

	"go.uber.org/zap"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, events []model.Event) error {
	for i := range events {
		ev := &events[i]
		fields := []zap.Field{
			zap.String("kind", string(ev.Kind)),
			zap.String("semantic_code", ev.SemanticCode),
			zap.Uint32("raw_code", ev.RawCode),
			zap.Stringer("flow", ev.Flow),
			zap.Time("ts", ev.Timestamp),
		}
		if ev.InterfaceID != "" {
			fields = append(fields, zap.String("interface", ev.InterfaceID))
		}
		if ev.Transition != nil {
			fields = append(fields,
				zap.String("from", ev.Transition.From),
				zap.String("to", ev.Transition.To),
				zap.String("reason", ev.Transition.Reason))
		}
		if ev.Orphan {
			fields = append(fields, zap.Bool("orphan", true))
		}
		if ev.Tainted {
			fields = append(fields, zap.Bool("tainted", true))
		}
		s.logger.Info("Event", fields...)
	}
	return nil
}

func (s *LogSink) Close() error {
	// Sync fails on terminals; nothing to report.
	_ = s.logger.Sync()
	return nil
}

package sink

import (
	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/factory"
	"Go2NetSensor/internal/model"

	"go.uber.org/zap"
)

func init() {
	factory.RegisterSink("log", func(_ *config.Config, logger *zap.Logger) (model.Sink, error) {
		return NewLogSink(logger), nil
	})
	factory.RegisterSink("jsonl", func(cfg *config.Config, _ *zap.Logger) (model.Sink, error) {
		s, err := NewJSONLSink(cfg.Sinks.JSONL.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	factory.RegisterSink("clickhouse", func(cfg *config.Config, logger *zap.Logger) (model.Sink, error) {
		s, err := NewClickHouseSink(cfg.Sinks.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

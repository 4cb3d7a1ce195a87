package factory

import (
	"errors"
	"fmt"
	"sort"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/model"

	"go.uber.org/zap"
)

// SinkFactory builds one sink from the configuration.
type SinkFactory func(cfg *config.Config, logger *zap.Logger) (model.Sink, error)

// registry holds the mapping of sink names to their factory functions.
var registry = make(map[string]SinkFactory)

// RegisterSink registers a sink type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered lists the registered sink names in order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds every sink enabled in cfg. Sinks already opened are closed
// again if a later one fails.
func Create(cfg *config.Config, logger *zap.Logger) ([]model.Sink, error) {
	var sinks []model.Sink
	for _, name := range cfg.Sinks.EnabledSinks() {
		logger.Info("Creating sink", zap.String("sink", name))

		factory, ok := registry[name]
		if !ok {
			return nil, errors.Join(fmt.Errorf("unknown sink type: '%s'", name), closeAll(sinks))
		}

		sink, err := factory(cfg, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("error creating sink '%s': %w", name, err), closeAll(sinks))
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func closeAll(sinks []model.Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sink '%s': %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

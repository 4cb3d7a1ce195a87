package factory

import (
	"context"
	"errors"
	"testing"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stubSink struct {
	name   string
	closed bool
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Write(context.Context, []model.Event) error { return nil }

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func withRegistry(t *testing.T, factories map[string]SinkFactory) {
	t.Helper()
	saved := registry
	registry = make(map[string]SinkFactory)
	for name, f := range factories {
		RegisterSink(name, f)
	}
	t.Cleanup(func() { registry = saved })
}

func TestCreateEnabledSinks(t *testing.T) {
	logSink := &stubSink{name: "log"}
	withRegistry(t, map[string]SinkFactory{
		"log":   func(*config.Config, *zap.Logger) (model.Sink, error) { return logSink, nil },
		"jsonl": func(*config.Config, *zap.Logger) (model.Sink, error) { return &stubSink{name: "jsonl"}, nil },
	})

	cfg := config.Default()
	cfg.Sinks.Log.Enabled = true

	sinks, err := Create(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Same(t, logSink, sinks[0])
	assert.Equal(t, []string{"jsonl", "log"}, Registered())
}

func TestCreateClosesOnFailure(t *testing.T) {
	logSink := &stubSink{name: "log"}
	withRegistry(t, map[string]SinkFactory{
		"log":   func(*config.Config, *zap.Logger) (model.Sink, error) { return logSink, nil },
		"jsonl": func(*config.Config, *zap.Logger) (model.Sink, error) { return nil, errors.New("disk full") },
	})

	cfg := config.Default()
	cfg.Sinks.Log.Enabled = true
	cfg.Sinks.JSONL.Enabled = true

	_, err := Create(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "disk full")
	assert.True(t, logSink.closed)

	cfg.Sinks.NATS.Enabled = true
	cfg.Sinks.JSONL.Enabled = false
	_, err = Create(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown sink type: 'nats'")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	withRegistry(t, nil)
	RegisterSink("log", nil)
	assert.Panics(t, func() { RegisterSink("log", nil) })
}

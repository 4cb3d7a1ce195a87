package probe

import (
	"context"
	"encoding/json"
	"fmt"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/factory"
	"Go2NetSensor/internal/model"
	"Go2NetSensor/internal/sink"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	factory.RegisterSink("nats", func(cfg *config.Config, logger *zap.Logger) (model.Sink, error) {
		p, err := NewPublisher(cfg.Sinks.NATS, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Publisher is an event sink that publishes events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSSinkConfig, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ns-sensor"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger = logger.Named("nats")
	logger.Info("Connected to NATS server", zap.String("url", cfg.URL), zap.String("subject", cfg.Subject))
	return &Publisher{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// EncodeEvent serializes an event record as a protobuf Struct.
func EncodeEvent(ev *model.Event) ([]byte, error) {
	raw, err := json.Marshal(sink.NewRecord(ev))
	if err != nil {
		return nil, err
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return proto.Marshal(&st)
}

func (p *Publisher) Name() string { return "nats" }

// Write publishes one message per event and flushes the connection.
func (p *Publisher) Write(ctx context.Context, events []model.Event) error {
	for i := range events {
		data, err := EncodeEvent(&events[i])
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if err := p.nc.Publish(p.subject, data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		return err
	}
	p.logger.Info("NATS connection drained and closed.")
	return nil
}

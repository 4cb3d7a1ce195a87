package probe

import (
	"fmt"

	"Go2NetSensor/internal/config"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RecordHandler processes one received event record.
type RecordHandler func(rec *structpb.Struct)

// Subscriber is responsible for subscribing to a NATS subject and processing messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.Logger
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSSinkConfig, logger *zap.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger = logger.Named("nats")
	logger.Info("Connected to NATS server", zap.String("url", cfg.URL))
	return &Subscriber{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// DecodeRecord parses a message produced by EncodeEvent.
func DecodeRecord(data []byte) (*structpb.Struct, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Start subscribes to the subject and hands each record to handler.
func (s *Subscriber) Start(handler RecordHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		rec, err := DecodeRecord(msg.Data)
		if err != nil {
			s.logger.Warn("Error unmarshalling protobuf", zap.Error(err))
			return
		}
		handler(rec)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed, waiting for events", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed.")
	}
}

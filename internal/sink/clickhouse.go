package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS darknet_events (
    Timestamp      DateTime64(6),
    Interface      LowCardinality(String),
    Kind           LowCardinality(String),
    SemanticCode   LowCardinality(String),
    RawCode        UInt32,
    Protocol       UInt8,
    SrcIP          String,
    DstIP          String,
    SrcPort        UInt16,
    DstPort        UInt16,
    TransitionFrom LowCardinality(String),
    TransitionTo   LowCardinality(String),
    Reason         LowCardinality(String),
    Orphan         Bool,
    Tainted        Bool,
    PayloadLength  UInt32,
    PayloadSHA1    String,
    Details        String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Kind, SemanticCode, Timestamp);
`

// ClickHouseSink inserts events into the darknet_events table.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and ensures the table exists.
func NewClickHouseSink(cfg config.ClickHouseSinkConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger = logger.Named("clickhouse")
	logger.Info("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseSink{conn: conn, logger: logger}, nil
}

func connect(cfg config.ClickHouseSinkConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Write inserts the batch in a single round trip.
func (s *ClickHouseSink) Write(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO darknet_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range events {
		row, err := eventRow(&events[i])
		if err != nil {
			return err
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	s.logger.Debug("Wrote events to ClickHouse", zap.Int("count", len(events)))
	return nil
}

// eventRow returns the column values of one event in table order.
func eventRow(ev *model.Event) ([]any, error) {
	details, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event details: %w", err)
	}
	var from, to, reason string
	if ev.Transition != nil {
		from, to, reason = ev.Transition.From, ev.Transition.To, ev.Transition.Reason
	}
	var payloadLen uint32
	var payloadSHA1 string
	if ev.Payload != nil {
		payloadLen = uint32(ev.Payload.Length)
		payloadSHA1 = ev.Payload.SHA1
	}
	return []any{
		ev.Timestamp,
		ev.InterfaceID,
		string(ev.Kind),
		ev.SemanticCode,
		ev.RawCode,
		ev.Flow.Protocol,
		ev.Flow.SrcIP.String(),
		ev.Flow.DstIP.String(),
		ev.Flow.SrcPort,
		ev.Flow.DstPort,
		from,
		to,
		reason,
		ev.Orphan,
		ev.Tainted,
		payloadLen,
		payloadSHA1,
		string(details),
	}, nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

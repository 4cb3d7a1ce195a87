// Package capture reads frames from live network interfaces.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/model"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const DefaultTimeout = 100 * time.Millisecond

// DeliverFunc receives every captured frame.
type DeliverFunc func(model.Frame) bool

// LiveSource captures frames from one interface.
type LiveSource struct {
	handle   *pcap.Handle
	iface    string
	linkType layers.LinkType
	logger   *zap.Logger
}

// OpenLive opens a live capture with the snap length set to the sensor
// buffer size.
func OpenLive(iface string, cfg config.SensorConfig, logger *zap.Logger) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, int32(cfg.BufferSize), cfg.Promiscuous, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture on %s: %w", iface, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set BPF filter %q: %w", cfg.BPFFilter, err)
		}
	}
	logger = logger.Named("capture").With(zap.String("interface", iface))
	logger.Info("Capture opened",
		zap.Stringer("link_type", handle.LinkType()),
		zap.Int("snaplen", cfg.BufferSize),
		zap.Bool("promiscuous", cfg.Promiscuous))
	return &LiveSource{handle: handle, iface: iface, linkType: handle.LinkType(), logger: logger}, nil
}

// Interface returns the interface name.
func (s *LiveSource) Interface() string { return s.iface }

// LinkType returns the link layer type of the interface.
func (s *LiveSource) LinkType() layers.LinkType { return s.linkType }

// Run reads frames until ctx is cancelled or the handle is closed.
func (s *LiveSource) Run(ctx context.Context, deliver DeliverFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := s.handle.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
			return nil
		default:
			return fmt.Errorf("read from %s: %w", s.iface, err)
		}
		deliver(model.Frame{
			Data:        data,
			Timestamp:   ci.Timestamp,
			InterfaceID: s.iface,
			LinkType:    s.linkType,
		})
	}
}

// Stats returns the kernel capture statistics.
func (s *LiveSource) Stats() (received, dropped int, err error) {
	stats, err := s.handle.Stats()
	if err != nil {
		return 0, 0, err
	}
	return stats.PacketsReceived, stats.PacketsDropped, nil
}

// Close stops the capture.
func (s *LiveSource) Close() {
	if received, dropped, err := s.Stats(); err == nil {
		s.logger.Info("Capture closed", zap.Int("received", received), zap.Int("kernel_dropped", dropped))
	}
	s.handle.Close()
}

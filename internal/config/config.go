package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
	"gopkg.in/yaml.v3"
)

// SensorConfig describes where frames come from and which addresses are watched.
type SensorConfig struct {
	BindInterfaces []string `yaml:"bind_interfaces"`
	MonitoredCIDRs []string `yaml:"monitored_cidrs"`
	BufferSize     int      `yaml:"buffer_size"`
	LinkType       string   `yaml:"link_type"`
	BPFFilter      string   `yaml:"bpf_filter"`
	Promiscuous    bool     `yaml:"promiscuous"`

	prefixes []netip.Prefix
}

// EngineConfig holds the worker pool and flow table settings.
type EngineConfig struct {
	NumWorkers         int    `yaml:"num_workers"`
	NumShards          int    `yaml:"num_shards"`
	ChannelSize        int    `yaml:"channel_size"`
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds"`
	SweepInterval      string `yaml:"sweep_interval"`
	ICMPCloseGrace     string `yaml:"icmp_close_grace"`
	ClosedLinger       string `yaml:"closed_linger"`
	MaxFlowsPerShard   int    `yaml:"max_flows_per_shard"`
	Backpressure       string `yaml:"backpressure"`
	Clock              string `yaml:"clock"`

	sweepInterval  time.Duration
	icmpCloseGrace time.Duration
	closedLinger   time.Duration
}

// LogSinkConfig enables the log sink.
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// JSONLSinkConfig writes one JSON record per line. An empty path means stdout.
type JSONLSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NATSSinkConfig publishes events to a NATS subject.
type NATSSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ClickHouseSinkConfig holds the connection details for the ClickHouse sink.
type ClickHouseSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SinksConfig configures event dispatching and the output sinks.
type SinksConfig struct {
	BatchSize        int                  `yaml:"batch_size"`
	FlushInterval    string               `yaml:"flush_interval"`
	EventChannelSize int                  `yaml:"event_channel_size"`
	Log              LogSinkConfig        `yaml:"log"`
	JSONL            JSONLSinkConfig      `yaml:"jsonl"`
	NATS             NATSSinkConfig       `yaml:"nats"`
	ClickHouse       ClickHouseSinkConfig `yaml:"clickhouse"`

	flushInterval time.Duration
}

// DumpConfig enables the forensic pcap dump of frames that failed to parse.
type DumpConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SketchConfig sizes the scanner sketch.
type SketchConfig struct {
	Width       uint32 `yaml:"width"`
	Depth       uint32 `yaml:"depth"`
	Threshold   uint32 `yaml:"threshold"`
	ResetPeriod string `yaml:"reset_period"`

	resetPeriod time.Duration
}

// APIConfig holds the status API listen addresses. Empty disables a listener.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level                   string `yaml:"level"`
	Development             bool   `yaml:"development"`
	DiscardSampleInitial    int    `yaml:"discard_sample_initial"`
	DiscardSampleThereafter int    `yaml:"discard_sample_thereafter"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Sensor  SensorConfig  `yaml:"sensor"`
	Engine  EngineConfig  `yaml:"engine"`
	Sinks   SinksConfig   `yaml:"sinks"`
	Dump    DumpConfig    `yaml:"dump"`
	Sketch  SketchConfig  `yaml:"sketch"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig reads the configuration from a YAML file, fills in defaults and
// validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Sensor.BufferSize == 0 {
		c.Sensor.BufferSize = 9000
	}
	if c.Sensor.LinkType == "" {
		c.Sensor.LinkType = "ethernet"
	}

	e := &c.Engine
	if e.NumWorkers == 0 {
		e.NumWorkers = 4
	}
	if e.NumShards == 0 {
		e.NumShards = 256
	}
	if e.ChannelSize == 0 {
		e.ChannelSize = 10000
	}
	if e.IdleTimeoutSeconds == 0 {
		e.IdleTimeoutSeconds = 300
	}
	if e.SweepInterval == "" {
		e.SweepInterval = "5s"
	}
	if e.ICMPCloseGrace == "" {
		e.ICMPCloseGrace = "0s"
	}
	if e.ClosedLinger == "" {
		e.ClosedLinger = "10s"
	}
	if e.MaxFlowsPerShard == 0 {
		e.MaxFlowsPerShard = 4096
	}
	if e.Backpressure == "" {
		e.Backpressure = "drop"
	}
	if e.Clock == "" {
		e.Clock = "wall"
	}

	s := &c.Sinks
	if s.BatchSize == 0 {
		s.BatchSize = 512
	}
	if s.FlushInterval == "" {
		s.FlushInterval = "1s"
	}
	if s.EventChannelSize == 0 {
		s.EventChannelSize = 10000
	}
	if s.NATS.Subject == "" {
		s.NATS.Subject = "sensor.events"
	}
	if s.ClickHouse.Port == 0 {
		s.ClickHouse.Port = 9000
	}
	if s.ClickHouse.Database == "" {
		s.ClickHouse.Database = "default"
	}

	if c.Dump.Path == "" {
		c.Dump.Path = "dump.pcap"
	}

	if c.Sketch.Width == 0 {
		c.Sketch.Width = 4096
	}
	if c.Sketch.Depth == 0 {
		c.Sketch.Depth = 3
	}
	if c.Sketch.Threshold == 0 {
		c.Sketch.Threshold = 16
	}
	if c.Sketch.ResetPeriod == "" {
		c.Sketch.ResetPeriod = "1h"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.DiscardSampleInitial == 0 {
		c.Logging.DiscardSampleInitial = 10
	}
	if c.Logging.DiscardSampleThereafter == 0 {
		c.Logging.DiscardSampleThereafter = 1000
	}
}

// Validate checks the configuration and caches the parsed values. It is
// called by LoadConfig; call it again after changing fields by hand.
func (c *Config) Validate() error {
	var errs []error

	c.Sensor.prefixes = make([]netip.Prefix, 0, len(c.Sensor.MonitoredCIDRs))
	for _, cidr := range c.Sensor.MonitoredCIDRs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			errs = append(errs, fmt.Errorf("sensor.monitored_cidrs: %w", err))
			continue
		}
		if !p.Addr().Is4() {
			errs = append(errs, fmt.Errorf("sensor.monitored_cidrs: %s is not an IPv4 range", cidr))
			continue
		}
		c.Sensor.prefixes = append(c.Sensor.prefixes, p.Masked())
	}
	if c.Sensor.BufferSize < 34 {
		errs = append(errs, fmt.Errorf("sensor.buffer_size: %d is smaller than an Ethernet and IPv4 header", c.Sensor.BufferSize))
	}
	switch c.Sensor.LinkType {
	case "ethernet", "raw", "linux_sll":
	default:
		errs = append(errs, fmt.Errorf("sensor.link_type: unknown link type %q", c.Sensor.LinkType))
	}

	e := &c.Engine
	if e.NumWorkers < 1 || e.NumShards < 1 || e.ChannelSize < 1 || e.MaxFlowsPerShard < 1 {
		errs = append(errs, errors.New("engine: num_workers, num_shards, channel_size and max_flows_per_shard must be positive"))
	}
	if e.IdleTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("engine.idle_timeout_seconds: %d must be positive", e.IdleTimeoutSeconds))
	}
	errs = appendDuration(errs, "engine.sweep_interval", e.SweepInterval, &e.sweepInterval, true)
	errs = appendDuration(errs, "engine.icmp_close_grace", e.ICMPCloseGrace, &e.icmpCloseGrace, false)
	errs = appendDuration(errs, "engine.closed_linger", e.ClosedLinger, &e.closedLinger, false)
	switch e.Backpressure {
	case "drop", "block":
	default:
		errs = append(errs, fmt.Errorf("engine.backpressure: unknown policy %q", e.Backpressure))
	}
	switch e.Clock {
	case "wall", "capture":
	default:
		errs = append(errs, fmt.Errorf("engine.clock: unknown clock %q", e.Clock))
	}

	s := &c.Sinks
	if s.BatchSize < 1 || s.EventChannelSize < 1 {
		errs = append(errs, errors.New("sinks: batch_size and event_channel_size must be positive"))
	}
	errs = appendDuration(errs, "sinks.flush_interval", s.FlushInterval, &s.flushInterval, true)
	if s.NATS.Enabled && s.NATS.URL == "" {
		errs = append(errs, errors.New("sinks.nats: url is required"))
	}
	if s.ClickHouse.Enabled && s.ClickHouse.Host == "" {
		errs = append(errs, errors.New("sinks.clickhouse: host is required"))
	}

	errs = appendDuration(errs, "sketch.reset_period", c.Sketch.ResetPeriod, &c.Sketch.resetPeriod, true)

	return errors.Join(errs...)
}

func appendDuration(errs []error, field, value string, dst *time.Duration, positive bool) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", field, err))
	}
	if d < 0 || (positive && d == 0) {
		return append(errs, fmt.Errorf("%s: %s out of range", field, value))
	}
	*dst = d
	return errs
}

// Prefixes returns the parsed monitored ranges.
func (s *SensorConfig) Prefixes() []netip.Prefix { return s.prefixes }

// Link returns the link type of captured frames.
func (s *SensorConfig) Link() layers.LinkType {
	switch s.LinkType {
	case "raw":
		return layers.LinkTypeRaw
	case "linux_sll":
		return layers.LinkTypeLinuxSLL
	}
	return layers.LinkTypeEthernet
}

// LinkName returns the link_type value for lt. The bool result is false for
// link types the decoder does not handle.
func LinkName(lt layers.LinkType) (string, bool) {
	switch lt {
	case layers.LinkTypeEthernet:
		return "ethernet", true
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return "raw", true
	case layers.LinkTypeLinuxSLL:
		return "linux_sll", true
	}
	return "", false
}

// IdleTimeout returns the idle timeout as a duration.
func (e *EngineConfig) IdleTimeout() time.Duration {
	return time.Duration(e.IdleTimeoutSeconds) * time.Second
}

// SweepEvery returns the sweeper period.
func (e *EngineConfig) SweepEvery() time.Duration { return e.sweepInterval }

func (e *EngineConfig) ICMPCloseGraceDuration() time.Duration { return e.icmpCloseGrace }

func (e *EngineConfig) ClosedLingerDuration() time.Duration { return e.closedLinger }

// EnabledSinks lists the enabled sinks by registry name.
func (s *SinksConfig) EnabledSinks() []string {
	var names []string
	if s.Log.Enabled {
		names = append(names, "log")
	}
	if s.JSONL.Enabled {
		names = append(names, "jsonl")
	}
	if s.NATS.Enabled {
		names = append(names, "nats")
	}
	if s.ClickHouse.Enabled {
		names = append(names, "clickhouse")
	}
	return names
}

// FlushEvery returns the dispatcher flush interval.
func (s *SinksConfig) FlushEvery() time.Duration { return s.flushInterval }

// ResetEvery returns the length of a scanner measurement window.
func (s *SketchConfig) ResetEvery() time.Duration { return s.resetPeriod }

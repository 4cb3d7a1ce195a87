package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/engine/classifier"
	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/engine/sketch"
	"Go2NetSensor/internal/engine/tracker"
	"Go2NetSensor/internal/factory"
	"Go2NetSensor/internal/metrics"
	"Go2NetSensor/internal/model"
	_ "Go2NetSensor/internal/probe" // Registers the NATS sink
	"Go2NetSensor/internal/probe/persistent"
	_ "Go2NetSensor/internal/sink" // Registers the log, jsonl and clickhouse sinks

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const sinkWriteTimeout = 10 * time.Second

// Dumper receives copies of frames that could not be fully parsed.
type Dumper interface {
	Enqueue(frame model.Frame) bool
	Stop() error
}

// Option customises a Manager.
type Option func(*Manager)

// WithSinks replaces the sinks built from the configuration.
func WithSinks(sinks ...model.Sink) Option {
	return func(m *Manager) { m.sinks = sinks }
}

// WithDumper replaces the forensic dump built from the configuration.
func WithDumper(d Dumper) Option {
	return func(m *Manager) { m.dump = d }
}

type job struct {
	view  *protocol.PacketView
	meta  classifier.Meta
	frame model.Frame
}

// workerClock tracks how far a worker got through its queue in capture time.
type workerClock struct {
	pending atomic.Int64 // queued or in-flight jobs
	last    atomic.Int64 // timestamp of the last finished job
}

// Manager runs the classification pipeline: capture sources hand frames to
// Deliver, workers classify them, and a dispatcher batches the resulting
// events to the sinks.
type Manager struct {
	cfg        *config.Config
	logger     *zap.Logger
	discardLog *zap.Logger
	metrics    *metrics.Metrics

	classifier *classifier.Classifier
	flows      *tracker.Tracker
	scanners   *sketch.ScannerTable
	sinks      []model.Sink
	dump       Dumper
	classify   func(*protocol.PacketView, classifier.Meta) classifier.Outcome

	// Worker pool; shard i belongs to worker i mod len(queues).
	queues   []chan job
	clocks   []workerClock
	block    bool
	workerWg sync.WaitGroup
	// captureTime ages flows by frame timestamps instead of the wall clock.
	captureTime bool

	events     chan model.Event
	dispatchWg sync.WaitGroup

	done      chan struct{}
	sweepNow  chan struct{}
	lastSweep atomic.Int64
	tickerWg  sync.WaitGroup

	mu       sync.RWMutex
	running  bool
	stopped  bool
	stopOnce sync.Once

	captureClock atomic.Int64
	stats        *counters
}

// NewManager creates a new Manager. Sinks and the forensic dump are built
// from cfg unless supplied as options.
func NewManager(cfg *config.Config, logger *zap.Logger, mtr *metrics.Metrics, opts ...Option) (*Manager, error) {
	logger = logger.Named("manager")

	flows := tracker.New(tracker.Config{
		NumShards:        cfg.Engine.NumShards,
		MaxFlowsPerShard: cfg.Engine.MaxFlowsPerShard,
		IdleTimeout:      cfg.Engine.IdleTimeout(),
		ICMPCloseGrace:   cfg.Engine.ICMPCloseGraceDuration(),
		ClosedLinger:     cfg.Engine.ClosedLingerDuration(),
	})
	scanners := sketch.NewScannerTable(cfg.Sketch.Width, cfg.Sketch.Depth, cfg.Sketch.Threshold)
	cls := classifier.New(classifier.Config{
		MonitoredCIDRs: cfg.Sensor.Prefixes(),
		BufferSize:     cfg.Sensor.BufferSize,
	}, flows, scanners)

	sampled := zapcore.NewSamplerWithOptions(logger.Core(), time.Second,
		cfg.Logging.DiscardSampleInitial, cfg.Logging.DiscardSampleThereafter)

	mgr := &Manager{
		cfg:         cfg,
		logger:      logger,
		discardLog:  zap.New(sampled).Named("discard"),
		metrics:     mtr,
		classifier:  cls,
		flows:       flows,
		scanners:    scanners,
		classify:    cls.ClassifyView,
		queues:      make([]chan job, cfg.Engine.NumWorkers),
		clocks:      make([]workerClock, cfg.Engine.NumWorkers),
		block:       cfg.Engine.Backpressure == "block",
		captureTime: cfg.Engine.Clock == "capture",
		events:      make(chan model.Event, cfg.Sinks.EventChannelSize),
		done:        make(chan struct{}),
		sweepNow:    make(chan struct{}, 1),
		stats:       newCounters(),
	}
	for i := range mgr.queues {
		mgr.queues[i] = make(chan job, cfg.Engine.ChannelSize)
	}
	for _, opt := range opts {
		opt(mgr)
	}

	if mgr.sinks == nil {
		sinks, err := factory.Create(cfg, logger)
		if err != nil {
			return nil, err
		}
		mgr.sinks = sinks
	}
	if mgr.dump == nil && cfg.Dump.Enabled {
		w, err := persistent.NewWorker(cfg.Dump, cfg.Sensor.Link(), cfg.Sensor.BufferSize, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to start forensic dump: %w", err), mgr.closeSinks())
		}
		w.OnWrite = mtr.DumpedFrames.Inc
		mgr.dump = w
	}
	return mgr, nil
}

// Start begins the workers, the dispatcher, the sweeper and the scanner
// window resetter.
func (m *Manager) Start() {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.dispatchWg.Add(1)
	go m.dispatch()

	m.tickerWg.Add(2)
	go m.runSweeper()
	go m.runResetter()

	m.workerWg.Add(len(m.queues))
	for i, q := range m.queues {
		go m.worker(i, q)
	}
	m.logger.Info("Manager started",
		zap.Int("workers", len(m.queues)),
		zap.Int("shards", m.flows.NumShards()),
		zap.Int("sinks", len(m.sinks)),
		zap.String("backpressure", m.cfg.Engine.Backpressure),
		zap.String("clock", m.cfg.Engine.Clock))
}

// Deliver hands one captured frame to the pipeline. It never blocks unless
// the backpressure policy is "block", and reports whether the frame was
// queued for classification.
func (m *Manager) Deliver(frame model.Frame) bool {
	m.metrics.FramesReceived.Inc()
	m.metrics.BytesReceived.Add(float64(len(frame.Data)))
	m.stats.frames.Add(1)
	m.observeClock(frame.Timestamp)

	v, reason := m.classifier.Decode(frame)
	if v == nil {
		m.discard(frame, reason)
		return false
	}

	key, ok := m.flows.RoutingKey(v)
	if !ok {
		key = v.Flow()
	}
	q := m.flows.ShardOf(key) % len(m.queues)
	j := job{view: v, meta: classifier.Meta{Timestamp: frame.Timestamp, InterfaceID: frame.InterfaceID}, frame: frame}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return false
	}
	m.clocks[q].pending.Add(1)
	if m.block {
		m.queues[q] <- j
		return true
	}
	select {
	case m.queues[q] <- j:
		return true
	default:
		m.clocks[q].pending.Add(-1)
		m.metrics.FramesDropped.Inc()
		m.stats.dropped.Add(1)
		return false
	}
}

func (m *Manager) observeClock(ts time.Time) {
	n := ts.UnixNano()
	for {
		cur := m.captureClock.Load()
		if n <= cur || m.captureClock.CompareAndSwap(cur, n) {
			return
		}
	}
}

// kickSweep asks the sweeper for a pass each time the workers have caught up
// a full sweep interval of capture time. Replay runs far faster than the
// wall ticker.
func (m *Manager) kickSweep() {
	now, ok := m.now()
	if !ok {
		return
	}
	n := now.UnixNano()
	last := m.lastSweep.Load()
	if last == 0 {
		m.lastSweep.CompareAndSwap(0, n)
		return
	}
	if n-last < int64(m.cfg.Engine.SweepEvery()) || !m.lastSweep.CompareAndSwap(last, n) {
		return
	}
	select {
	case m.sweepNow <- struct{}{}:
	default:
	}
}

// now returns the time used for sweeping. With the capture clock it is the
// latest capture time every worker has caught up to, so a sweep never
// overtakes frames still queued. The bool result is false when some worker
// has not finished its first frame yet.
func (m *Manager) now() (time.Time, bool) {
	if !m.captureTime {
		return time.Now(), true
	}
	n := m.captureClock.Load()
	if n == 0 {
		return time.Now(), true
	}
	for i := range m.clocks {
		c := &m.clocks[i]
		if c.pending.Load() == 0 {
			continue
		}
		last := c.last.Load()
		if last == 0 {
			return time.Time{}, false
		}
		n = min(n, last)
	}
	return time.Unix(0, n), true
}

func (m *Manager) discard(frame model.Frame, reason string) {
	m.metrics.Discarded.WithLabelValues(reason).Inc()
	m.stats.discard(reason)
	m.discardLog.Debug("Frame discarded",
		zap.String("reason", reason),
		zap.String("interface", frame.InterfaceID),
		zap.Int("len", len(frame.Data)))
	if m.dump != nil && reason != classifier.ReasonUnmonitored {
		m.dump.Enqueue(frame)
	}
}

func (m *Manager) worker(id int, q <-chan job) {
	defer m.workerWg.Done()
	clock := &m.clocks[id]
	for j := range q {
		m.process(id, j)
		if ts := j.meta.Timestamp.UnixNano(); ts > clock.last.Load() {
			clock.last.Store(ts)
		}
		clock.pending.Add(-1)
		if m.captureTime {
			m.kickSweep()
		}
	}
}

func (m *Manager) process(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			lost := 0
			for s := id; s < m.flows.NumShards(); s += len(m.queues) {
				lost += m.flows.ResetShard(s)
			}
			m.metrics.ShardResets.Inc()
			m.stats.resets.Add(1)
			m.logger.Error("Recovered from classification panic, worker shards reset",
				zap.Int("worker", id),
				zap.Int("flows_lost", lost),
				zap.Any("panic", r))
		}
	}()

	out := m.classify(j.view, j.meta)
	if out.Tainted {
		m.metrics.Tainted.Inc()
		m.stats.tainted.Add(1)
		if m.dump != nil {
			m.dump.Enqueue(j.frame)
		}
	}
	switch out.Kind {
	case classifier.OutcomeDiscarded:
		m.discard(j.frame, out.Reason)
	case classifier.OutcomeEvent:
		for _, ev := range out.Events {
			m.emit(ev, m.block)
		}
	}
}

func (m *Manager) emit(ev model.Event, block bool) {
	m.metrics.Events.WithLabelValues(string(ev.Kind)).Inc()
	m.stats.events.Add(1)
	if ev.Transition != nil {
		m.metrics.Transitions.WithLabelValues(ev.Transition.To).Inc()
	}
	if ev.Orphan {
		m.metrics.Orphans.Inc()
	}
	if block {
		m.events <- ev
		return
	}
	select {
	case m.events <- ev:
	default:
		m.metrics.EventsDropped.Inc()
		m.stats.eventsDropped.Add(1)
	}
}

func (m *Manager) runSweeper() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.cfg.Engine.SweepEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.sweepNow:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) sweep() {
	now, ok := m.now()
	if !ok {
		return
	}
	trs := m.flows.Sweep(now)
	for _, ev := range classifier.TransitionEvents(trs, "") {
		m.emit(ev, true)
	}
	m.metrics.ActiveFlows.Set(float64(m.flows.Len()))
	if len(trs) > 0 {
		m.logger.Debug("Sweep finished", zap.Int("transitions", len(trs)))
	}
}

// runResetter starts a new scanner measurement window periodically.
func (m *Manager) runResetter() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.cfg.Sketch.ResetEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.scanners.Reset()
			m.logger.Info("Scanner window reset")
		case <-m.done:
			return
		}
	}
}

func (m *Manager) dispatch() {
	defer m.dispatchWg.Done()
	ticker := time.NewTicker(m.cfg.Sinks.FlushEvery())
	defer ticker.Stop()

	size := m.cfg.Sinks.BatchSize
	batch := make([]model.Event, 0, size)
	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				m.writeBatch(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= size {
				m.writeBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				m.writeBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (m *Manager) writeBatch(batch []model.Event) {
	if len(batch) == 0 {
		return
	}
	for _, s := range m.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		err := s.Write(ctx, batch)
		cancel()
		if err != nil {
			m.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			m.logger.Warn("Sink write failed", zap.String("sink", s.Name()), zap.Int("events", len(batch)), zap.Error(err))
			continue
		}
		m.metrics.SinkWrites.WithLabelValues(s.Name()).Add(float64(len(batch)))
	}
}

// Stop gracefully shuts down the manager: intake stops, queued frames are
// classified, remaining flows are flushed as evicted and every event is
// written before the sinks are closed.
func (m *Manager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		m.logger.Info("Manager stopping...")
		// 1. Stop accepting new frames.
		m.mu.Lock()
		m.stopped = true
		for _, q := range m.queues {
			close(q)
		}
		m.mu.Unlock()

		// 2. Wait for the workers to drain their queues.
		m.workerWg.Wait()

		// 3. Stop the sweeper and resetter, then flush the flow table.
		close(m.done)
		m.tickerWg.Wait()
		now, _ := m.now()
		trs := m.flows.Flush(now, tracker.ReasonShutdown)
		events := classifier.TransitionEvents(trs, "")
		m.mu.RLock()
		running := m.running
		m.mu.RUnlock()
		if running {
			for _, ev := range events {
				m.emit(ev, true)
			}
		}
		m.metrics.ActiveFlows.Set(0)

		// 4. Let the dispatcher write what is left.
		close(m.events)
		m.dispatchWg.Wait()

		// 5. Release outputs.
		err = m.closeSinks()
		if m.dump != nil {
			err = errors.Join(err, m.dump.Stop())
		}
		m.logger.Info("Manager stopped.", zap.Int("flushed_flows", len(trs)))
	})
	return err
}

func (m *Manager) closeSinks() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sink '%s': %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Running reports whether the pipeline accepts frames.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running && !m.stopped
}

// Flows returns a snapshot of the live flow table.
func (m *Manager) Flows() []tracker.Flow { return m.flows.Snapshot() }

// TopScanners returns the busiest probe sources of the current window.
func (m *Manager) TopScanners(limit int) []sketch.Scanner { return m.scanners.Top(limit) }

// Package persistent writes frames that could not be fully parsed to a pcap
// file for later inspection.
package persistent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

const defaultChannelSize = 10000

// Worker owns the dump file and a single writer goroutine, so records land
// in the order they were enqueued.
type Worker struct {
	frames   chan model.Frame
	file     *os.File
	writer   *pcapgo.Writer
	linkType layers.LinkType
	logger   *zap.Logger
	wg       sync.WaitGroup
	once     sync.Once
	mu       sync.RWMutex
	stopped  bool

	// OnDrop is called for frames dropped because the queue was full.
	OnDrop func()
	// OnWrite is called after each frame is written.
	OnWrite func()
}

// NewWorker creates the dump file and starts the writer goroutine.
func NewWorker(cfg config.DumpConfig, linkType layers.LinkType, snaplen int, logger *zap.Logger) (*Worker, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dump directory: %w", err)
		}
	}
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(uint32(snaplen), linkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	w := &Worker{
		frames:   make(chan model.Frame, defaultChannelSize),
		file:     file,
		writer:   writer,
		linkType: linkType,
		logger:   logger.Named("dump"),
	}
	w.wg.Add(1)
	go w.run()
	w.logger.Info("Forensic dump started", zap.String("path", cfg.Path), zap.Stringer("link_type", linkType))
	return w, nil
}

func (w *Worker) run() {
	defer w.wg.Done()
	for frame := range w.frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     frame.Timestamp,
			CaptureLength: len(frame.Data),
			Length:        len(frame.Data),
		}
		if err := w.writer.WritePacket(ci, frame.Data); err != nil {
			w.logger.Warn("Error writing frame", zap.Error(err))
			continue
		}
		if w.OnWrite != nil {
			w.OnWrite()
		}
	}
}

// Enqueue queues a copy of the frame without blocking. It reports whether
// the frame was accepted. Frames of another link type than the file's are
// refused.
func (w *Worker) Enqueue(frame model.Frame) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped || frame.LinkType != w.linkType {
		return false
	}
	frame.Data = append([]byte(nil), frame.Data...)
	select {
	case w.frames <- frame:
		return true
	default:
		if w.OnDrop != nil {
			w.OnDrop()
		}
		return false
	}
}

// Stop drains the queue and closes the file.
func (w *Worker) Stop() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		close(w.frames)
		w.mu.Unlock()
		w.wg.Wait()
		err = w.file.Close()
		w.logger.Info("Forensic dump stopped")
	})
	return err
}

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"Go2NetSensor/internal/model"
)

// JSONLSink writes one JSON record per line.
type JSONLSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink appends to the file at path, or writes to stdout when path
// is empty.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return newJSONLSink(os.Stdout, nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return newJSONLSink(f, f), nil
}

func newJSONLSink(w io.Writer, closer io.Closer) *JSONLSink {
	bw := bufio.NewWriter(w)
	return &JSONLSink{w: bw, enc: json.NewEncoder(bw), closer: closer}
}

func (s *JSONLSink) Name() string { return "jsonl" }

// Write encodes the batch and flushes it.
func (s *JSONLSink) Write(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		if err := s.enc.Encode(NewRecord(&events[i])); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return s.w.Flush()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

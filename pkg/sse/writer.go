// Package sse writes Server-Sent Events streams for the realtime gateway.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sse writer is closed")

// Writer writes SSE frames to an HTTP response, flushing after each one.
// It is safe for concurrent use.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWriter wraps w. Headers are only sent by Start.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{
		w:       w,
		flusher: flusher,
	}
}

// Start sends the event-stream headers. Call it once the request is authorised.
func (s *Writer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)

	if s.flusher != nil {
		s.flusher.Flush()
	}

	s.started = true
	return nil
}

// WriteEvent JSON-encodes data and writes it as a named event.
func (s *Writer) WriteEvent(eventName string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.WriteFrame("", eventName, jsonData)
}

// WriteData writes an unnamed event.
func (s *Writer) WriteData(data any) error {
	return s.WriteEvent("", data)
}

// WriteFrame writes already-encoded data with optional id and event fields.
// Multi-line data is split over several data: lines.
func (s *Writer) WriteFrame(id, eventName string, data []byte) error {
	return s.write(func(w io.Writer) error {
		if id != "" {
			if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
				return err
			}
		}
		if eventName != "" {
			if _, err := fmt.Fprintf(w, "event: %s\n", eventName); err != nil {
				return err
			}
		}
		for _, line := range strings.Split(string(data), "\n") {
			if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}

// WriteComment writes a comment line, used as a heartbeat.
func (s *Writer) WriteComment(comment string) error {
	return s.write(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, ": %s\n\n", comment)
		return err
	})
}

// WriteRetry tells the client how long to wait before reconnecting.
func (s *Writer) WriteRetry(ms int) error {
	return s.write(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "retry: %d\n\n", ms)
		return err
	})
}

func (s *Writer) write(fn func(io.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := fn(s.w); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close marks the writer closed. Later writes fail with ErrClosed.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// IsClosed returns whether the writer has been closed.
func (s *Writer) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

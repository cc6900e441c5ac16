package testutil

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// SSEEvent is one parsed Server-Sent Events frame.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
	Retry int
}

// Decode unmarshals the event data as JSON.
func (e SSEEvent) Decode(v any) error {
	return json.Unmarshal([]byte(e.Data), v)
}

// SSEReader reads frames from a live event stream one at a time.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps an event stream body.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{scanner: bufio.NewScanner(r)}
}

// Next blocks until a complete frame arrives. Comment-only frames (heartbeats)
// are skipped. It returns io.EOF when the stream ends.
func (r *SSEReader) Next() (SSEEvent, error) {
	var (
		ev      SSEEvent
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData || ev.Event != "" || ev.ID != "" || ev.Retry != 0 {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "":
			// comment
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			ev.ID = value
		case "retry":
			ev.Retry, _ = strconv.Atoi(value)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	return SSEEvent{}, io.EOF
}

// ParseSSE reads every frame of a finished stream.
func ParseSSE(r io.Reader) ([]SSEEvent, error) {
	reader := NewSSEReader(r)
	var events []SSEEvent
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

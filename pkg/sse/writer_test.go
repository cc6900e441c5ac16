package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFlusher is an http.ResponseWriter that also implements http.Flusher
type mockFlusher struct {
	*httptest.ResponseRecorder
	flushCalled int
}

func (m *mockFlusher) Flush() {
	m.flushCalled++
}

func newMockFlusher() *mockFlusher {
	return &mockFlusher{ResponseRecorder: httptest.NewRecorder()}
}

func TestWriterStart(t *testing.T) {
	w := newMockFlusher()
	s := NewWriter(w)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start is a no-op")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, 1, w.flushCalled)
}

func TestWriterFrames(t *testing.T) {
	tests := []struct {
		name  string
		write func(*Writer) error
		want  string
	}{
		{
			name:  "named json event",
			write: func(s *Writer) error { return s.WriteEvent("price:update", map[string]float64{"price": 135.5}) },
			want:  "event: price:update\ndata: {\"price\":135.5}\n\n",
		},
		{
			name:  "data only",
			write: func(s *Writer) error { return s.WriteData([]int{1, 2}) },
			want:  "data: [1,2]\n\n",
		},
		{
			name:  "frame with id",
			write: func(s *Writer) error { return s.WriteFrame("7", "alert:new", []byte(`{"id":"a1"}`)) },
			want:  "id: 7\nevent: alert:new\ndata: {\"id\":\"a1\"}\n\n",
		},
		{
			name:  "multi-line data",
			write: func(s *Writer) error { return s.WriteFrame("", "", []byte("a\nb")) },
			want:  "data: a\ndata: b\n\n",
		},
		{
			name:  "heartbeat comment",
			write: func(s *Writer) error { return s.WriteComment("heartbeat") },
			want:  ": heartbeat\n\n",
		},
		{
			name:  "retry",
			write: func(s *Writer) error { return s.WriteRetry(3000) },
			want:  "retry: 3000\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newMockFlusher()
			s := NewWriter(w)
			require.NoError(t, tt.write(s))
			assert.Equal(t, tt.want, w.Body.String())
			assert.Equal(t, 1, w.flushCalled)
		})
	}
}

func TestWriterUnencodable(t *testing.T) {
	s := NewWriter(newMockFlusher())
	assert.Error(t, s.WriteEvent("x", make(chan int)))
}

func TestWriterClose(t *testing.T) {
	w := newMockFlusher()
	s := NewWriter(w)
	assert.False(t, s.IsClosed())

	s.Close()
	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.WriteEvent("x", 1), ErrClosed)
	assert.ErrorIs(t, s.WriteComment("x"), ErrClosed)
	assert.Empty(t, w.Body.String())
}

func TestWriterWithoutFlusher(t *testing.T) {
	// a plain ResponseWriter still receives the frames
	w := httptest.NewRecorder()
	s := NewWriter(struct{ http.ResponseWriter }{w})
	require.NoError(t, s.WriteEvent("connected", ConnectedEvent{ConnectionID: "c1", UserID: "u1", Rooms: []string{"user:u1"}}))
	assert.Contains(t, w.Body.String(), `"connectionId":"c1"`)
}

package stream

import (
	"errors"
	"net/http"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Emitter receives the events of one session, in order, followed by a single Done
type Emitter interface {
	Emit(ev Event) error
	Done() error
}

// SSEWriter writes events to an HTTP response as server-sent events,
// flushing after every frame.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers on w
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Emit writes one event frame
func (s *SSEWriter) Emit(ev Event) error {
	frame, err := Frame(ev)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// Done writes the sentinel frame
func (s *SSEWriter) Done() error {
	return s.write(sentinelFrame)
}

func (s *SSEWriter) write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EventType tags a stream event
type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Sentinel is the payload of the final frame of every stream
const Sentinel = "[DONE]"

// sentinelFrame is written verbatim after the terminal event
var sentinelFrame = []byte("data: " + Sentinel + "\n\n")

// Event is one server-sent event of a reply stream
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// Frame encodes ev as a single SSE data frame: "data: <json>\n\n"
func Frame(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("data: ")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}

	// Encode appends a newline; the frame needs a blank line after the data line
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// SentinelFrame returns the terminal frame
func SentinelFrame() []byte {
	out := make([]byte, len(sentinelFrame))
	copy(out, sentinelFrame)
	return out
}

// Decode reads frames from r and calls fn for each event until the sentinel.
// It returns io.ErrUnexpectedEOF if r ends before the sentinel arrives.
func Decode(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == Sentinel {
			return nil
		}

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("malformed event %q: %w", data, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

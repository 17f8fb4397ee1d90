package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxSSELineSize bounds a single event-stream line (1 MB).
const maxSSELineSize = 1 * 1024 * 1024

// Event is one server-sent event.
type Event struct {
	Name string // value of the "event:" field, "" when absent
	Data string // "data:" lines joined with newlines
}

// SSEScanner reads server-sent events from r.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner creates an SSEScanner over r.
func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &SSEScanner{scanner: scanner}
}

// Next returns the next event. It returns io.EOF at the end of the stream or on
// the "[DONE]" sentinel.
func (s *SSEScanner) Next() (Event, error) {
	var (
		evt   Event
		lines []string
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if len(lines) > 0 {
				evt.Data = strings.Join(lines, "\n")
				return evt, nil
			}
			evt = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			evt.Name = value
		case "data":
			if strings.TrimSpace(value) == "[DONE]" {
				return Event{}, io.EOF
			}
			lines = append(lines, value)
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("event stream read: %w", err)
	}
	if len(lines) > 0 {
		evt.Data = strings.Join(lines, "\n")
		return evt, nil
	}
	return Event{}, io.EOF
}

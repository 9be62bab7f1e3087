package openai

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 16 * 1024 * 1024
)

// ResponseStream reads Responses API events from an SSE body one at a time.
//
// It is pull-based: the body is only read when Next is called, so a slow
// consumer throttles the upstream connection instead of buffering events.
type ResponseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	current *StreamEvent
	err     error
	done    bool

	closeOnce sync.Once
	closeErr  error
}

// NewResponseStream wraps an SSE body. The stream owns body and closes it
// when exhausted, on error, or on Close.
func NewResponseStream(body io.ReadCloser) *ResponseStream {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, initialScanBuffer)
	scanner.Buffer(buf, maxScanBuffer)

	return &ResponseStream{
		body:    body,
		scanner: scanner,
	}
}

// Next advances to the next event. It returns false at the end of the stream
// or on error; check Err to tell them apart.
func (s *ResponseStream) Next() bool {
	if s.done {
		return false
	}

	var (
		eventName string
		data      []string
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// A blank line dispatches the accumulated event
		if line == "" {
			if len(data) == 0 {
				eventName = ""
				continue
			}
			return s.dispatch(eventName, data)
		}

		// Comments are keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			eventName = value
		case "data":
			data = append(data, value)
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.fail(fmt.Errorf("stream read error: %w", err))
		return false
	}

	// Body ended without a trailing blank line
	if len(data) > 0 {
		return s.dispatch(eventName, data)
	}

	s.finish()
	return false
}

func (s *ResponseStream) dispatch(eventName string, data []string) bool {
	payload := strings.Join(data, "\n")

	// Check for stream end
	if payload == "[DONE]" {
		s.finish()
		return false
	}

	evt, err := ParseStreamEvent([]byte(payload), eventName)
	if err != nil {
		s.fail(err)
		return false
	}
	s.current = evt
	return true
}

// Current returns the event read by the last successful Next.
func (s *ResponseStream) Current() *StreamEvent {
	return s.current
}

// Err returns the error that stopped the stream, if any.
func (s *ResponseStream) Err() error {
	return s.err
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *ResponseStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func (s *ResponseStream) fail(err error) {
	s.err = err
	s.current = nil
	_ = s.Close()
}

func (s *ResponseStream) finish() {
	s.current = nil
	_ = s.Close()
}

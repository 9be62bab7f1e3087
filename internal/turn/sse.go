package turn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
)

// Frame is the envelope sent to the browser for every upstream event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SSEWriter writes one `data: <json>\n\n` frame per event and flushes it.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. If w implements http.Flusher every frame is flushed
// as soon as it is written.
func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// WriteFrame encodes evt as a single SSE frame.
func (s *SSEWriter) WriteFrame(evt *openai.StreamEvent) error {
	var buf bytes.Buffer
	buf.WriteString("data: ")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Frame{Event: evt.Type, Data: evt.Raw}); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	// Encode terminated the JSON with one newline; SSE needs a blank line.
	buf.WriteByte('\n')

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Package eventlog persists the raw request payload and the upstream event log
// of a streamed turn to disk, keyed by the provider's response id.
//
// Layout under the configured directory:
//
//	req-<responseID>.json   pretty-printed request payload
//	resp-<responseID>.json  pretty-printed event records separated by a blank line
package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidResponseID is returned for ids that cannot be used as a file name.
var ErrInvalidResponseID = errors.New("eventlog: invalid response id")

const recordSeparator = "\n\n"

// Writer writes log artifacts into a single directory.
type Writer struct {
	dir string
}

// New returns a Writer for dir, creating it (and its parents) if needed.
func New(dir string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("eventlog: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the directory artifacts are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// RequestPath returns the path of the request artifact for responseID.
func (w *Writer) RequestPath(responseID string) string {
	return filepath.Join(w.dir, "req-"+responseID+".json")
}

// ResponsePath returns the path of the response artifact for responseID.
func (w *Writer) ResponsePath(responseID string) string {
	return filepath.Join(w.dir, "resp-"+responseID+".json")
}

// WriteRequest writes payload, pretty-printed, as the request artifact.
func (w *Writer) WriteRequest(responseID string, payload any) error {
	if err := validateID(responseID); err != nil {
		return err
	}

	data, err := marshalIndent(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}
	if err := os.WriteFile(w.RequestPath(responseID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write request log: %w", err)
	}
	return nil
}

// WriteResponse writes already-formatted records as the response artifact.
func (w *Writer) WriteResponse(responseID string, records [][]byte) error {
	if err := validateID(responseID); err != nil {
		return err
	}

	data := bytes.Join(records, []byte(recordSeparator))
	if err := os.WriteFile(w.ResponsePath(responseID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write response log: %w", err)
	}
	return nil
}

// NewRecorder starts an in-memory buffer of event records for one stream.
func (w *Writer) NewRecorder() *Recorder {
	return &Recorder{w: w}
}

// Recorder accumulates normalized event records until the stream ends.
// It is owned by a single relay and is not safe for concurrent use.
type Recorder struct {
	w       *Writer
	records [][]byte
}

// Append normalizes raw and adds it to the buffer.
func (r *Recorder) Append(raw []byte) error {
	rec, err := Normalize(raw)
	if err != nil {
		return err
	}
	r.records = append(r.records, rec)
	return nil
}

// Len returns the number of buffered records.
func (r *Recorder) Len() int {
	return len(r.records)
}

// WriteRequest writes the request artifact through the underlying Writer.
func (r *Recorder) WriteRequest(responseID string, payload any) error {
	return r.w.WriteRequest(responseID, payload)
}

// Flush writes every buffered record as the response artifact.
func (r *Recorder) Flush(responseID string) error {
	return r.w.WriteResponse(responseID, r.records)
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidResponseID, id)
	}
	return nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

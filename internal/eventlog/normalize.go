package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// leadingKeys are moved to the front of every record, in this order, when present.
var leadingKeys = []string{"type", "sequence_number", "output_index"}

type field struct {
	key   string
	value json.RawMessage
}

// Normalize reorders the top-level keys of a JSON object so that "type",
// "sequence_number" and "output_index" come first (each only if the key is
// present, regardless of its value), followed by the remaining keys in their
// original order. The result is pretty-printed with two-space indentation.
// Nested values are not touched.
func Normalize(raw []byte) ([]byte, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return nil, err
	}

	ordered := make([]field, 0, len(fields))
	used := make(map[string]bool, len(leadingKeys))
	for _, key := range leadingKeys {
		for _, f := range fields {
			if f.key == key {
				ordered = append(ordered, f)
				used[key] = true
				break
			}
		}
	}
	for _, f := range fields {
		if !used[f.key] {
			ordered = append(ordered, f)
		}
	}

	var compact bytes.Buffer
	compact.WriteByte('{')
	for i, f := range ordered {
		if i > 0 {
			compact.WriteByte(',')
		}
		key, err := marshalKey(f.key)
		if err != nil {
			return nil, err
		}
		compact.Write(key)
		compact.WriteByte(':')
		compact.Write(f.value)
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent event record: %w", err)
	}
	return out.Bytes(), nil
}

// objectFields returns the top-level members of a JSON object in document
// order. A repeated key keeps its first position and its last value.
func objectFields(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read event record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("event record is not a JSON object")
	}

	var fields []field
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read event key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in event record", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("failed to read value of %q: %w", key, err)
		}

		if i, seen := index[key]; seen {
			fields[i].value = value
			continue
		}
		index[key] = len(fields)
		fields = append(fields, field{key: key, value: value})
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to read event record: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after event record")
	}
	return fields, nil
}

func marshalKey(key string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

package turn

import (
	"encoding/json"
	"testing"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
)

func decodeMessages(t *testing.T, s string) []openai.Message {
	t.Helper()
	var msgs []openai.Message
	if err := json.Unmarshal([]byte(s), &msgs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return msgs
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty assistant segment dropped",
			input: `[{"role":"assistant","content":[{"type":"output_text","text":""}]}]`,
			want:  `[]`,
		},
		{
			name:  "user messages untouched",
			input: `[{"role":"user","content":"hi"},{"role":"user","content":[{"type":"input_text","text":""}]}]`,
			want:  `[{"role":"user","content":"hi"},{"role":"user","content":[{"type":"input_text","text":""}]}]`,
		},
		{
			name:  "whitespace-only assistant dropped",
			input: `[{"role":"user","content":"q"},{"role":"assistant","content":[{"type":"output_text","text":"  \n"}]},{"role":"user","content":"again"}]`,
			want:  `[{"role":"user","content":"q"},{"role":"user","content":"again"}]`,
		},
		{
			name:  "assistant with any text kept",
			input: `[{"role":"assistant","content":[{"type":"output_text","text":""},{"type":"output_text","text":"answer"}]}]`,
			want:  `[{"role":"assistant","content":[{"type":"output_text","text":""},{"type":"output_text","text":"answer"}]}]`,
		},
		{
			name:  "assistant string content kept",
			input: `[{"role":"assistant","content":"answer"}]`,
			want:  `[{"role":"assistant","content":"answer"}]`,
		},
		{
			name:  "assistant without content dropped",
			input: `[{"role":"assistant"},{"role":"assistant","content":null},{"role":"assistant","content":[]}]`,
			want:  `[]`,
		},
		{
			name:  "non-message items kept in place",
			input: `[{"type":"function_call_output","call_id":"c1","output":"42"},{"role":"assistant","content":[]},{"role":"user","content":"next"}]`,
			want:  `[{"type":"function_call_output","call_id":"c1","output":"42"},{"role":"user","content":"next"}]`,
		},
		{
			name:  "empty input",
			input: `[]`,
			want:  `[]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(decodeMessages(t, tt.input))
			if got == nil {
				t.Fatal("Sanitize() returned nil")
			}
			out, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(out) != tt.want {
				t.Errorf("Sanitize() = %s, want %s", out, tt.want)
			}
		})
	}
}

func TestSanitize_Properties(t *testing.T) {
	input := decodeMessages(t, `[
		{"role":"system","content":"be brief"},
		{"role":"user","content":"one"},
		{"role":"assistant","content":[{"type":"output_text","text":""}]},
		{"role":"assistant","content":[{"type":"output_text","text":"two"}]},
		{"role":"user","content":"three"},
		{"role":"assistant","content":[]}
	]`)

	got := Sanitize(input)

	if len(got) > len(input) {
		t.Fatalf("len(out) = %d > len(in) = %d", len(got), len(input))
	}

	// Output is a subsequence of the input and every dropped message is an
	// assistant message with no text.
	j := 0
	for _, in := range input {
		if j < len(got) && in.Role == got[j].Role && in.Content.PlainText() == got[j].Content.PlainText() {
			j++
			continue
		}
		if in.Role != openai.RoleAssistant || in.Content.HasText() {
			t.Errorf("message %+v was dropped but should be kept", in)
		}
	}
	if j != len(got) {
		t.Errorf("output is not an ordered subsequence of the input")
	}
	if len(got) != 4 {
		t.Errorf("len(out) = %d, want 4", len(got))
	}
}

func TestSanitize_Nil(t *testing.T) {
	got := Sanitize(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Sanitize(nil) = %#v, want empty non-nil slice", got)
	}
}

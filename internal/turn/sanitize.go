// Package turn implements one conversational turn against the Responses API:
// input sanitization, the upstream call, and the SSE relay of its events.
package turn

import "github.com/tjfontaine/responses-relay/internal/api/openai"

// Sanitize drops assistant messages that carry no non-blank text and keeps
// everything else unchanged and in order. The result is never nil.
func Sanitize(msgs []openai.Message) []openai.Message {
	out := make([]openai.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == openai.RoleAssistant && !msg.Content.HasText() {
			continue
		}
		out = append(out, msg)
	}
	return out
}

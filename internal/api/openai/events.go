package openai

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of Responses stream event tags the relay knows.
// Anything else decodes as EventKindUnknown and is still relayed.
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindResponseCreated
	EventKindResponseQueued
	EventKindResponseInProgress
	EventKindResponseCompleted
	EventKindResponseFailed
	EventKindResponseIncomplete
	EventKindOutputItemAdded
	EventKindOutputItemDone
	EventKindContentPartAdded
	EventKindContentPartDone
	EventKindOutputTextDelta
	EventKindOutputTextDone
	EventKindOutputTextAnnotationAdded
	EventKindRefusalDelta
	EventKindRefusalDone
	EventKindFunctionCallArgumentsDelta
	EventKindFunctionCallArgumentsDone
	EventKindFileSearchCallInProgress
	EventKindFileSearchCallSearching
	EventKindFileSearchCallCompleted
	EventKindWebSearchCallInProgress
	EventKindWebSearchCallSearching
	EventKindWebSearchCallCompleted
	EventKindReasoningSummaryPartAdded
	EventKindReasoningSummaryPartDone
	EventKindReasoningSummaryTextDelta
	EventKindReasoningSummaryTextDone
	EventKindError
)

var eventKindsByType = map[string]EventKind{
	"response.created":                       EventKindResponseCreated,
	"response.queued":                        EventKindResponseQueued,
	"response.in_progress":                   EventKindResponseInProgress,
	"response.completed":                     EventKindResponseCompleted,
	"response.failed":                        EventKindResponseFailed,
	"response.incomplete":                    EventKindResponseIncomplete,
	"response.output_item.added":             EventKindOutputItemAdded,
	"response.output_item.done":              EventKindOutputItemDone,
	"response.content_part.added":            EventKindContentPartAdded,
	"response.content_part.done":             EventKindContentPartDone,
	"response.output_text.delta":             EventKindOutputTextDelta,
	"response.output_text.done":              EventKindOutputTextDone,
	"response.output_text.annotation.added":  EventKindOutputTextAnnotationAdded,
	"response.refusal.delta":                 EventKindRefusalDelta,
	"response.refusal.done":                  EventKindRefusalDone,
	"response.function_call_arguments.delta": EventKindFunctionCallArgumentsDelta,
	"response.function_call_arguments.done":  EventKindFunctionCallArgumentsDone,
	"response.file_search_call.in_progress":  EventKindFileSearchCallInProgress,
	"response.file_search_call.searching":    EventKindFileSearchCallSearching,
	"response.file_search_call.completed":    EventKindFileSearchCallCompleted,
	"response.web_search_call.in_progress":   EventKindWebSearchCallInProgress,
	"response.web_search_call.searching":     EventKindWebSearchCallSearching,
	"response.web_search_call.completed":     EventKindWebSearchCallCompleted,
	"response.reasoning_summary_part.added":  EventKindReasoningSummaryPartAdded,
	"response.reasoning_summary_part.done":   EventKindReasoningSummaryPartDone,
	"response.reasoning_summary_text.delta":  EventKindReasoningSummaryTextDelta,
	"response.reasoning_summary_text.done":   EventKindReasoningSummaryTextDone,
	"error":                                  EventKindError,
}

// KindOf maps a wire tag to its EventKind.
func KindOf(eventType string) EventKind {
	if k, ok := eventKindsByType[eventType]; ok {
		return k
	}
	return EventKindUnknown
}

func (k EventKind) String() string {
	for t, kind := range eventKindsByType {
		if kind == k {
			return t
		}
	}
	return "unknown"
}

// IsTerminal reports whether the kind ends a response on the provider side.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventKindResponseCompleted, EventKindResponseFailed, EventKindResponseIncomplete:
		return true
	}
	return false
}

// StreamEvent is one decoded event of a streamed Responses call.
type StreamEvent struct {
	// Type is the tag exactly as the provider sent it.
	Type string
	Kind EventKind

	// SequenceNumber and OutputIndex are nil when the key is absent.
	SequenceNumber *int64
	OutputIndex    *int

	// ResponseID is filled for response-level events that embed the response object.
	ResponseID string

	// Raw is the event payload as received.
	Raw json.RawMessage
}

// ParseStreamEvent decodes one SSE data payload. fallbackType is used when the
// payload carries no "type" key (the SSE "event:" field, if any). Only the
// payload itself must be a JSON object; header fields of an unexpected shape
// are left unset.
func ParseStreamEvent(data []byte, fallbackType string) (*StreamEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("failed to unmarshal event: payload is null")
	}

	evt := &StreamEvent{Raw: append(json.RawMessage(nil), data...)}
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &evt.Type)
	}
	if evt.Type == "" {
		evt.Type = fallbackType
	}
	evt.Kind = KindOf(evt.Type)

	if raw, ok := fields["sequence_number"]; ok {
		var n int64
		if json.Unmarshal(raw, &n) == nil {
			evt.SequenceNumber = &n
		}
	}
	if raw, ok := fields["output_index"]; ok {
		var n int
		if json.Unmarshal(raw, &n) == nil {
			evt.OutputIndex = &n
		}
	}
	if raw, ok := fields["response"]; ok {
		var resp struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &resp) == nil {
			evt.ResponseID = resp.ID
		}
	}
	return evt, nil
}

// Package openai provides the wire types and HTTP client used to talk to the
// OpenAI Responses and Vector Store APIs.
// These types are shared by the frontdoor handlers and the turn relay.
package openai

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tjfontaine/responses-relay/internal/domain"
)

// Role identifies the author of an input message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// Message is one item of the Responses API input list.
//
// The browser may send items the relay does not model (function call
// outputs, reasoning items); the original bytes are kept and re-emitted
// verbatim so nothing is lost on the way upstream.
type Message struct {
	Role    Role
	Content MessageContent

	raw json.RawMessage
}

// MessageContent holds either a plain string or an ordered list of segments.
type MessageContent struct {
	// Text is set when the content was a JSON string.
	Text *string
	// Segments is set when the content was a JSON array.
	Segments []ContentSegment
}

// ContentSegment is one element of an array-valued content field.
type ContentSegment struct {
	Type string
	// Text is nil when the segment has no text field or the field is not a string.
	Text *string
}

// NewTextMessage builds a message whose content is a plain string.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: MessageContent{Text: &text}}
}

// NewSegmentMessage builds a message whose content is a list of input_text segments.
func NewSegmentMessage(role Role, texts ...string) Message {
	segs := make([]ContentSegment, len(texts))
	for i := range texts {
		t := texts[i]
		segs[i] = ContentSegment{Type: "input_text", Text: &t}
	}
	return Message{Role: role, Content: MessageContent{Segments: segs}}
}

// HasText reports whether any part of the content carries non-blank text.
func (c MessageContent) HasText() bool {
	if c.Text != nil {
		return strings.TrimSpace(*c.Text) != ""
	}
	for _, seg := range c.Segments {
		if seg.Text != nil && strings.TrimSpace(*seg.Text) != "" {
			return true
		}
	}
	return false
}

// PlainText concatenates every text fragment of the content, newline separated.
func (c MessageContent) PlainText() string {
	if c.Text != nil {
		return *c.Text
	}
	var parts []string
	for _, seg := range c.Segments {
		if seg.Text != nil {
			parts = append(parts, *seg.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// UnmarshalJSON keeps the original bytes and extracts role and content
// leniently: fields of an unexpected shape are treated as absent.
func (m *Message) UnmarshalJSON(data []byte) error {
	m.raw = append(json.RawMessage(nil), data...)
	m.Role = ""
	m.Content = MessageContent{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// Not an object; forwarded untouched.
		if !json.Valid(data) {
			return err
		}
		return nil
	}

	if rawRole, ok := fields["role"]; ok {
		var role string
		if json.Unmarshal(rawRole, &role) == nil {
			m.Role = Role(role)
		}
	}

	if rawContent, ok := fields["content"]; ok {
		m.Content = parseContent(rawContent)
	}
	return nil
}

func parseContent(data json.RawMessage) MessageContent {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return MessageContent{}
	}

	switch trimmed[0] {
	case '"':
		var text string
		if json.Unmarshal(trimmed, &text) == nil {
			return MessageContent{Text: &text}
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(trimmed, &items) != nil {
			return MessageContent{}
		}
		segs := make([]ContentSegment, 0, len(items))
		for _, item := range items {
			segs = append(segs, parseSegment(item))
		}
		return MessageContent{Segments: segs}
	}
	return MessageContent{}
}

func parseSegment(data json.RawMessage) ContentSegment {
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		return ContentSegment{}
	}

	var seg ContentSegment
	if rawType, ok := fields["type"]; ok {
		_ = json.Unmarshal(rawType, &seg.Type)
	}
	if rawText, ok := fields["text"]; ok {
		var text string
		if json.Unmarshal(rawText, &text) == nil {
			seg.Text = &text
		}
	}
	return seg
}

type wireSegment struct {
	Type string  `json:"type,omitempty"`
	Text *string `json:"text,omitempty"`
}

type wireMessage struct {
	Role    Role `json:"role,omitempty"`
	Content any  `json:"content,omitempty"`
}

// MarshalJSON re-emits the received bytes when present, otherwise the
// role/content pair built in code.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.raw != nil {
		return m.raw, nil
	}

	wm := wireMessage{Role: m.Role}
	switch {
	case m.Content.Text != nil:
		wm.Content = *m.Content.Text
	case m.Content.Segments != nil:
		segs := make([]wireSegment, len(m.Content.Segments))
		for i, seg := range m.Content.Segments {
			segs[i] = wireSegment{Type: seg.Type, Text: seg.Text}
		}
		wm.Content = segs
	}
	return json.Marshal(wm)
}

// ResponseRequest is the payload sent to POST /responses.
type ResponseRequest struct {
	Model             string            `json:"model"`
	Input             []Message         `json:"input"`
	Tools             []json.RawMessage `json:"tools,omitempty"`
	Stream            bool              `json:"stream"`
	ParallelToolCalls bool              `json:"parallel_tool_calls"`
}

// VectorStore is the object returned by GET /vector_stores/{id}.
type VectorStore struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	UsageBytes int64          `json:"usage_bytes"`
	FileCounts FileCounts     `json:"file_counts"`
	CreatedAt  int64          `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	raw json.RawMessage
}

// FileCounts summarizes ingestion progress of a vector store.
type FileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

type vectorStoreAlias VectorStore

func (v *VectorStore) UnmarshalJSON(data []byte) error {
	var alias vectorStoreAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*v = VectorStore(alias)
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (v VectorStore) MarshalJSON() ([]byte, error) {
	if v.raw != nil {
		return v.raw, nil
	}
	return json.Marshal(vectorStoreAlias(v))
}

// VectorStoreFile associates an uploaded file with a vector store.
type VectorStoreFile struct {
	ID            string     `json:"id"`
	Object        string     `json:"object"`
	VectorStoreID string     `json:"vector_store_id"`
	Status        string     `json:"status"`
	UsageBytes    int64      `json:"usage_bytes"`
	CreatedAt     int64      `json:"created_at"`
	LastError     *FileError `json:"last_error"`

	raw json.RawMessage
}

// FileError describes why a file failed to ingest.
type FileError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type vectorStoreFileAlias VectorStoreFile

func (f *VectorStoreFile) UnmarshalJSON(data []byte) error {
	var alias vectorStoreFileAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*f = VectorStoreFile(alias)
	f.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (f VectorStoreFile) MarshalJSON() ([]byte, error) {
	if f.raw != nil {
		return f.raw, nil
	}
	return json.Marshal(vectorStoreFileAlias(f))
}

// VectorStoreFileList is one page of GET /vector_stores/{id}/files.
type VectorStoreFileList struct {
	Object  string            `json:"object"`
	Data    []VectorStoreFile `json:"data"`
	FirstID string            `json:"first_id"`
	LastID  string            `json:"last_id"`
	HasMore bool              `json:"has_more"`

	raw json.RawMessage
}

type vectorStoreFileListAlias VectorStoreFileList

func (l *VectorStoreFileList) UnmarshalJSON(data []byte) error {
	var alias vectorStoreFileListAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*l = VectorStoreFileList(alias)
	l.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (l VectorStoreFileList) MarshalJSON() ([]byte, error) {
	if l.raw != nil {
		return l.raw, nil
	}
	return json.Marshal(vectorStoreFileListAlias(l))
}

// CreateVectorStoreFileRequest is the body of POST /vector_stores/{id}/files.
type CreateVectorStoreFileRequest struct {
	FileID string `json:"file_id"`
}

// ListVectorStoreFilesParams are the optional query parameters of the list call.
type ListVectorStoreFilesParams struct {
	Limit  string
	Order  string
	After  string
	Before string
	Filter string
}

// ErrorResponse represents an OpenAI API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ToCanonical converts the OpenAI API error to a canonical domain error.
func (e *APIError) ToCanonical(status int) *domain.APIError {
	errType, code := mapOpenAIErrorType(e.Type, e.Code, e.Message)
	if errType == "" {
		errType = domain.ErrorTypeForStatus(status)
	}
	return &domain.APIError{
		Type:       errType,
		Code:       code,
		Message:    e.Message,
		Param:      e.Param,
		StatusCode: status,
	}
}

// mapOpenAIErrorType maps OpenAI error types/codes to domain error types.
// An empty type means the caller should fall back to the HTTP status.
func mapOpenAIErrorType(errType, errCode, message string) (domain.ErrorType, domain.ErrorCode) {
	switch errCode {
	case "context_length_exceeded":
		return domain.ErrorTypeContextLength, domain.ErrorCodeContextLengthExceeded
	case "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	case "invalid_api_key":
		return domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "model_not_found":
		return domain.ErrorTypeNotFound, domain.ErrorCodeModelNotFound
	}

	msgLower := strings.ToLower(message)
	if strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "context window") {
		return domain.ErrorTypeContextLength, domain.ErrorCodeContextLengthExceeded
	}

	switch errType {
	case "invalid_request_error":
		return domain.ErrorTypeInvalidRequest, ""
	case "authentication_error":
		return domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "permission_denied", "permission_error":
		return domain.ErrorTypePermission, ""
	case "not_found", "not_found_error":
		return domain.ErrorTypeNotFound, ""
	case "rate_limit_error", "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	case "service_unavailable":
		return domain.ErrorTypeOverloaded, ""
	case "server_error":
		return domain.ErrorTypeServer, ""
	default:
		return "", ""
	}
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}

// upstreamError builds the canonical error for a non-2xx upstream answer.
func upstreamError(status int, body []byte) *domain.APIError {
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil {
		return apiErr.ToCanonical(status)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return domain.NewAPIError(domain.ErrorTypeForStatus(status), msg).WithStatusCode(status)
}

package turnresponse

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
	"github.com/tjfontaine/responses-relay/internal/eventlog"
	"github.com/tjfontaine/responses-relay/internal/storage"
	"github.com/tjfontaine/responses-relay/internal/storage/memory"
	"github.com/tjfontaine/responses-relay/internal/tokens"
	"github.com/tjfontaine/responses-relay/internal/turn"
)

// upstream fakes POST /responses and captures the payload it received.
type upstream struct {
	status int
	body   string

	gotBody []byte
	calls   int
}

func (u *upstream) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls++
		u.gotBody, _ = io.ReadAll(r.Body)
		if r.URL.Path != "/responses" {
			http.NotFound(w, r)
			return
		}
		if u.status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(u.status)
			io.WriteString(w, u.body)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, u.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: ")
		b.WriteString(e)
		b.WriteString("\n\n")
	}
	return b.String()
}

func newTestHandler(t *testing.T, u *upstream, opts ...Option) *Handler {
	t.Helper()
	srv := u.start(t)
	client := openai.NewClient("sk-test", openai.WithBaseURL(srv.URL))
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewHandler(turn.NewInvoker(client, "gpt-4.1"), opts...)
}

func postTurn(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/turn_response", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTurnResponse(rec, req)
	return rec
}

func frames(t *testing.T, body string) []turn.Frame {
	t.Helper()
	var out []turn.Frame
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		data, ok := strings.CutPrefix(chunk, "data: ")
		if !ok {
			t.Fatalf("unexpected SSE chunk %q", chunk)
		}
		var f turn.Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		out = append(out, f)
	}
	return out
}

func TestHandleTurnResponse_TwoFrames(t *testing.T) {
	u := &upstream{
		status: http.StatusOK,
		body: sse(
			`{"type":"response.created","response":{"id":"r1"}}`,
			`{"type":"response.completed"}`,
		),
	}
	store := memory.New()
	h := newTestHandler(t, u, WithStore(store))

	rec := postTurn(h, `{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for header, want := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	got := frames(t, rec.Body.String())
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if got[0].Event != "response.created" || got[1].Event != "response.completed" {
		t.Errorf("events = %q, %q", got[0].Event, got[1].Event)
	}
	if string(got[0].Data) != `{"type":"response.created","response":{"id":"r1"}}` {
		t.Errorf("frame 0 data = %s", got[0].Data)
	}

	turns, err := store.ListTurns(context.Background(), storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Status != storage.TurnStatusCompleted || turns[0].ResponseID != "r1" || turns[0].EventCount != 2 {
		t.Errorf("turn = %+v", turns[0])
	}
}

func TestHandleTurnResponse_UpstreamPayload(t *testing.T) {
	u := &upstream{status: http.StatusOK, body: sse(`{"type":"response.completed"}`)}
	h := newTestHandler(t, u, WithTokenCounter(tokens.NewRegistry()))

	body := `{
		"messages": [
			{"role":"user","content":"What's in the report?"},
			{"role":"assistant","content":[{"type":"output_text","text":""}]},
			{"role":"assistant","content":[{"type":"output_text","text":"It covers Q3."}]},
			{"role":"user","content":"Thanks"}
		],
		"tools": [{"type":"file_search","vector_store_ids":["vs_1"]}]
	}`
	rec := postTurn(h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var sent struct {
		Model             string            `json:"model"`
		Input             []json.RawMessage `json:"input"`
		Tools             []json.RawMessage `json:"tools"`
		Stream            bool              `json:"stream"`
		ParallelToolCalls *bool             `json:"parallel_tool_calls"`
	}
	if err := json.Unmarshal(u.gotBody, &sent); err != nil {
		t.Fatalf("upstream body is not JSON: %v", err)
	}
	if sent.Model != "gpt-4.1" || !sent.Stream {
		t.Errorf("model = %q stream = %v", sent.Model, sent.Stream)
	}
	if sent.ParallelToolCalls == nil || *sent.ParallelToolCalls {
		t.Error("parallel_tool_calls should be sent as false")
	}
	if len(sent.Input) != 3 {
		t.Fatalf("got %d input items, want 3", len(sent.Input))
	}
	if string(sent.Input[1]) != `{"role":"assistant","content":[{"type":"output_text","text":"It covers Q3."}]}` {
		t.Errorf("input[1] = %s", sent.Input[1])
	}
	if len(sent.Tools) != 1 || string(sent.Tools[0]) != `{"type":"file_search","vector_store_ids":["vs_1"]}` {
		t.Errorf("tools = %s", sent.Tools)
	}
}

func TestHandleTurnResponse_EventLog(t *testing.T) {
	u := &upstream{
		status: http.StatusOK,
		body: sse(
			`{"sequence_number":0,"type":"response.created","response":{"id":"resp_X"}}`,
			`{"delta":"Hi","output_index":0,"sequence_number":1,"type":"response.output_text.delta"}`,
			`{"sequence_number":2,"type":"response.completed","response":{"id":"resp_X"}}`,
		),
	}
	logs, err := eventlog.New(t.TempDir())
	if err != nil {
		t.Fatalf("eventlog.New() error = %v", err)
	}
	h := newTestHandler(t, u, WithEventLog(logs))

	rec := postTurn(h, `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	reqLog, err := os.ReadFile(logs.RequestPath("resp_X"))
	if err != nil {
		t.Fatalf("request log missing: %v", err)
	}
	var logged map[string]any
	if err := json.Unmarshal(reqLog, &logged); err != nil {
		t.Fatalf("request log is not JSON: %v", err)
	}
	if logged["model"] != "gpt-4.1" || logged["parallel_tool_calls"] != false {
		t.Errorf("request log = %s", reqLog)
	}

	respLog, err := os.ReadFile(logs.ResponsePath("resp_X"))
	if err != nil {
		t.Fatalf("response log missing: %v", err)
	}
	if n := len(strings.Split(string(respLog), "\n\n")); n != 3 {
		t.Errorf("got %d records, want 3", n)
	}
}

func TestHandleTurnResponse_SetupErrors(t *testing.T) {
	tests := []struct {
		name      string
		upstream  *upstream
		body      string
		wantError string
		wantCalls int
	}{
		{
			name:      "malformed JSON",
			upstream:  &upstream{status: http.StatusOK},
			body:      `{"messages":`,
			wantError: "invalid request body",
		},
		{
			name:      "missing messages",
			upstream:  &upstream{status: http.StatusOK},
			body:      `{"tools":[]}`,
			wantError: "messages is required",
		},
		{
			name: "upstream rejects",
			upstream: &upstream{
				status: http.StatusUnauthorized,
				body:   `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			},
			body:      `{"messages":[{"role":"user","content":"hi"}]}`,
			wantError: "Incorrect API key provided",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			h := newTestHandler(t, tt.upstream, WithStore(store))

			rec := postTurn(h, tt.body)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("error = %q, want it to contain %q", resp.Error, tt.wantError)
			}
			if tt.upstream.calls != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", tt.upstream.calls, tt.wantCalls)
			}

			turns, _ := store.ListTurns(context.Background(), storage.ListOptions{})
			if len(turns) != 1 || turns[0].Status != storage.TurnStatusFailed {
				t.Errorf("turns = %+v", turns)
			}
		})
	}
}

func TestHandleTurnResponse_MidStreamFailure(t *testing.T) {
	u := &upstream{
		status: http.StatusOK,
		body:   sse(`{"type":"response.created","response":{"id":"r1"}}`) + "data: {broken\n\n",
	}
	store := memory.New()
	h := newTestHandler(t, u, WithStore(store))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/turn_response", strings.NewReader(`{"messages":[]}`))

	func() {
		defer func() {
			if r := recover(); r != http.ErrAbortHandler {
				t.Errorf("recovered %v, want http.ErrAbortHandler", r)
			}
		}()
		h.HandleTurnResponse(rec, req)
	}()

	if got := frames(t, rec.Body.String()); len(got) != 1 {
		t.Errorf("got %d frames before the fault, want 1", len(got))
	}
	turns, _ := store.ListTurns(context.Background(), storage.ListOptions{})
	if len(turns) != 1 || turns[0].Status != storage.TurnStatusFailed || turns[0].Error == "" {
		t.Errorf("turns = %+v", turns)
	}
}

// cancelingWriter cancels the request context after the first frame.
type cancelingWriter struct {
	*httptest.ResponseRecorder
	cancel context.CancelFunc
	writes int
}

func (c *cancelingWriter) Write(b []byte) (int, error) {
	n, err := c.ResponseRecorder.Write(b)
	c.writes++
	if c.writes == 1 {
		c.cancel()
	}
	return n, err
}

func TestHandleTurnResponse_ClientDisconnect(t *testing.T) {
	u := &upstream{
		status: http.StatusOK,
		body: sse(
			`{"type":"response.created","response":{"id":"r1"}}`,
			`{"type":"response.output_text.delta","delta":"a"}`,
			`{"type":"response.completed"}`,
		),
	}
	store := memory.New()
	h := newTestHandler(t, u, WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/turn_response", strings.NewReader(`{"messages":[]}`)).WithContext(ctx)
	w := &cancelingWriter{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}

	h.HandleTurnResponse(w, req)

	if got := frames(t, w.Body.String()); len(got) != 1 {
		t.Errorf("got %d frames, want 1", len(got))
	}
	turns, _ := store.ListTurns(context.Background(), storage.ListOptions{})
	if len(turns) != 1 || turns[0].Status != storage.TurnStatusCanceled {
		t.Errorf("turns = %+v", turns)
	}
}

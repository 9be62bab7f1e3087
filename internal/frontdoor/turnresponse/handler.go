// Package turnresponse serves POST /turn_response: it sanitizes the browser's
// conversation, opens a streamed Responses call and relays every event back
// as an SSE frame.
package turnresponse

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
	"github.com/tjfontaine/responses-relay/internal/domain"
	"github.com/tjfontaine/responses-relay/internal/eventlog"
	"github.com/tjfontaine/responses-relay/internal/metrics"
	"github.com/tjfontaine/responses-relay/internal/server"
	"github.com/tjfontaine/responses-relay/internal/storage"
	"github.com/tjfontaine/responses-relay/internal/tokens"
	"github.com/tjfontaine/responses-relay/internal/turn"
)

// Request is the browser's body.
type Request struct {
	Messages []openai.Message `json:"messages"`
	Tools    []json.RawMessage `json:"tools"`
}

// ErrorResponse is the JSON body of a failed setup.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TokenCounter estimates input tokens. *tokens.Registry implements it.
type TokenCounter interface {
	CountTokens(ctx context.Context, req *tokens.Request) (*tokens.Count, error)
}

// Handler handles POST /turn_response.
type Handler struct {
	invoker *turn.Invoker
	logs    *eventlog.Writer
	store   storage.TurnStore
	counter TokenCounter
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithEventLog enables req-/resp- log artifacts under w's directory.
func WithEventLog(w *eventlog.Writer) Option {
	return func(h *Handler) {
		h.logs = w
	}
}

// WithStore records a TurnRecord for every streamed turn.
func WithStore(store storage.TurnStore) Option {
	return func(h *Handler) {
		h.store = store
	}
}

// WithTokenCounter enables input token estimation.
func WithTokenCounter(counter TokenCounter) Option {
	return func(h *Handler) {
		h.counter = counter
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a turn handler sending every turn through invoker.
func NewHandler(invoker *turn.Invoker, opts ...Option) *Handler {
	h := &Handler{
		invoker: invoker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleTurnResponse handles POST /turn_response
func (h *Handler) HandleTurnResponse(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := server.GetRequestID(ctx)
	model := h.invoker.Model()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.setupFailed(w, r, model, start, domain.ErrInvalidRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Messages == nil {
		h.setupFailed(w, r, model, start, domain.ErrMissingParameter("messages"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.setupFailed(w, r, model, start, domain.ErrServer("streaming not supported"))
		return
	}

	input := turn.Sanitize(req.Messages)
	payload := h.invoker.BuildRequest(input, req.Tools)

	inputTokens := h.countTokens(ctx, payload)

	h.logger.Debug("turn request",
		slog.String("request_id", requestID),
		slog.Int("messages", len(req.Messages)),
		slog.Int("dropped", len(req.Messages)-len(input)),
		slog.Any("payload", payload),
	)

	stream, err := h.invoker.Invoke(ctx, payload, &openai.RequestOptions{UserAgent: r.UserAgent()})
	if err != nil {
		h.setupFailed(w, r, model, start, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	first := true
	opts := []turn.RelayOption{
		turn.WithLogger(h.logger.With(slog.String("request_id", requestID))),
		turn.WithObserver(func(evt *openai.StreamEvent) {
			if first {
				metrics.TimeToFirstEvent.WithLabelValues(model).Observe(time.Since(start).Seconds())
				first = false
			}
			metrics.EventsRelayed.WithLabelValues(evt.Kind.String()).Inc()
		}),
	}
	if h.logs != nil {
		opts = append(opts, turn.WithRecorder(h.logs.NewRecorder(), payload))
	}

	res, err := turn.NewRelay(stream, turn.NewSSEWriter(w), opts...).Run(ctx)

	status := storage.TurnStatusCompleted
	switch {
	case errors.Is(err, turn.ErrClientGone):
		status = storage.TurnStatusCanceled
	case err != nil:
		status = storage.TurnStatusFailed
	}

	server.AddLogField(ctx, "response_id", res.ResponseID)
	server.AddLogField(ctx, "events", strconv.Itoa(res.Events))
	server.AddLogField(ctx, "turn_status", string(status))
	server.AddError(ctx, err)

	h.finish(ctx, &storage.TurnRecord{
		ID:          turnID(requestID),
		ResponseID:  res.ResponseID,
		Model:       model,
		Status:      status,
		InputItems:  len(input),
		InputTokens: inputTokens,
		EventCount:  res.Events,
		Error:       errorString(err),
		Duration:    time.Since(start),
	})

	switch status {
	case storage.TurnStatusCanceled:
		h.logger.Info("stream canceled by client",
			slog.String("request_id", requestID),
			slog.String("response_id", res.ResponseID),
			slog.Int("events", res.Events),
		)
	case storage.TurnStatusFailed:
		h.logger.Error("stream failed",
			slog.String("request_id", requestID),
			slog.String("response_id", res.ResponseID),
			slog.Int("events", res.Events),
			slog.String("error", err.Error()),
		)
		// abort the connection instead of ending the stream cleanly
		panic(http.ErrAbortHandler)
	}
}

// setupFailed reports an error raised before the first SSE byte was written.
func (h *Handler) setupFailed(w http.ResponseWriter, r *http.Request, model string, start time.Time, err error) {
	ctx := r.Context()
	apiErr := domain.ToCanonicalError(err)

	h.logger.Error("turn setup failed",
		slog.String("request_id", server.GetRequestID(ctx)),
		slog.String("error_type", string(apiErr.Type)),
		slog.String("error", err.Error()),
	)
	server.AddError(ctx, err)

	h.finish(ctx, &storage.TurnRecord{
		ID:       turnID(server.GetRequestID(ctx)),
		Model:    model,
		Status:   storage.TurnStatusFailed,
		Error:    apiErr.Message,
		Duration: time.Since(start),
	})

	writeError(w, http.StatusInternalServerError, apiErr.Message)
}

func (h *Handler) finish(ctx context.Context, rec *storage.TurnRecord) {
	metrics.TurnCount.WithLabelValues(rec.Model, string(rec.Status)).Inc()
	metrics.TurnDuration.WithLabelValues(rec.Model, string(rec.Status)).Observe(rec.Duration.Seconds())

	if h.store == nil {
		return
	}
	// The request context is already canceled when the client left.
	if err := h.store.SaveTurn(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("failed to save turn",
			slog.String("turn_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) countTokens(ctx context.Context, payload *openai.ResponseRequest) int {
	if h.counter == nil {
		return 0
	}
	count, err := h.counter.CountTokens(ctx, &tokens.Request{
		Model:    payload.Model,
		Messages: payload.Input,
		Tools:    payload.Tools,
	})
	if err != nil {
		h.logger.Debug("token count failed", slog.String("error", err.Error()))
		return 0
	}
	metrics.InputTokens.WithLabelValues(payload.Model).Add(float64(count.InputTokens))
	server.AddLogField(ctx, "input_tokens", strconv.Itoa(count.InputTokens))
	return count.InputTokens
}

func turnID(requestID string) string {
	if requestID != "" {
		return requestID
	}
	return uuid.New().String()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

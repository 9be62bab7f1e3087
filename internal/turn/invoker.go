package turn

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
)

const tracerName = "github.com/tjfontaine/responses-relay/internal/turn"

// ResponseStreamer opens a streamed Responses call. *openai.Client implements it.
type ResponseStreamer interface {
	CreateResponseStream(ctx context.Context, req *openai.ResponseRequest, opts *openai.RequestOptions) (*openai.ResponseStream, error)
}

// Invoker builds the fixed-shape Responses request and issues it upstream.
type Invoker struct {
	client ResponseStreamer
	model  string
	tracer trace.Tracer
}

// NewInvoker returns an Invoker that sends every turn to model through client.
func NewInvoker(client ResponseStreamer, model string) *Invoker {
	return &Invoker{
		client: client,
		model:  model,
		tracer: otel.Tracer(tracerName),
	}
}

// Model returns the model identifier every request is sent with.
func (i *Invoker) Model() string {
	return i.model
}

// BuildRequest assembles the upstream payload: configured model, the given
// (already sanitized) input, tools passed through untouched, streaming on and
// parallel tool calls off.
func (i *Invoker) BuildRequest(input []openai.Message, tools []json.RawMessage) *openai.ResponseRequest {
	if input == nil {
		input = []openai.Message{}
	}
	return &openai.ResponseRequest{
		Model:             i.model,
		Input:             input,
		Tools:             tools,
		Stream:            true,
		ParallelToolCalls: false,
	}
}

// Invoke opens the upstream stream. Errors establishing it (transport, auth,
// non-2xx) are returned as-is for the caller to report.
func (i *Invoker) Invoke(ctx context.Context, req *openai.ResponseRequest, opts *openai.RequestOptions) (*openai.ResponseStream, error) {
	ctx, span := i.tracer.Start(ctx, "responses.create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.input_items", len(req.Input)),
			attribute.Int("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	stream, err := i.client.CreateResponseStream(ctx, req, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return stream, nil
}

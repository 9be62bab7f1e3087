package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
	"github.com/tjfontaine/responses-relay/internal/eventlog"
)

// State is the lifecycle position of a Relay.
type State int

const (
	// StateAwaitingID: no response id observed yet.
	StateAwaitingID State = iota
	// StateStreaming: the response id is latched.
	StateStreaming
	// StateClosed: upstream ended normally.
	StateClosed
	// StateFailed: upstream, the client, or the client connection broke the stream.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingID:
		return "awaiting_id"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrClientGone wraps the context error when the browser disconnects mid-stream.
var ErrClientGone = errors.New("client disconnected")

// EventSource is a pull-based, ordered, non-restartable sequence of upstream
// events. *openai.ResponseStream implements it.
type EventSource interface {
	Next() bool
	Current() *openai.StreamEvent
	Err() error
	Close() error
}

// FrameWriter delivers one event to the client.
type FrameWriter interface {
	WriteFrame(evt *openai.StreamEvent) error
}

// Result summarizes a finished relay.
type Result struct {
	ResponseID string
	Events     int
	State      State
}

// Relay copies upstream events to the client one frame at a time, latching
// the response id and, when a recorder is attached, logging the request and
// every event to disk.
type Relay struct {
	source EventSource
	out    FrameWriter

	recorder *eventlog.Recorder
	request  any

	logger   *slog.Logger
	observer func(*openai.StreamEvent)
	tracer   trace.Tracer

	state      State
	responseID string
	events     int
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRecorder enables disk logging. request is written as the request
// artifact once the response id is known.
func WithRecorder(rec *eventlog.Recorder, request any) RelayOption {
	return func(r *Relay) {
		r.recorder = rec
		r.request = request
	}
}

// WithLogger sets the logger used for per-event debug output and log-write failures.
func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithObserver registers a callback invoked after each frame is delivered.
func WithObserver(fn func(*openai.StreamEvent)) RelayOption {
	return func(r *Relay) {
		r.observer = fn
	}
}

// NewRelay returns a Relay in StateAwaitingID.
func NewRelay(source EventSource, out FrameWriter, opts ...RelayOption) *Relay {
	r := &Relay{
		source: source,
		out:    out,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		state:  StateAwaitingID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state.
func (r *Relay) State() State {
	return r.state
}

// ResponseID returns the latched response id, or "" if none was observed.
func (r *Relay) ResponseID() string {
	return r.responseID
}

// Run consumes the source until it ends, fails, or ctx is canceled. The next
// upstream event is only read once the previous frame has been written. The
// source is always closed on return. The returned Result is never nil.
func (r *Relay) Run(ctx context.Context) (*Result, error) {
	defer r.source.Close()

	ctx, span := r.tracer.Start(ctx, "relay.stream")
	defer span.End()

	err := r.loop(ctx)

	span.SetAttributes(
		attribute.String("relay.response_id", r.responseID),
		attribute.Int("relay.events", r.events),
		attribute.String("relay.state", r.state.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return &Result{ResponseID: r.responseID, Events: r.events, State: r.state}, err
}

func (r *Relay) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(fmt.Errorf("%w: %w", ErrClientGone, err))
		}

		if !r.source.Next() {
			break
		}
		evt := r.source.Current()

		if err := r.out.WriteFrame(evt); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.fail(fmt.Errorf("%w: %w", ErrClientGone, ctxErr))
			}
			return r.fail(err)
		}
		r.events++

		r.logger.Debug("responses event",
			slog.String("type", evt.Type),
			slog.String("payload", string(evt.Raw)),
		)
		if r.observer != nil {
			r.observer(evt)
		}

		if r.state == StateAwaitingID && evt.Kind == openai.EventKindResponseCreated && evt.ResponseID != "" {
			r.responseID = evt.ResponseID
			r.state = StateStreaming
			if r.recorder != nil {
				if err := r.recorder.WriteRequest(r.responseID, r.request); err != nil {
					r.logger.Warn("failed to write request log",
						slog.String("response_id", r.responseID),
						slog.String("error", err.Error()),
					)
				}
			}
		}

		if r.recorder != nil {
			if err := r.recorder.Append(evt.Raw); err != nil {
				r.logger.Warn("failed to record event",
					slog.String("type", evt.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if err := r.source.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.fail(fmt.Errorf("%w: %w", ErrClientGone, ctxErr))
		}
		return r.fail(err)
	}

	r.state = StateClosed

	if r.recorder != nil && r.responseID != "" {
		if err := r.recorder.Flush(r.responseID); err != nil {
			r.logger.Warn("failed to write response log",
				slog.String("response_id", r.responseID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (r *Relay) fail(err error) error {
	r.state = StateFailed
	return err
}

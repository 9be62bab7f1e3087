// Package tokens estimates the input size of a turn so it can be logged and
// recorded alongside the relayed stream.
package tokens

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
)

// Request is the input whose tokens are counted.
type Request struct {
	Model    string
	Messages []openai.Message
	Tools    []json.RawMessage
}

// Count is the result of a token count.
type Count struct {
	InputTokens int
	Model       string
	// Estimated is true when the number comes from the character heuristic.
	Estimated bool
}

// Counter counts input tokens for the models it supports.
type Counter interface {
	CountTokens(ctx context.Context, req *Request) (*Count, error)
	SupportsModel(model string) bool
}

// Registry picks the first registered counter supporting a model and falls
// back to the Estimator.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the OpenAI tiktoken counter registered.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewEstimator()}
	r.Register(NewOpenAICounter())
	return r
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// CountTokens counts tokens using the appropriate counter for the model.
// A failing counter falls through to the estimator.
func (r *Registry) CountTokens(ctx context.Context, req *Request) (*Count, error) {
	for _, counter := range r.counters {
		if !counter.SupportsModel(req.Model) {
			continue
		}
		if count, err := counter.CountTokens(ctx, req); err == nil {
			return count, nil
		}
		break
	}
	return r.fallback.CountTokens(ctx, req)
}

// Estimator provides token count estimation based on character analysis.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(ctx context.Context, req *Request) (*Count, error) {
	totalChars := 0

	for _, msg := range req.Messages {
		totalChars += len(msg.Role)
		totalChars += len(msg.Content.PlainText())
		// role tokens + separators
		totalChars += 4
	}

	for _, tool := range req.Tools {
		totalChars += len(tool)
	}

	return &Count{
		InputTokens: int(float64(totalChars) / e.CharsPerToken),
		Model:       req.Model,
		Estimated:   true,
	}, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

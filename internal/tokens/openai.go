package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// OpenAICounter counts tokens for OpenAI models using tiktoken.
type OpenAICounter struct {
	matcher *ModelMatcher
	// codecCache caches tokenizer codecs by encoding name
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewOpenAICounter creates a new OpenAI token counter.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		// "o" prefixes match the o-series reasoning models
		matcher:    NewModelMatcher([]string{"gpt-", "o1", "o3", "o4", "chatgpt-"}, nil),
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *OpenAICounter) getCodec(model string) (tokenizer.Codec, error) {
	codec, err := tokenizer.ForModel(mapModelName(model))
	if err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err = tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

func mapModelName(model string) tokenizer.Model {
	model = strings.ToLower(model)

	switch {
	case model == "gpt-5-mini" || strings.HasPrefix(model, "gpt-5-mini-"):
		return tokenizer.GPT5Mini
	case model == "gpt-5-nano" || strings.HasPrefix(model, "gpt-5-nano-"):
		return tokenizer.GPT5Nano
	case strings.HasPrefix(model, "gpt-5"):
		return tokenizer.GPT5
	case strings.HasPrefix(model, "gpt-4.1"):
		return tokenizer.GPT41
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "chatgpt-4o"):
		return tokenizer.GPT4o
	case strings.HasPrefix(model, "o1"):
		if strings.Contains(model, "mini") {
			return tokenizer.O1Mini
		}
		return tokenizer.O1
	case strings.HasPrefix(model, "o3"):
		if strings.Contains(model, "mini") {
			return tokenizer.O3Mini
		}
		return tokenizer.O3
	case strings.HasPrefix(model, "o4"):
		return tokenizer.O4Mini
	case strings.HasPrefix(model, "gpt-4"):
		return tokenizer.GPT4
	case strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.GPT35Turbo
	default:
		return tokenizer.Model(model)
	}
}

// modelToEncoding is the fallback when tokenizer.ForModel does not know a model.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// CountTokens counts tokens for OpenAI models using tiktoken.
func (c *OpenAICounter) CountTokens(ctx context.Context, req *Request) (*Count, error) {
	codec, err := c.getCodec(req.Model)
	if err != nil {
		return nil, err
	}

	// Per-message overhead follows OpenAI's chat accounting:
	// 3 tokens per message, 1 for the role, 3 to prime the reply.
	const (
		tokensPerMessage = 3
		tokensPerRole    = 1
		tokensPerTool    = 7
		replyPriming     = 3
	)

	total := 0
	for _, msg := range req.Messages {
		total += tokensPerMessage + tokensPerRole
		text := msg.Content.PlainText()
		if text == "" {
			continue
		}
		ids, _, err := codec.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message: %w", err)
		}
		total += len(ids)
	}

	for _, tool := range req.Tools {
		ids, _, err := codec.Encode(string(tool))
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool: %w", err)
		}
		total += len(ids) + tokensPerTool
	}

	total += replyPriming

	return &Count{
		InputTokens: total,
		Model:       req.Model,
		Estimated:   false,
	}, nil
}

// SupportsModel returns true for OpenAI models.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(strings.ToLower(model))
}

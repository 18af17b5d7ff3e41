// Package openai implements the eot.LLMBackend interface with a single
// JSON-only chat completion against the OpenAI API.
//
// The call is latency-critical: the detector budgets under 200 ms for the
// whole round trip, so the backend uses a small model, a tight token cap, and
// relies entirely on the caller's context deadline.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/aurelia-labs/voicecore/pkg/provider/eot"
)

// Compile-time assertion that Backend satisfies eot.LLMBackend.
var _ eot.LLMBackend = (*Backend)(nil)

const defaultModel = "gpt-4o-mini"

// systemPrompt instructs the model to answer with a bare JSON object.
const systemPrompt = `You judge whether a live voice transcript is a finished turn.
Reply with ONLY a JSON object: {"status":"complete|incomplete|uncertain","delay_ms":<int>,"confidence":<0..1>,"reason":"<short>"}.
delay_ms is how long to wait for more speech before committing.`

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithModel overrides the default classification model.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(b *Backend) { b.baseURL = url }
}

// Backend classifies transcripts via the OpenAI chat completions API.
type Backend struct {
	client  oai.Client
	model   string
	baseURL string
}

// New creates a Backend with the given API key and options.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("eot openai: apiKey must not be empty")
	}
	b := &Backend{model: defaultModel}
	for _, o := range opts {
		o(b)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if b.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(b.baseURL))
	}
	b.client = oai.NewClient(reqOpts...)
	return b, nil
}

// Classify implements eot.LLMBackend.
func (b *Backend) Classify(ctx context.Context, transcript string) (eot.LLMVerdict, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(transcript),
		},
		MaxCompletionTokens: param.NewOpt(int64(80)),
		Temperature:         param.NewOpt(0.0),
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return eot.LLMVerdict{}, fmt.Errorf("eot openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return eot.LLMVerdict{}, fmt.Errorf("eot openai: empty choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some models wrap JSON in a code fence despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v eot.LLMVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return eot.LLMVerdict{}, fmt.Errorf("eot openai: parse verdict: %w", err)
	}
	return v, nil
}

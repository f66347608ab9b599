package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAISystemPrompt frames every request; the persona itself travels in
// the user turn together with the conversation so far.
const openAISystemPrompt = "You are a Filipino college student chatting anonymously online. " +
	"Respond naturally to what the user just said. Keep responses very short (1-2 sentences max), " +
	"casual, and natural. Use some Filipino slang mixed with English."

// OpenAIConfig configures the OpenAI chat completions adapter.
type OpenAIConfig struct {
	APIKey  string
	Model   string // e.g. gpt-4o-mini
	BaseURL string // optional, for proxies and tests
}

// OpenAI calls the chat completions API through openai-go.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI builds an OpenAI provider. Retries are disabled; the Chain
// handles failure by moving on.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openai.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAI) Name() string { return "openai" }

// Complete sends prompt as the user turn under a fixed system prompt.
func (o *OpenAI) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAISystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("ai: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

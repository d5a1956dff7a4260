// Package replygen produces reply text through the OpenAI chat API.
// Generation is best-effort: any failure yields a fixed fallback string so
// the reply pipeline never blocks on an LLM outage.
package replygen

import (
	"context"
	"strings"

	"github.com/plumelab/chirpd/internal/config"
	"github.com/plumelab/chirpd/internal/logger"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// FallbackReply is returned whenever generation fails or comes back empty.
const FallbackReply = "Thanks for sharing!"

const (
	maxTokens   = 100
	temperature = 0.7

	defaultSystemPrompt = `You are a helpful Twitter bot that generates thoughtful, engaging replies to tweets. ` +
		`Keep responses under 280 characters, be friendly and conversational, and avoid controversial topics.`
)

// completionClient is the slice of the OpenAI client the generator uses.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator builds prompts and calls the completion API.
type Generator struct {
	client completionClient
	model  string
}

// NewGenerator creates a Generator from the OpenAI configuration.
func NewGenerator(cfg *config.OpenAIConfig) *Generator {
	return &Generator{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
	}
}

// Generate produces a reply to sourceText. Optional steering text is folded
// into the system prompt. Never returns an error; failures degrade to
// FallbackReply.
func (g *Generator) Generate(ctx context.Context, sourceText, steering string) string {
	systemPrompt := defaultSystemPrompt
	if steering != "" {
		systemPrompt += "\nAdditional context: " + steering
	}
	return g.complete(ctx, g.model, systemPrompt, sourceText)
}

// GenerateWithPersona is Generate with a caller-supplied system prompt and
// model, for persona-driven replies.
func (g *Generator) GenerateWithPersona(ctx context.Context, model, systemPrompt, sourceText, steering string) string {
	if model == "" {
		model = g.model
	}
	if steering != "" {
		systemPrompt += "\nAdditional instructions: " + steering
	}
	return g.complete(ctx, model, systemPrompt, sourceText)
}

func (g *Generator) complete(ctx context.Context, model, systemPrompt, sourceText string) string {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: `Generate a reply to this tweet: "` + sourceText + `"`},
		},
	})
	if err != nil {
		logger.Error("reply generation failed", zap.Error(err))
		return FallbackReply
	}
	if len(resp.Choices) == 0 {
		return FallbackReply
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return FallbackReply
	}
	return text
}

package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is the subset of openai.Client the OpenAI provider uses; it is easy
// to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one provider-neutral chat turn.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a provider-neutral chat completion call.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Provider is an LLM backend able to chat and to transcribe audio files.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

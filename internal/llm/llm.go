package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/escal8-go/internal/config"
)

// ErrEmptyCompletion is returned when the provider answered without text.
var ErrEmptyCompletion = errors.New("llm returned no content")

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// New returns the provider named by cfg.Provider, or nil when no API key is
// configured.
func New(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (Provider, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg, timeout)
	case config.ProviderOpenAI, "":
		return NewOpenAI(NewClient(cfg), cfg, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// OpenAIProvider talks to the OpenAI chat and audio APIs.
type OpenAIProvider struct {
	client             Client
	model              string
	transcriptionModel string
	timeout            time.Duration
}

// NewOpenAI wraps client.
func NewOpenAI(client Client, cfg config.LLMConfig, timeout time.Duration) *OpenAIProvider {
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = openai.Whisper1
	}
	return &OpenAIProvider{
		client:             client,
		model:              cfg.Model,
		transcriptionModel: transcriptionModel,
		timeout:            timeout,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Complete sends the conversation and returns the first choice's text.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe runs speech recognition on the file at audioPath.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.transcriptionModel,
		FilePath: audioPath,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

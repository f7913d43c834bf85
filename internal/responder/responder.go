// Package responder produces the assistant's reply to a text message.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/comigor/escal8-go/internal/config"
	"github.com/comigor/escal8-go/internal/llm"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/store"
)

const (
	defaultAgentName    = "Customer Service Agent"
	defaultExtraPrompts = "Be helpful and professional."

	systemPromptTemplate = `You are a customer service agent with the following characteristics:

Agent Name: %s
Additional Instructions: %s

You are engaging in a text-based chat with a customer. Respond naturally and stay in character.`
)

// Request is everything a Responder may look at. Agent is nil when the
// conversation's agent has no local record.
type Request struct {
	Agent   *store.Agent
	History []llm.Message
	Text    string
}

// Responder always yields some reply; provider failures degrade to canned
// text instead of an error.
type Responder interface {
	Respond(ctx context.Context, req Request) string
}

// Completer is the chat half of llm.Provider.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// New picks the LLM-backed responder when a completer is configured and the
// echo responder otherwise.
func New(completer Completer, cfg config.LLMConfig) Responder {
	if completer == nil {
		logger.For("responder").Info("no llm configured, using echo responder")
		return Echo{}
	}
	return &LLM{
		completer:   completer,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.For("responder"),
	}
}

// Echo acknowledges the message without generating anything.
type Echo struct{}

func (Echo) Respond(_ context.Context, req Request) string {
	return unconfiguredReply(req.Text)
}

func unconfiguredReply(text string) string {
	return fmt.Sprintf("I received your message: '%s'. I'm here to help! (Note: For the best experience, try using the voice interface)", text)
}

func failedReply(text string) string {
	return fmt.Sprintf("I received your message: '%s'. I'm here to help! (Note: Full conversational AI features work best with voice)", text)
}

// LLM answers in character as the conversation's agent.
type LLM struct {
	completer   Completer
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

func (r *LLM) Respond(ctx context.Context, req Request) string {
	if req.Agent == nil {
		return unconfiguredReply(req.Text)
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(req.Agent)})
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Text})

	out, err := r.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		r.logger.Warn("llm completion failed, falling back", "agent_id", req.Agent.ProviderAgentID, "error", err)
		return failedReply(req.Text)
	}
	return out
}

// SystemPrompt describes agent to the model.
func SystemPrompt(agent *store.Agent) string {
	name := strings.TrimSpace(agent.Name)
	if name == "" {
		name = defaultAgentName
	}
	extra := strings.TrimSpace(agent.ExtraPrompts)
	if extra == "" {
		extra = defaultExtraPrompts
	}
	return fmt.Sprintf(systemPromptTemplate, name, extra)
}

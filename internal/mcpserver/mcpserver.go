// Package mcpserver exposes the agent directory and the conversation service
// as MCP tools so assistants can drive text conversations.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/escal8-go/internal/apperr"
	"github.com/comigor/escal8-go/internal/conversation"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/store"
)

const (
	serverName    = "escal8"
	serverVersion = "0.1.0"
)

// Agents lists recorded agents.
type Agents interface {
	List(ctx context.Context) ([]*store.Agent, error)
}

// Conversations is the conversation service as used by the tools.
type Conversations interface {
	Start(ctx context.Context, providerAgentID string, userID *string, channel string) (*conversation.Started, error)
	SendMessage(ctx context.Context, conversationID, text string) (*conversation.Exchange, error)
	Messages(ctx context.Context, conversationID string) ([]*store.Message, error)
	End(ctx context.Context, conversationID string) error
}

// Tools holds the tool handlers.
type Tools struct {
	agents        Agents
	conversations Conversations
	logger        *slog.Logger
}

func NewTools(agents Agents, conversations Conversations) *Tools {
	return &Tools{agents: agents, conversations: conversations, logger: logger.For("mcp")}
}

// New registers every tool on a fresh MCP server.
func New(t *Tools) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List the cloned voice agents recorded by the backend."),
	), t.ListAgents)

	s.AddTool(mcp.NewTool("start_conversation",
		mcp.WithDescription("Start a text conversation with a cloned agent."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ElevenLabs agent id of the cloned agent")),
		mcp.WithString("user_id", mcp.Description("Existing user profile id; an anonymous profile is created when empty")),
		mcp.WithString("channel", mcp.Description("Channel label, defaults to web")),
	), t.StartConversation)

	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user message and return the agent's reply."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation id")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Text of the user message")),
	), t.SendMessage)

	s.AddTool(mcp.NewTool("get_messages",
		mcp.WithDescription("Return every message of a conversation, oldest first."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation id")),
	), t.GetMessages)

	s.AddTool(mcp.NewTool("end_conversation",
		mcp.WithDescription("Mark a conversation as ended."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation id")),
	), t.EndConversation)

	return s
}

// Handler serves s over streamable HTTP.
func Handler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s)
}

func (t *Tools) ListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agents, err := t.agents.List(ctx)
	if err != nil {
		return t.failure(req, err)
	}
	return jsonResult(map[string]any{"agents": agents})
}

func (t *Tools) StartConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	var userID *string
	if u := req.GetString("user_id", ""); u != "" {
		userID = &u
	}

	out, err := t.conversations.Start(ctx, agentID, userID, req.GetString("channel", conversation.DefaultChannel))
	if err != nil {
		return t.failure(req, err)
	}
	return jsonResult(out)
}

func (t *Tools) SendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conversation_id", "")
	text := req.GetString("message", "")
	if id == "" || text == "" {
		return mcp.NewToolResultError("conversation_id and message are required"), nil
	}

	out, err := t.conversations.SendMessage(ctx, id, text)
	if err != nil {
		return t.failure(req, err)
	}
	return jsonResult(out)
}

func (t *Tools) GetMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conversation_id", "")
	if id == "" {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}

	msgs, err := t.conversations.Messages(ctx, id)
	if err != nil {
		return t.failure(req, err)
	}
	return jsonResult(map[string]any{"messages": msgs})
}

func (t *Tools) EndConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("conversation_id", "")
	if id == "" {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}

	if err := t.conversations.End(ctx, id); err != nil {
		return t.failure(req, err)
	}
	return jsonResult(map[string]bool{"success": true})
}

// failure reports err to the calling model as a tool error. Only unexpected
// failures are logged.
func (t *Tools) failure(req mcp.CallToolRequest, err error) (*mcp.CallToolResult, error) {
	if !errors.Is(err, apperr.ErrNotFound) {
		t.logger.Error("tool call failed", "tool", req.Params.Name, "error", err)
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(buf)), nil
}

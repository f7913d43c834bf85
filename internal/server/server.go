// Package server exposes the HTTP and websocket API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/comigor/escal8-go/internal/agent"
	"github.com/comigor/escal8-go/internal/conversation"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/media"
	"github.com/comigor/escal8-go/internal/store"
)

// Agents is the agent directory as used by the handlers.
type Agents interface {
	GetBase(ctx context.Context) (*agent.Base, error)
	Clone(ctx context.Context, name, extraPrompts string, userID *string) (*agent.Cloned, error)
	List(ctx context.Context) ([]*store.Agent, error)
	SignedURL(ctx context.Context, providerAgentID string) (string, error)
}

// Conversations is the conversation service as used by the handlers.
type Conversations interface {
	Start(ctx context.Context, providerAgentID string, userID *string, channel string) (*conversation.Started, error)
	SendMessage(ctx context.Context, conversationID, text string) (*conversation.Exchange, error)
	Messages(ctx context.Context, conversationID string) ([]*store.Message, error)
	End(ctx context.Context, conversationID string) error
}

// Media is the text/speech converter as used by the handlers.
type Media interface {
	TextToSpeech(ctx context.Context, text, voiceID string) ([]byte, error)
	SpeechToText(ctx context.Context, audio io.Reader) (*media.Transcript, error)
}

// Options tune the handler.
type Options struct {
	CORSOrigins []string
	// MaxUpload caps request bodies; zero means no limit.
	MaxUpload int64
	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
}

// Server routes API requests to the services.
type Server struct {
	agents        Agents
	conversations Conversations
	media         Media
	opts          Options
	logger        *slog.Logger
}

func New(agents Agents, conversations Conversations, media Media, opts Options) *Server {
	return &Server{
		agents:        agents,
		conversations: conversations,
		media:         media,
		opts:          opts,
		logger:        logger.For("http"),
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/agents/base", s.handleBaseAgent)
	mux.HandleFunc("GET /api/agents/{agent_id}/websocket-url", s.handleSignedURL)
	mux.HandleFunc("POST /api/agents/clone", s.handleCloneAgent)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)

	mux.HandleFunc("POST /api/conversations/start", s.handleStartConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleGetMessages)
	mux.HandleFunc("POST /api/conversations/{id}/end", s.handleEndConversation)

	mux.HandleFunc("POST /api/text-to-speech", s.handleTextToSpeech)
	mux.HandleFunc("POST /api/speech-to-text", s.handleSpeechToText)

	mux.HandleFunc("GET /ws/audio", s.handleAudioSocket)

	if s.opts.MCP != nil {
		mux.Handle("/mcp", s.opts.MCP)
	}

	var h http.Handler = mux
	h = s.limitBody(h)
	h = CORS(s.opts.CORSOrigins, h)
	h = AccessLog(s.logger, h)
	h = Recover(s.logger, h)
	h = RequestID(h)
	return h
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	if s.opts.MaxUpload <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Escal8 - Backend API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// invalidRequest marks client input problems; they map to 422.
type invalidRequest struct {
	detail string
}

func (e *invalidRequest) Error() string { return e.detail }

func badRequest(detail string) error { return &invalidRequest{detail: detail} }

// decodeJSON reads a single JSON object from the body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return badRequest("Request body too large")
		}
		return badRequest("Invalid JSON body: " + err.Error())
	}
	return nil
}

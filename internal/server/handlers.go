package server

import (
	"errors"
	"net/http"
	"strings"
)

func (s *Server) handleBaseAgent(w http.ResponseWriter, r *http.Request) {
	base, err := s.agents.GetBase(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	u, err := s.agents.SignedURL(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signed_url": u})
}

type cloneAgentRequest struct {
	AgentName    *string `json:"agent_name"`
	ExtraPrompts *string `json:"extra_prompts"`
	UserID       *string `json:"user_id"`
}

func (s *Server) handleCloneAgent(w http.ResponseWriter, r *http.Request) {
	var req cloneAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.AgentName == nil {
		s.writeError(w, r, badRequest("agent_name is required"))
		return
	}
	if req.ExtraPrompts == nil {
		s.writeError(w, r, badRequest("extra_prompts is required"))
		return
	}

	out, err := s.agents.Clone(r.Context(), *req.AgentName, *req.ExtraPrompts, nonEmpty(req.UserID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type startConversationRequest struct {
	AgentID *string `json:"agent_id"`
	UserID  *string `json:"user_id"`
	Channel string  `json:"channel"`
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.AgentID == nil {
		s.writeError(w, r, badRequest("agent_id is required"))
		return
	}

	out, err := s.conversations.Start(r.Context(), *req.AgentID, nonEmpty(req.UserID), req.Channel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	ConversationID string  `json:"conversation_id"`
	Message        *string `json:"message"`
}

// handleSendMessage uses the path id; conversation_id in the body is
// accepted for compatibility and ignored.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Message == nil {
		s.writeError(w, r, badRequest("message is required"))
		return
	}

	out, err := s.conversations.SendMessage(r.Context(), r.PathValue("id"), *req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.conversations.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.End(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("text") {
		s.writeError(w, r, badRequest("text is required"))
		return
	}

	audio, err := s.media.TextToSpeech(r.Context(), q.Get("text"), q.Get("voice_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", "inline; filename=speech.mp3")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("audio_file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			s.writeError(w, r, badRequest("Request body too large"))
		default:
			s.writeError(w, r, badRequest("audio_file is required"))
		}
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	out, err := s.media.SpeechToText(r.Context(), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func nonEmpty(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	return p
}

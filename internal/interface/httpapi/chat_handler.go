package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

const messageRequired = "Message is required"

type chatRequest struct {
	Message           string                   `json:"message"`
	ConversationID    string                   `json:"conversationId"`
	RetrievalSettings *settings.RetrievalPatch `json:"retrievalSettings"`
	ModelSettings     *settings.ModelPatch     `json:"modelSettings"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, messageRequired)
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		s.logger.DebugContext(r.Context(), "failed to start chat stream", "error", err)
		return
	}

	result, err := s.services.Chat.Chat(r.Context(), chat.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Overrides: settings.Patch{
			Retrieval: req.RetrievalSettings,
			Model:     req.ModelSettings,
		},
	}, sink)
	if err != nil {
		// 失敗はすでに error イベントとして送信済み
		s.logger.WarnContext(r.Context(), "chat stream ended with error", "error", err)
		return
	}

	s.logger.InfoContext(r.Context(), "chat completed",
		"conversationID", result.ConversationID,
		"responseLength", len(result.AssistantMessage.Content),
	)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	messages, err := s.services.Chat.History(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, messages)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	if err := s.services.Chat.ClearHistory(r.Context(), conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var in chat.NewConversation
	// 本文は省略可能
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conv, err := s.services.Chat.CreateConversation(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.services.Chat.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []*chat.Conversation{}
	}
	writeData(w, convs)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	err := s.services.Chat.DeleteConversation(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeOK(w)
	}
}

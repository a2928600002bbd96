package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/converse/internal/chat"
	"github.com/converse/internal/middleware"
)

type ConversationHandler struct {
	svc *chat.Service
}

func NewConversationHandler(svc *chat.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// List returns the caller's conversations, most recent activity first, each
// with full message history, the other participant (with live online flag),
// the derived unread count and the caller's read marker position.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	views, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		writeChatError(w, err, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// UnreadCount returns the derived unread count for one conversation.
func (h *ConversationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "conversationId")

	n, err := h.svc.UnreadCount(r.Context(), conversationID, userID)
	if err != nil {
		writeChatError(w, err, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

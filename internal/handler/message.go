package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/converse/internal/chat"
	"github.com/converse/internal/middleware"
	"github.com/converse/internal/model"
)

type MessageHandler struct {
	svc *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type sendMessageRequest struct {
	RecipientID    string `json:"recipient_id"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type sendMessageResponse struct {
	Message *model.Message   `json:"message"`
	Sender  model.UserPublic `json:"sender"`
}

// Send stores a message. With conversation_id the recipient is derived from
// the conversation; without it the conversation is resolved (or created) from
// recipient_id.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	if req.ConversationID == "" && req.RecipientID == "" {
		writeError(w, http.StatusBadRequest, "recipient_id or conversation_id required")
		return
	}

	msg, sender, err := h.svc.Send(r.Context(), userID, req.RecipientID, req.Text, req.ConversationID)
	if err != nil {
		writeChatError(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, sendMessageResponse{Message: msg, Sender: sender})
}

type markReadRequest struct {
	ConversationID      string `json:"conversation_id"`
	LatestSeenMessageID string `json:"latest_seen_message_id"`
}

type markReadResponse struct {
	ConversationID string         `json:"conversation_id"`
	MarkedMessage  *model.Message `json:"marked_message"`
}

// MarkRead moves the caller's read marker to the given message of the other
// participant. Idempotent: re-marking the same message succeeds.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ConversationID == "" || req.LatestSeenMessageID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and latest_seen_message_id required")
		return
	}

	marked, err := h.svc.MarkRead(r.Context(), req.ConversationID, userID, req.LatestSeenMessageID)
	if err != nil {
		writeChatError(w, err, "failed to mark read")
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{ConversationID: req.ConversationID, MarkedMessage: marked})
}

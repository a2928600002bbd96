package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/converse/internal/chat"
	"github.com/converse/internal/logger"
	"github.com/converse/internal/model"
	"github.com/converse/internal/presence"
	"github.com/converse/internal/typing"
)

// Engine is the slice of the conversation engine the hub needs to dispatch
// client-originated events.
type Engine interface {
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	MarkRead(ctx context.Context, conversationID, viewerID, latestSeenMessageID string) (*model.Message, error)
}

// Hub is the push broadcaster: it owns every live client connection, fans
// named events out to a user's connections (dropping silently when there are
// none) and feeds connect/disconnect into the presence tracker.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	tracker   *presence.Tracker
	engine    Engine
	debouncer *typing.Debouncer

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int, tracker *presence.Tracker) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		tracker:    tracker,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Attach binds the collaborators that are constructed after the hub (the
// engine pushes through the hub, the debouncer emits through it).
func (h *Hub) Attach(engine Engine, debouncer *typing.Debouncer) {
	h.engine = engine
	h.debouncer = debouncer
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	if h.debouncer != nil {
		h.debouncer.Stop()
	}
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if h.tracker.Connect(c.userID, c.id) {
		h.broadcastPresence(c.userID, true)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if h.tracker.Disconnect(c.userID, c.id) {
		h.broadcastPresence(c.userID, false)
	}
}

// HandleMessage dispatches events sent by a connected client.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventMessageRead:
		h.handleMessageRead(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" || h.engine == nil || h.debouncer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	convo, err := h.engine.Conversation(ctx, msg.ConversationID)
	if err != nil {
		logger.Errorf("ws typing lookup convo=%s user=%s: %v", msg.ConversationID, c.userID, err)
		return
	}
	if !convo.HasParticipant(c.userID) {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a participant"})
		return
	}
	h.debouncer.Notify(convo.ID, c.userID, convo.OtherParticipant(c.userID))
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" || msg.LatestSeenMessageID == "" || h.engine == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := h.engine.MarkRead(ctx, msg.ConversationID, c.userID, msg.LatestSeenMessageID); err != nil {
		if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrForbidden) {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: err.Error()})
			return
		}
		logger.Errorf("ws mark read convo=%s user=%s: %v", msg.ConversationID, c.userID, err)
	}
}

// MessageDelivered implements chat.Pusher.
func (h *Hub) MessageDelivered(recipientID string, msg *model.Message, sender model.UserPublic) {
	h.sendToUser(recipientID, OutgoingMessage{
		Type:    EventMessageDelivered,
		Payload: MessageDeliveredPayload{Message: msg, Sender: sender},
	})
}

// ReadReceiptUpdated implements chat.Pusher.
func (h *Hub) ReadReceiptUpdated(recipientID, conversationID string, marked *model.Message) {
	h.sendToUser(recipientID, OutgoingMessage{
		Type:    EventReadReceiptUpdated,
		Payload: ReadReceiptPayload{ConversationID: conversationID, Message: marked},
	})
}

// EmitTyping is the typing.EmitFunc wired into the debouncer.
func (h *Hub) EmitTyping(conversationID, typistID, recipientID string, started bool) {
	evType := EventTypingStopped
	if started {
		evType = EventTypingStarted
	}
	h.sendToUser(recipientID, OutgoingMessage{
		Type:    evType,
		Payload: TypingPayload{ConversationID: conversationID, UserID: typistID},
	})
}

// broadcastPresence fans a presence transition out to every connected user
// except the one transitioning; clients filter by whether the user appears in
// one of their cached conversations.
func (h *Hub) broadcastPresence(userID string, online bool) {
	evType := EventPresenceOffline
	if online {
		evType = EventPresenceOnline
	}
	out := OutgoingMessage{
		Type:    evType,
		Payload: PresencePayload{UserID: userID, Online: online},
	}

	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for uid, clients := range h.clients {
		if uid == userID {
			continue
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

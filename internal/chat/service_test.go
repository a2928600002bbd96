package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/converse/internal/model"
	"github.com/converse/internal/repository"
)

// fakeStore is an in-memory stand-in for the pgx-backed repositories with the
// same error contract: ErrNotFound for absent rows, ErrDuplicate on pair
// collisions, SetMarker mutates nothing when the target does not qualify.
type fakeStore struct {
	mu     sync.Mutex
	convos map[string]model.Conversation
	msgs   []model.Message
	users  map[string]model.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convos: make(map[string]model.Conversation),
		users:  make(map[string]model.User),
	}
}

func (f *fakeStore) addUser(id, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = model.User{ID: id, Username: username}
}

func (f *fakeStore) Create(ctx context.Context, c *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.convos {
		if existing.UserLoID == c.UserLoID && existing.UserHiID == c.UserHiID {
			return repository.ErrDuplicate
		}
	}
	f.convos[c.ID] = *c
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) FindByPair(ctx context.Context, lo, hi string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convos {
		if c.UserLoID == lo && c.UserHiID == hi {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, c := range f.convos {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) Append(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, *m)
	return nil
}

func (f *fakeStore) messageByID(id string) (*model.Message, bool) {
	for i := range f.msgs {
		if f.msgs[i].ID == id {
			m := f.msgs[i]
			return &m, true
		}
	}
	return nil, false
}

func (f *fakeStore) GetMessageByID(ctx context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messageByID(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) SetMarker(ctx context.Context, conversationID, authorID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := -1
	for i := range f.msgs {
		m := &f.msgs[i]
		if m.ID == messageID && m.ConversationID == conversationID && m.SenderID == authorID {
			target = i
			break
		}
	}
	if target < 0 {
		return repository.ErrNotFound
	}
	for i := range f.msgs {
		m := &f.msgs[i]
		if m.ConversationID == conversationID && m.SenderID == authorID {
			m.ReadMarker = false
		}
	}
	f.msgs[target].ReadMarker = true
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// markerCount returns the number of marked messages per (conversation, author).
func (f *fakeStore) markerCount(conversationID, authorID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && m.SenderID == authorID && m.ReadMarker {
			n++
		}
	}
	return n
}

// msgStoreAdapter and userStoreAdapter split fakeStore onto the narrower
// store interfaces without method name clashes.
type msgStoreAdapter struct{ *fakeStore }

func (a msgStoreAdapter) GetByID(ctx context.Context, id string) (*model.Message, error) {
	return a.GetMessageByID(ctx, id)
}

type userStoreAdapter struct{ *fakeStore }

func (a userStoreAdapter) GetByID(ctx context.Context, id string) (*model.User, error) {
	return a.GetUserByID(ctx, id)
}

type pushEvent struct {
	kind        string
	recipientID string
	messageID   string
}

type recordingPusher struct {
	mu     sync.Mutex
	events []pushEvent
}

func (p *recordingPusher) MessageDelivered(recipientID string, msg *model.Message, sender model.UserPublic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushEvent{kind: "message", recipientID: recipientID, messageID: msg.ID})
}

func (p *recordingPusher) ReadReceiptUpdated(recipientID, conversationID string, marked *model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushEvent{kind: "receipt", recipientID: recipientID, messageID: marked.ID})
}

func (p *recordingPusher) all() []pushEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushEvent(nil), p.events...)
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *fakePresence) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePresence) set(userID string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[string]bool)
	}
	p.online[userID] = v
}

type notifyCall struct {
	userID string
	title  string
	body   string
	data   map[string]string
}

type recordingNotifier struct {
	calls chan notifyCall
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	n.calls <- notifyCall{userID: userID, title: title, body: body, data: data}
}

func newTestService(store *fakeStore) (*Service, *recordingPusher, *fakePresence, *recordingNotifier) {
	pusher := &recordingPusher{}
	pres := &fakePresence{}
	notifier := &recordingNotifier{calls: make(chan notifyCall, 16)}
	svc := NewService(store, msgStoreAdapter{store}, userStoreAdapter{store}, pres, pusher, notifier)
	return svc, pusher, pres, notifier
}

func TestResolveCreatesOnceForBothDirections(t *testing.T) {
	store := newFakeStore()
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	c1, err := svc.Resolve(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c2, err := svc.Resolve(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Resolve reversed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Errorf("pair resolved to different conversations: %s vs %s", c1.ID, c2.ID)
	}
	if len(store.convos) != 1 {
		t.Errorf("want 1 conversation, got %d", len(store.convos))
	}
}

func TestResolveValidation(t *testing.T) {
	svc, _, _, _ := newTestService(newFakeStore())
	ctx := context.Background()

	for _, pair := range [][2]string{{"", "bob"}, {"alice", ""}, {"alice", "alice"}} {
		if _, err := svc.Resolve(ctx, pair[0], pair[1]); !errors.Is(err, ErrValidation) {
			t.Errorf("Resolve(%q, %q) err = %v, want ErrValidation", pair[0], pair[1], err)
		}
	}
}

func TestResolveConcurrentSamePair(t *testing.T) {
	store := newFakeStore()
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := svc.Resolve(ctx, a, b)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			ids <- c.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	first := ""
	for id := range ids {
		if first == "" {
			first = id
		} else if id != first {
			t.Fatalf("concurrent Resolve returned different ids: %s vs %s", first, id)
		}
	}
	if len(store.convos) != 1 {
		t.Errorf("want exactly 1 conversation after race, got %d", len(store.convos))
	}
}

func TestSendResolvesConversationAndPushes(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, pusher, pres, _ := newTestService(store)
	pres.set("bob", true)
	ctx := context.Background()

	msg, sender, err := svc.Send(ctx, "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ConversationID == "" {
		t.Fatal("message has no conversation id")
	}
	if sender.Username != "alice" {
		t.Errorf("sender username = %q, want alice", sender.Username)
	}

	events := pusher.all()
	if len(events) != 1 || events[0].kind != "message" || events[0].recipientID != "bob" {
		t.Fatalf("push events = %+v, want one message to bob", events)
	}

	// Second message reuses the same conversation via the fast path.
	msg2, _, err := svc.Send(ctx, "bob", "", "there", msg.ConversationID)
	if err != nil {
		t.Fatalf("Send with conversation id: %v", err)
	}
	if msg2.ConversationID != msg.ConversationID {
		t.Errorf("fast path created a new conversation")
	}
	events = pusher.all()
	if len(events) != 2 || events[1].recipientID != "alice" {
		t.Fatalf("push events = %+v, want second message delivered to alice", events)
	}
}

func TestSendForbiddenForNonParticipant(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	store.addUser("mallory", "mallory")
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	msg, _, err := svc.Send(ctx, "alice", "bob", "hi", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, _, err := svc.Send(ctx, "mallory", "", "intrusion", msg.ConversationID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Send by stranger err = %v, want ErrForbidden", err)
	}
}

func TestSendValidation(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	if _, _, err := svc.Send(ctx, "alice", "bob", "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty text err = %v, want ErrValidation", err)
	}
	if _, _, err := svc.Send(ctx, "alice", "alice", "self", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("self-send err = %v, want ErrValidation", err)
	}
	if _, _, err := svc.Send(ctx, "alice", "", "hi", "missing-convo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown conversation err = %v, want ErrNotFound", err)
	}
}

func TestSendNotifiesOfflineRecipient(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, _, pres, notifier := newTestService(store)
	ctx := context.Background()

	// bob offline: web push fires.
	msg, _, err := svc.Send(ctx, "alice", "bob", "hello bob", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case call := <-notifier.calls:
		if call.userID != "bob" || call.title != "alice" || call.body != "hello bob" {
			t.Errorf("notify call = %+v", call)
		}
		if call.data["message_id"] != msg.ID {
			t.Errorf("notify data message_id = %q, want %q", call.data["message_id"], msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a web push for offline recipient")
	}

	// bob online: no web push.
	pres.set("bob", true)
	if _, _, err := svc.Send(ctx, "alice", "bob", "again", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case call := <-notifier.calls:
		t.Errorf("unexpected web push for online recipient: %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

// seedConversation stores a conversation with messages from bob so alice has
// something to acknowledge.
func seedConversation(t *testing.T, svc *Service, store *fakeStore, texts ...string) (convoID string, msgIDs []string) {
	t.Helper()
	ctx := context.Background()
	for _, text := range texts {
		m, _, err := svc.Send(ctx, "bob", "alice", text, "")
		if err != nil {
			t.Fatalf("seed Send: %v", err)
		}
		convoID = m.ConversationID
		msgIDs = append(msgIDs, m.ID)
	}
	return convoID, msgIDs
}

func TestMarkReadMovesSingleMarker(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, pusher, _, _ := newTestService(store)
	ctx := context.Background()

	convoID, ids := seedConversation(t, svc, store, "a", "b", "c")

	marked, err := svc.MarkRead(ctx, convoID, "alice", ids[1])
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if marked.ID != ids[1] || !marked.ReadMarker {
		t.Errorf("marked = %+v, want id %s with marker set", marked, ids[1])
	}
	if n := store.markerCount(convoID, "bob"); n != 1 {
		t.Errorf("marker count = %d, want 1", n)
	}
	if n, _ := svc.UnreadCount(ctx, convoID, "alice"); n != 1 {
		t.Errorf("unread after marking b = %d, want 1", n)
	}

	// Advance the marker: old one is cleared.
	if _, err := svc.MarkRead(ctx, convoID, "alice", ids[2]); err != nil {
		t.Fatalf("MarkRead advance: %v", err)
	}
	if n := store.markerCount(convoID, "bob"); n != 1 {
		t.Errorf("marker count after advance = %d, want 1", n)
	}
	if n, _ := svc.UnreadCount(ctx, convoID, "alice"); n != 0 {
		t.Errorf("unread after marking last = %d, want 0", n)
	}

	// Re-marking the same message is idempotent.
	if _, err := svc.MarkRead(ctx, convoID, "alice", ids[2]); err != nil {
		t.Fatalf("MarkRead idempotent: %v", err)
	}
	if n := store.markerCount(convoID, "bob"); n != 1 {
		t.Errorf("marker count after re-mark = %d, want 1", n)
	}

	// Every successful mark pushed a receipt to the author.
	receipts := 0
	for _, e := range pusher.all() {
		if e.kind == "receipt" {
			receipts++
			if e.recipientID != "bob" {
				t.Errorf("receipt pushed to %s, want bob", e.recipientID)
			}
		}
	}
	if receipts != 3 {
		t.Errorf("receipt pushes = %d, want 3", receipts)
	}
}

func TestMarkReadUnknownMessageMutatesNothing(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	convoID, ids := seedConversation(t, svc, store, "a", "b")
	if _, err := svc.MarkRead(ctx, convoID, "alice", ids[0]); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	if _, err := svc.MarkRead(ctx, convoID, "alice", "no-such-message"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkRead unknown err = %v, want ErrNotFound", err)
	}
	// The previous marker survives untouched.
	m, _ := store.GetMessageByID(ctx, ids[0])
	if !m.ReadMarker {
		t.Error("failed mark cleared the existing marker")
	}
}

func TestMarkReadCannotTargetOwnMessage(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	convoID, _ := seedConversation(t, svc, store, "from bob")
	own, _, err := svc.Send(ctx, "alice", "", "from alice", convoID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	// alice acknowledging her own message targets sender bob, so the row
	// does not qualify and nothing changes.
	if _, err := svc.MarkRead(ctx, convoID, "alice", own.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRead own message err = %v, want ErrNotFound", err)
	}
}

func TestMarkReadForbidden(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	convoID, ids := seedConversation(t, svc, store, "a")
	if _, err := svc.MarkRead(ctx, convoID, "mallory", ids[0]); !errors.Is(err, ErrForbidden) {
		t.Errorf("MarkRead by stranger err = %v, want ErrForbidden", err)
	}
}

func TestConcurrentMarkReadKeepsSingleMarker(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	svc, _, _, _ := newTestService(store)
	ctx := context.Background()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("m%d", i)
	}
	convoID, ids := seedConversation(t, svc, store, texts...)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.MarkRead(ctx, convoID, "alice", ids[i%len(ids)]); err != nil {
				t.Errorf("MarkRead: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := store.markerCount(convoID, "bob"); n != 1 {
		t.Errorf("marker count after concurrent marks = %d, want exactly 1", n)
	}
}

func TestListConversations(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", "alice")
	store.addUser("bob", "bob")
	store.addUser("carol", "carol")
	svc, _, pres, _ := newTestService(store)
	pres.set("bob", true)
	ctx := context.Background()

	convoID, ids := seedConversation(t, svc, store, "hi", "there")
	if _, _, err := svc.Send(ctx, "carol", "alice", "hey", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := svc.MarkRead(ctx, convoID, "alice", ids[0]); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	views, err := svc.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}

	var bobView *model.ConversationView
	for i := range views {
		if views[i].OtherUser.ID == "bob" {
			bobView = &views[i]
		}
	}
	if bobView == nil {
		t.Fatal("no view for the conversation with bob")
	}
	if !bobView.OtherUser.Online {
		t.Error("bob should be online in the view")
	}
	if bobView.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", bobView.UnreadCount)
	}
	if bobView.MostRecentRead != ids[0] {
		t.Errorf("most recent read = %q, want %q", bobView.MostRecentRead, ids[0])
	}
	if bobView.LatestMessageText != "there" {
		t.Errorf("latest text = %q, want %q", bobView.LatestMessageText, "there")
	}
	if len(bobView.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(bobView.Messages))
	}
}

package api

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const localIdPrefix = "local-"

// Draft is the outbound body for a send call.
type Draft struct {
	Content string      `json:"content"`
	Type    MessageType `json:"messageType"`
	Sender  string      `json:"sender"`
}

// MessageBackend is the slice of the REST contract the store consumes.
type MessageBackend interface {
	ListMessages(ctx context.Context, conversationId string) ([]Message, error)
	SendMessage(ctx context.Context, conversationId string, draft Draft) (Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
	ReactToMessage(ctx context.Context, messageId string, reaction string) (Message, error)
	MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) error
}

// SummaryRefresher receives the new last message of a conversation after a
// mutation. The chat directory implements it; cross-component updates go
// through this call only.
type SummaryRefresher interface {
	RefreshSummary(conversationId string, message Message)
}

// ForwardResult reports a forward batch per source message. A partial
// failure never aborts the rest of the batch.
type ForwardResult struct {
	Forwarded []Message
	Failed    map[string]error
}

// Store owns the per-conversation message cache. Fetches are collapsed so
// at most one request per conversation is in flight, and mutations for one
// conversation are serialized against each other.
type Store struct {
	backend   MessageBackend
	summaries SummaryRefresher

	flight singleflight.Group
	now    func() time.Time
	newId  func() string

	mu        sync.Mutex
	cache     map[string][]Message
	errored   map[string]bool
	convLocks map[string]*sync.Mutex
}

func NewStore(backend MessageBackend, summaries SummaryRefresher) *Store {
	return &Store{
		backend:   backend,
		summaries: summaries,
		now:       time.Now,
		newId:     func() string { return localIdPrefix + uuid.NewString() },
		cache:     make(map[string][]Message),
		errored:   make(map[string]bool),
		convLocks: make(map[string]*sync.Mutex),
	}
}

// Load fetches the message list for a conversation. Concurrent calls for
// the same id share a single outbound request. The fetch result is
// authoritative: it replaces the cached list in full, with unconfirmed
// optimistic entries re-appended. On failure the prior cache is untouched
// and the conversation is marked errored for the caller to retry.
func (s *Store) Load(ctx context.Context, conversationId string) ([]Message, error) {
	if conversationId == "" {
		return nil, Errorf(KindInvalidPayload, "store.load", "no conversation selected")
	}

	v, err, _ := s.flight.Do(conversationId, func() (interface{}, error) {
		// The fetch is shared by every caller that joined the flight, so
		// it must not inherit the first caller's cancellation.
		fctx := context.WithoutCancel(ctx)
		messages, err := s.backend.ListMessages(fctx, conversationId)
		if err != nil && Transient(err) {
			log.Printf("message load for %s failed (%s), retrying once: %v", conversationId, KindOf(err), err)
			messages, err = s.backend.ListMessages(fctx, conversationId)
		}
		if err != nil {
			s.mu.Lock()
			s.errored[conversationId] = true
			s.mu.Unlock()
			return nil, err
		}

		s.mu.Lock()
		pending := pendingOf(s.cache[conversationId])
		s.cache[conversationId] = append(messages, pending...)
		s.errored[conversationId] = false
		out := sortedCopy(s.cache[conversationId])
		s.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// Messages returns a timestamp-ordered copy of the cached list. Realtime
// events may arrive out of server order, so ordering is imposed here
// rather than trusted from arrival order.
func (s *Store) Messages(conversationId string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedCopy(s.cache[conversationId])
}

// Errored reports whether the last load for the conversation failed.
func (s *Store) Errored(conversationId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errored[conversationId]
}

// Send appends an optimistic entry immediately, issues the backend call,
// and resyncs from the backend on success so server-assigned ids and
// timestamps are canonical. On failure the entry stays visible with
// status failed; sends are never auto-retried.
func (s *Store) Send(ctx context.Context, conversationId, content, sender string) (Message, error) {
	content = strings.TrimSpace(content)
	if conversationId == "" {
		return Message{}, Errorf(KindInvalidPayload, "store.send", "no conversation selected")
	}
	if content == "" {
		return Message{}, Errorf(KindInvalidPayload, "store.send", "message content is empty")
	}

	unlock := s.lockConversation(conversationId)
	defer unlock()

	local := Message{
		Id:             s.newId(),
		ConversationId: conversationId,
		Sender:         sender,
		Content:        content,
		Type:           TypeText,
		Timestamp:      s.now(),
		Status:         StatusSending,
	}
	s.mu.Lock()
	s.cache[conversationId] = append(s.cache[conversationId], local)
	s.mu.Unlock()

	confirmed, err := s.backend.SendMessage(ctx, conversationId, Draft{
		Content: content,
		Type:    TypeText,
		Sender:  sender,
	})
	if err != nil {
		s.markStatus(conversationId, local.Id, StatusFailed)
		return Message{}, err
	}

	s.confirm(conversationId, local.Id, confirmed)
	if _, err := s.Load(ctx, conversationId); err != nil {
		log.Printf("resync after send to %s failed, keeping confirmed entry: %v", conversationId, err)
	}
	if s.summaries != nil {
		s.summaries.RefreshSummary(conversationId, confirmed)
	}
	return confirmed, nil
}

// Delete removes a message. An id absent from the cache is NotFound and
// the cache is left untouched. On success the list is resynced and the
// conversation summary refreshed; on failure the message stays visible.
func (s *Store) Delete(ctx context.Context, messageId, conversationId string) error {
	unlock := s.lockConversation(conversationId)
	defer unlock()

	if !s.contains(conversationId, messageId) {
		return Errorf(KindNotFound, "store.delete", "message %s not in conversation %s", messageId, conversationId)
	}
	if err := s.backend.DeleteMessage(ctx, messageId); err != nil {
		return err
	}
	// The server no longer has the message; it must not stay visible even
	// if the resync below fails.
	s.drop(conversationId, messageId)

	messages, err := s.Load(ctx, conversationId)
	if err != nil {
		log.Printf("resync after delete in %s failed: %v", conversationId, err)
		return nil
	}
	if s.summaries != nil && len(messages) > 0 {
		s.summaries.RefreshSummary(conversationId, messages[len(messages)-1])
	}
	return nil
}

// Forward sends a derived copy of each message to the target conversation.
// Failures are collected per source message rather than aborting the batch.
func (s *Store) Forward(ctx context.Context, messages []Message, targetConversationId, sender string) (ForwardResult, error) {
	if targetConversationId == "" {
		return ForwardResult{}, Errorf(KindInvalidPayload, "store.forward", "no target conversation")
	}

	unlock := s.lockConversation(targetConversationId)
	defer unlock()

	result := ForwardResult{Failed: make(map[string]error)}
	for _, m := range messages {
		confirmed, err := s.backend.SendMessage(ctx, targetConversationId, Draft{
			Content: "Forwarded: " + m.Content,
			Type:    TypeText,
			Sender:  sender,
		})
		if err != nil {
			result.Failed[m.Id] = err
			continue
		}
		result.Forwarded = append(result.Forwarded, confirmed)
	}

	if len(result.Forwarded) > 0 {
		if _, err := s.Load(ctx, targetConversationId); err != nil {
			log.Printf("resync after forward to %s failed: %v", targetConversationId, err)
		}
		if s.summaries != nil {
			last := result.Forwarded[len(result.Forwarded)-1]
			s.summaries.RefreshSummary(targetConversationId, last)
		}
	}
	return result, nil
}

// React toggles the user's reaction optimistically, then reconciles with
// the server's view of the message. A failed call restores the entry.
func (s *Store) React(ctx context.Context, messageId, conversationId, emoji, identity string) error {
	unlock := s.lockConversation(conversationId)
	defer unlock()

	before, ok := s.get(conversationId, messageId)
	if !ok {
		return Errorf(KindNotFound, "store.react", "message %s not in conversation %s", messageId, conversationId)
	}
	s.replace(conversationId, toggleReaction(before, emoji, identity))

	updated, err := s.backend.ReactToMessage(ctx, messageId, emoji)
	if err != nil {
		s.replace(conversationId, before)
		return err
	}
	if updated.Id == messageId {
		s.replace(conversationId, updated)
	}
	return nil
}

// MarkRead reports the messages as read and promotes their local status.
func (s *Store) MarkRead(ctx context.Context, conversationId string, messageIds []string) error {
	if len(messageIds) == 0 {
		return nil
	}
	if err := s.backend.MarkMessagesRead(ctx, conversationId, messageIds); err != nil {
		return err
	}
	s.PromoteRead(conversationId, messageIds)
	return nil
}

// PromoteRead advances cached statuses to read without a backend call;
// realtime read receipts use this directly.
func (s *Store) PromoteRead(conversationId string, messageIds []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(messageIds))
	for _, id := range messageIds {
		ids[id] = struct{}{}
	}
	list := s.cache[conversationId]
	for i := range list {
		if _, ok := ids[list[i].Id]; ok {
			list[i].Status = StatusRead
		}
	}
}

// AppendIncoming adds a pushed message to the cache unless an entry with
// the same id is already present. Duplicate realtime delivery is expected
// and must not duplicate entries.
func (s *Store) AppendIncoming(conversationId string, message Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.cache[conversationId] {
		if m.Id == message.Id {
			return false
		}
	}
	if message.Status == "" {
		message.Status = StatusSent
	}
	s.cache[conversationId] = append(s.cache[conversationId], message)
	return true
}

// ApplyReaction replaces a cached message's reactions from a realtime
// reaction event. Unknown ids are ignored.
func (s *Store) ApplyReaction(conversationId, messageId string, reactions map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cache[conversationId]
	for i := range list {
		if list[i].Id == messageId {
			list[i].Reactions = reactions
			return
		}
	}
}

func (s *Store) lockConversation(conversationId string) func() {
	s.mu.Lock()
	l, ok := s.convLocks[conversationId]
	if !ok {
		l = &sync.Mutex{}
		s.convLocks[conversationId] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) contains(conversationId, messageId string) bool {
	_, ok := s.get(conversationId, messageId)
	return ok
}

func (s *Store) get(conversationId, messageId string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.cache[conversationId] {
		if m.Id == messageId {
			return m, true
		}
	}
	return Message{}, false
}

func (s *Store) replace(conversationId string, message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cache[conversationId]
	for i := range list {
		if list[i].Id == message.Id {
			list[i] = message
			return
		}
	}
}

// confirm swaps the optimistic entry for the server's message. The
// accepted send stays in the cache either way; a failed resync must not
// lose it.
func (s *Store) confirm(conversationId, localId string, confirmed Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cache[conversationId]
	for i := range list {
		if list[i].Id == localId {
			list[i] = confirmed
			return
		}
	}
	s.cache[conversationId] = append(list, confirmed)
}

func (s *Store) drop(conversationId, messageId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cache[conversationId]
	for i := range list {
		if list[i].Id == messageId {
			s.cache[conversationId] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Store) markStatus(conversationId, messageId string, status DeliveryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cache[conversationId]
	for i := range list {
		if list[i].Id == messageId {
			list[i].Status = status
			return
		}
	}
}

// pendingOf keeps the locally created entries that have not been confirmed
// by the server yet; an authoritative fetch must not silently discard an
// attempt still in flight or a visible failure.
func pendingOf(messages []Message) []Message {
	var pending []Message
	for _, m := range messages {
		if strings.HasPrefix(m.Id, localIdPrefix) {
			pending = append(pending, m)
		}
	}
	return pending
}

func sortedCopy(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func toggleReaction(m Message, emoji, identity string) Message {
	reactions := make(map[string][]string, len(m.Reactions))
	for k, v := range m.Reactions {
		reactions[k] = append([]string(nil), v...)
	}
	users := reactions[emoji]
	for i, u := range users {
		if u == identity {
			reactions[emoji] = append(users[:i], users[i+1:]...)
			if len(reactions[emoji]) == 0 {
				delete(reactions, emoji)
			}
			m.Reactions = reactions
			return m
		}
	}
	reactions[emoji] = append(users, identity)
	m.Reactions = reactions
	return m
}

package api

import (
	"context"
	"log"
	"strings"
	"sync"
)

// ChatBackend is the slice of the REST contract the directory consumes.
type ChatBackend interface {
	ListChats(ctx context.Context) ([]Conversation, error)
	CreateChat(ctx context.Context, newConversation NewConversation) (Conversation, error)
	JoinChat(ctx context.Context, conversationId string) (Conversation, error)
	JoinChatByName(ctx context.Context, name string) (Conversation, error)
	SearchChatsByName(ctx context.Context, query string) ([]Conversation, error)
}

// Directory owns the list of conversations visible to the current user.
// On load failure the previous list is retained so the view can keep
// rendering last-known-good data next to a retry affordance.
type Directory struct {
	backend ChatBackend
	mode    PolicyMode

	mu            sync.Mutex
	user          User
	conversations []Conversation
	loaded        bool
}

func NewDirectory(backend ChatBackend, mode PolicyMode, user User) *Directory {
	return &Directory{
		backend: backend,
		mode:    mode,
		user:    user,
	}
}

// Load fetches the conversation list, applies the visibility policy, and
// replaces the directory contents. Listing is idempotent, so a transient
// failure is retried once before surfacing.
func (d *Directory) Load(ctx context.Context) ([]Conversation, error) {
	conversations, err := d.backend.ListChats(ctx)
	if err != nil && Transient(err) {
		log.Printf("conversation list failed (%s), retrying once: %v", KindOf(err), err)
		conversations, err = d.backend.ListChats(ctx)
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.conversations = ApplyVisibilityPolicy(conversations, d.user, d.mode)
	d.loaded = true
	return copyConversations(d.conversations), nil
}

// Conversations returns a copy of the current list in backend order.
func (d *Directory) Conversations() []Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyConversations(d.conversations)
}

// Loaded reports whether at least one load has succeeded.
func (d *Directory) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Get returns the conversation with the given id, if visible.
func (d *Directory) Get(conversationId string) (Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conversations {
		if c.Id == conversationId {
			return c, true
		}
	}
	return Conversation{}, false
}

// RefreshSummary replaces one conversation's denormalized last message
// after a send or delete, without a full reload. LastActivity never moves
// backwards.
func (d *Directory) RefreshSummary(conversationId string, message Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.conversations {
		if d.conversations[i].Id != conversationId {
			continue
		}
		summary := message.Summary()
		d.conversations[i].LastMessage = &summary
		if summary.Timestamp.After(d.conversations[i].LastActivity) {
			d.conversations[i].LastActivity = summary.Timestamp
		}
		return
	}
}

// Filter narrows the current list by case-insensitive name match; the
// sidebar search box uses this purely locally.
func (d *Directory) Filter(term string) []Conversation {
	term = strings.ToLower(strings.TrimSpace(term))
	d.mu.Lock()
	defer d.mu.Unlock()
	if term == "" {
		return copyConversations(d.conversations)
	}
	out := make([]Conversation, 0, len(d.conversations))
	for _, c := range d.conversations {
		if strings.Contains(strings.ToLower(c.Name), term) {
			out = append(out, c)
		}
	}
	return out
}

// Create asks the backend for a new conversation and reloads the list so
// the policy decides its visibility.
func (d *Directory) Create(ctx context.Context, newConversation NewConversation) (Conversation, error) {
	if strings.TrimSpace(newConversation.Name) == "" {
		return Conversation{}, Errorf(KindInvalidPayload, "directory.create", "conversation name is empty")
	}
	conversation, err := d.backend.CreateChat(ctx, newConversation)
	if err != nil {
		return Conversation{}, err
	}
	if _, err := d.Load(ctx); err != nil {
		log.Printf("reload after create failed: %v", err)
	}
	return conversation, nil
}

// Materialize resolves a placeholder conversation id to a real one,
// creating the backing conversation on first use. Ordinary ids pass
// through untouched. The reload inside Create lets the policy replace the
// placeholder with the created conversation.
func (d *Directory) Materialize(ctx context.Context, conversationId string) (string, error) {
	if conversationId != PendingAdminDM {
		return conversationId, nil
	}
	d.mu.Lock()
	user := d.user
	d.mu.Unlock()

	conversation, err := d.Create(ctx, NewConversation{
		Name:         "Admin",
		Kind:         KindDirect,
		Participants: []string{user.Id},
	})
	if err != nil {
		return "", err
	}
	log.Printf("created direct conversation %s for %s", conversation.Id, user.Id)
	return conversation.Id, nil
}

// Join joins an existing conversation by id.
func (d *Directory) Join(ctx context.Context, conversationId string) (Conversation, error) {
	conversation, err := d.backend.JoinChat(ctx, conversationId)
	if err != nil {
		return Conversation{}, err
	}
	if _, err := d.Load(ctx); err != nil {
		log.Printf("reload after join failed: %v", err)
	}
	return conversation, nil
}

// JoinByName joins an existing conversation by its display name.
func (d *Directory) JoinByName(ctx context.Context, name string) (Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return Conversation{}, Errorf(KindInvalidPayload, "directory.join", "conversation name is empty")
	}
	conversation, err := d.backend.JoinChatByName(ctx, name)
	if err != nil {
		return Conversation{}, err
	}
	if _, err := d.Load(ctx); err != nil {
		log.Printf("reload after join failed: %v", err)
	}
	return conversation, nil
}

// Search runs the backend fuzzy name search. No match is an empty slice,
// not an error.
func (d *Directory) Search(ctx context.Context, query string) ([]Conversation, error) {
	if strings.TrimSpace(query) == "" {
		return []Conversation{}, nil
	}
	results, err := d.backend.SearchChatsByName(ctx, query)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []Conversation{}
	}
	return results, nil
}

func copyConversations(conversations []Conversation) []Conversation {
	out := make([]Conversation, len(conversations))
	copy(out, conversations)
	return out
}

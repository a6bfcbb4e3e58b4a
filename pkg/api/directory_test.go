package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatBackend struct {
	mu        sync.Mutex
	listCalls int
	chats     []Conversation
	listErr   error

	created   []NewConversation
	createErr error

	joined     []string
	searchHits []Conversation
	searchErr  error
}

func (f *fakeChatBackend) ListChats(ctx context.Context) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Conversation(nil), f.chats...), nil
}

func (f *fakeChatBackend) CreateChat(ctx context.Context, newConversation NewConversation) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Conversation{}, f.createErr
	}
	f.created = append(f.created, newConversation)
	c := Conversation{Id: "new", Name: newConversation.Name, Kind: newConversation.Kind, Participants: newConversation.Participants}
	f.chats = append(f.chats, c)
	return c, nil
}

func (f *fakeChatBackend) JoinChat(ctx context.Context, conversationId string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, conversationId)
	return Conversation{Id: conversationId}, nil
}

func (f *fakeChatBackend) JoinChatByName(ctx context.Context, name string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, name)
	return Conversation{Id: "byname", Name: name}, nil
}

func (f *fakeChatBackend) SearchChatsByName(ctx context.Context, query string) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHits, nil
}

func TestDirectoryLoadOpenPolicyScenario(t *testing.T) {
	t1 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	backend := &fakeChatBackend{chats: []Conversation{
		{Id: "c1", Name: "General", LastMessage: &LastMessage{Content: "hi", Timestamp: t1}, LastActivity: t1},
		{Id: "c2", Name: "Admin", Kind: KindDirect},
	}}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1", Email: "alice@example.com"})

	conversations, err := d.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "c1", conversations[0].Id)
	assert.Equal(t, "c2", conversations[1].Id)
	assert.True(t, conversations[0].CanJoin)
	assert.True(t, conversations[1].CanJoin)
	assert.True(t, d.Loaded())
}

func TestDirectoryLoadFailureRetainsLastKnownGood(t *testing.T) {
	backend := &fakeChatBackend{chats: []Conversation{{Id: "c1", Name: "General"}}}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})

	_, err := d.Load(context.Background())
	require.NoError(t, err)

	backend.mu.Lock()
	backend.listErr = Errorf(KindServerError, "test", "boom")
	backend.mu.Unlock()

	_, err = d.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindServerError, KindOf(err))
	assert.Len(t, d.Conversations(), 1, "previous list survives a failed reload")
}

func TestDirectoryLoadRetriesTransientOnce(t *testing.T) {
	backend := &fakeChatBackend{listErr: Errorf(KindNetworkError, "test", "timeout")}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})

	_, err := d.Load(context.Background())
	require.Error(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 2, backend.listCalls)
}

func TestDirectoryNoRetryOnAuthFailure(t *testing.T) {
	backend := &fakeChatBackend{listErr: Errorf(KindAuthenticationRequired, "test", "expired")}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})

	_, err := d.Load(context.Background())
	require.Error(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.listCalls)
}

func TestRefreshSummaryReplacesAndStaysMonotonic(t *testing.T) {
	t1 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	backend := &fakeChatBackend{chats: []Conversation{
		{Id: "c1", Name: "General", LastActivity: t1},
	}}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})
	_, err := d.Load(context.Background())
	require.NoError(t, err)

	newer := Message{Id: "m2", Sender: "bob", Content: "newer", Timestamp: t1.Add(time.Hour)}
	d.RefreshSummary("c1", newer)

	c, ok := d.Get("c1")
	require.True(t, ok)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "newer", c.LastMessage.Content)
	assert.Equal(t, t1.Add(time.Hour), c.LastActivity)

	// An older message replaces the summary but never rolls lastActivity back.
	older := Message{Id: "m0", Sender: "bob", Content: "older", Timestamp: t1.Add(-time.Hour)}
	d.RefreshSummary("c1", older)

	c, _ = d.Get("c1")
	assert.Equal(t, "older", c.LastMessage.Content)
	assert.Equal(t, t1.Add(time.Hour), c.LastActivity)
}

func TestDirectorySearch(t *testing.T) {
	backend := &fakeChatBackend{searchHits: nil}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})

	// Blank queries never hit the backend.
	results, err := d.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, results)

	// No match is an empty slice, not an error.
	results, err = d.Search(context.Background(), "fest")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestDirectoryFilter(t *testing.T) {
	backend := &fakeChatBackend{chats: []Conversation{
		{Id: "c1", Name: "Fansat Arts Fest"},
		{Id: "c2", Name: "Workshops"},
	}}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})
	_, err := d.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, d.Filter(""), 2)
	hits := d.Filter("fest")
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Id)
}

func TestDirectoryCreateValidatesName(t *testing.T) {
	backend := &fakeChatBackend{}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})

	_, err := d.Create(context.Background(), NewConversation{Name: "  "})
	require.Error(t, err)
	assert.Equal(t, KindInvalidPayload, KindOf(err))
	assert.Empty(t, backend.created)
}

func TestMaterializePassesOrdinaryIdsThrough(t *testing.T) {
	backend := &fakeChatBackend{}
	d := NewDirectory(backend, PolicyRestricted, User{Id: "u1"})

	id, err := d.Materialize(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	assert.Empty(t, backend.created, "real ids never trigger a create")
}

func TestMaterializeCreatesPendingAdminDM(t *testing.T) {
	backend := &fakeChatBackend{chats: []Conversation{{Id: "c1", Name: "General", Kind: KindGroup}}}
	d := NewDirectory(backend, PolicyRestricted, User{Id: "u1", Email: "alice@example.com"})
	_, err := d.Load(context.Background())
	require.NoError(t, err)

	// The placeholder shows up until the backing conversation exists.
	placeholder, ok := d.Get(PendingAdminDM)
	require.True(t, ok)
	assert.Equal(t, KindDirect, placeholder.Kind)

	id, err := d.Materialize(context.Background(), PendingAdminDM)
	require.NoError(t, err)
	assert.Equal(t, "new", id)

	require.Len(t, backend.created, 1)
	assert.Equal(t, KindDirect, backend.created[0].Kind)
	assert.Equal(t, []string{"u1"}, backend.created[0].Participants)
}

func TestDirectoryCreateReloads(t *testing.T) {
	backend := &fakeChatBackend{}
	d := NewDirectory(backend, PolicyOpen, User{Id: "u1"})

	created, err := d.Create(context.Background(), NewConversation{Name: "Festival Chat", Kind: KindGroup})
	require.NoError(t, err)
	assert.Equal(t, "new", created.Id)
	assert.Len(t, d.Conversations(), 1, "list reloaded after create")
}

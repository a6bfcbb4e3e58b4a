// Package app orchestrates the chat directory, message store, and
// realtime channel behind the conversation view.
package app

import (
	"context"
	"log"
	"sync"

	"festchat/pkg/api"
	"festchat/pkg/realtime"
)

// State is the view's per-conversation lifecycle. Error is transient:
// every failed sub-operation is recoverable by retry.
type State string

const (
	StateUnselected State = "unselected"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateSending    State = "sending"
	StateDeleting   State = "deleting"
	StateReacting   State = "reacting"
	StateError      State = "error"
)

// Rooms is the slice of the realtime channel the view drives.
type Rooms interface {
	JoinChat(conversationId string)
	LeaveChat(conversationId string)
	IsConnected() bool
}

// Identity yields the current user's outbound identity and alias set.
type Identity interface {
	SenderIdentity() string
	IdentityAliases() map[string]struct{}
}

// View renders one active conversation over the directory and store. All
// cross-component traffic goes through it; neither store reaches into the
// other's state.
type View struct {
	directory *api.Directory
	store     *api.Store
	rooms     Rooms
	identity  Identity

	mu         sync.Mutex
	state      State
	active     string
	generation uint64
	lastErr    error
	typing     map[string]string
}

func NewView(directory *api.Directory, store *api.Store, rooms Rooms, identity Identity) *View {
	return &View{
		directory: directory,
		store:     store,
		rooms:     rooms,
		identity:  identity,
		state:     StateUnselected,
		typing:    make(map[string]string),
	}
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Active returns the selected conversation id, empty when unselected.
func (v *View) Active() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *View) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Messages is the render list for the active conversation, ordered by
// timestamp.
func (v *View) Messages() []api.Message {
	v.mu.Lock()
	active := v.active
	v.mu.Unlock()
	if active == "" {
		return nil
	}
	return v.store.Messages(active)
}

// Typing reports who is typing in the active conversation, if anyone.
func (v *View) Typing() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.typing[v.active]
}

// Select makes a conversation active and loads its messages. Selecting
// again while a load is in flight supersedes it: the generation counter is
// the stale-response guard, so an older load resolving late is discarded
// instead of clobbering the newer conversation's render state.
func (v *View) Select(ctx context.Context, conversationId string) error {
	// Placeholder entries have no backing conversation yet; create it
	// before anything subscribes to or fetches the id.
	resolved, err := v.directory.Materialize(ctx, conversationId)
	if err != nil {
		v.mu.Lock()
		v.state = StateError
		v.lastErr = err
		v.mu.Unlock()
		return err
	}
	conversationId = resolved

	v.mu.Lock()
	previous := v.active
	v.generation++
	generation := v.generation
	v.active = conversationId
	v.state = StateLoading
	v.lastErr = nil
	v.mu.Unlock()

	if v.rooms != nil {
		if previous != "" && previous != conversationId {
			v.rooms.LeaveChat(previous)
		}
		v.rooms.JoinChat(conversationId)
	}

	_, err = v.store.Load(ctx, conversationId)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation != generation {
		// A newer selection superseded this load; its outcome is not
		// rendered either way.
		return nil
	}
	if err != nil {
		v.state = StateError
		v.lastErr = err
		return err
	}
	v.state = StateReady
	return nil
}

// Send submits the composed message to the active conversation.
func (v *View) Send(ctx context.Context, content string) error {
	active, err := v.begin(StateSending)
	if err != nil {
		return err
	}
	_, err = v.store.Send(ctx, active, content, v.identity.SenderIdentity())
	v.finish(err)
	return err
}

// Delete removes a message from the active conversation.
func (v *View) Delete(ctx context.Context, messageId string) error {
	active, err := v.begin(StateDeleting)
	if err != nil {
		return err
	}
	err = v.store.Delete(ctx, messageId, active)
	v.finish(err)
	return err
}

// React toggles the current user's reaction on a message.
func (v *View) React(ctx context.Context, messageId, emoji string) error {
	active, err := v.begin(StateReacting)
	if err != nil {
		return err
	}
	err = v.store.React(ctx, messageId, active, emoji, v.identity.SenderIdentity())
	v.finish(err)
	return err
}

// Forward sends copies of the given active-conversation messages to
// another conversation. Per-message failures are reported in the result.
func (v *View) Forward(ctx context.Context, messageIds []string, targetConversationId string) (api.ForwardResult, error) {
	v.mu.Lock()
	active := v.active
	v.mu.Unlock()
	if active == "" {
		return api.ForwardResult{}, api.Errorf(api.KindInvalidPayload, "view.forward", "no conversation selected")
	}

	wanted := make(map[string]struct{}, len(messageIds))
	for _, id := range messageIds {
		wanted[id] = struct{}{}
	}
	var messages []api.Message
	for _, m := range v.store.Messages(active) {
		if _, ok := wanted[m.Id]; ok {
			messages = append(messages, m)
		}
	}
	return v.store.Forward(ctx, messages, targetConversationId, v.identity.SenderIdentity())
}

// Retry reloads the active conversation after a transient error.
func (v *View) Retry(ctx context.Context) error {
	v.mu.Lock()
	active := v.active
	v.mu.Unlock()
	if active == "" {
		return api.Errorf(api.KindInvalidPayload, "view.retry", "no conversation selected")
	}
	return v.Select(ctx, active)
}

// Attach subscribes the view to a channel's events.
func (v *View) Attach(channel *realtime.Channel) {
	channel.OnEvent(v.HandleEvent)
}

// HandleEvent bridges pushed events into the store and directory. Events
// for the open conversation mutate the message cache; everything else only
// freshens the directory summary. Runs on the channel's read goroutine and
// never surfaces an error into the render path.
func (v *View) HandleEvent(env realtime.Envelope) {
	v.mu.Lock()
	active := v.active
	v.mu.Unlock()

	switch env.Event {
	case realtime.EventNewMessage:
		if env.Message == nil {
			return
		}
		msg := *env.Message
		if msg.ConversationId == "" {
			msg.ConversationId = env.ChatId
		}
		if msg.ConversationId == active {
			if v.store.AppendIncoming(msg.ConversationId, msg) {
				log.Printf("incoming message %s appended to %s", msg.Id, msg.ConversationId)
			}
		}
		v.directory.RefreshSummary(msg.ConversationId, msg)

	case realtime.EventReactionUpdated:
		if env.ChatId == active {
			v.store.ApplyReaction(env.ChatId, env.MessageId, env.Reactions)
		}

	case realtime.EventMessagesRead:
		// Read receipts only matter for the rendered conversation.
		if env.ChatId != active {
			return
		}
		v.store.PromoteRead(env.ChatId, env.MessageIds)

	case realtime.EventUserTyping:
		v.mu.Lock()
		if env.Typing {
			v.typing[env.ChatId] = env.User
		} else {
			delete(v.typing, env.ChatId)
		}
		v.mu.Unlock()
	}
}

func (v *View) begin(next State) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == "" {
		return "", api.Errorf(api.KindInvalidPayload, "view", "no conversation selected")
	}
	v.state = next
	return v.active, nil
}

func (v *View) finish(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = StateError
		v.lastErr = err
		return
	}
	v.state = StateReady
	v.lastErr = nil
}

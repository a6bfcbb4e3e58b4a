// Package realtime maintains the persistent socket to the chat backend:
// room-style subscriptions per conversation and pushed events for new
// messages, reactions, read receipts, and typing indicators.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"festchat/pkg/api"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Reconnect backoff bounds.
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Event names on the wire.
const (
	EventNewMessage      = "new_message"
	EventReactionUpdated = "message_reaction_updated"
	EventUserTyping      = "user_typing"
	EventMessagesRead    = "messages_read"
	EventUserJoinedChat  = "user_joined_chat"
	EventUserLeftChat    = "user_left_chat"

	emitJoinChat  = "join_chat"
	emitLeaveChat = "leave_chat"
)

// Envelope is the JSON frame exchanged on the socket. Fields are optional
// depending on the event.
type Envelope struct {
	Event      string              `json:"event"`
	ChatId     string              `json:"chatId,omitempty"`
	Message    *api.Message        `json:"message,omitempty"`
	MessageId  string              `json:"messageId,omitempty"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	MessageIds []string            `json:"messageIds,omitempty"`
	User       string              `json:"user,omitempty"`
	Typing     bool                `json:"typing,omitempty"`
}

// Handler receives every inbound event. Handlers run on the read pump
// goroutine; a panic inside one is logged, never propagated.
type Handler func(Envelope)

// Channel is the websocket connection to the backend. It reconnects
// automatically with backoff and rejoins subscribed rooms; consumers watch
// IsConnected for the non-blocking status indicator.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	connected atomic.Bool
	closed    atomic.Bool

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	rooms    map[string]struct{}
	handlers []Handler
	stop     chan struct{}
}

func NewChannel(url string) *Channel {
	return &Channel{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: writeWait},
		send:   make(chan []byte, 256),
		rooms:  make(map[string]struct{}),
		stop:   make(chan struct{}),
	}
}

// OnEvent registers a handler for inbound events. Register before Connect.
func (c *Channel) OnEvent(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Connect dials the backend and starts the pump goroutines. If the first
// dial fails the reconnect loop still takes over, so a temporarily
// unreachable backend only shows up as IsConnected() == false.
func (c *Channel) Connect() error {
	err := c.dial()
	go c.supervise()
	return err
}

// Close tears the connection down for good; no reconnect follows.
func (c *Channel) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.stop)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// JoinChat subscribes to a conversation's event room. The subscription
// survives reconnects.
func (c *Channel) JoinChat(conversationId string) {
	c.mu.Lock()
	c.rooms[conversationId] = struct{}{}
	c.mu.Unlock()
	c.Emit(Envelope{Event: emitJoinChat, ChatId: conversationId})
}

// LeaveChat unsubscribes from a conversation's event room.
func (c *Channel) LeaveChat(conversationId string) {
	c.mu.Lock()
	delete(c.rooms, conversationId)
	c.mu.Unlock()
	c.Emit(Envelope{Event: emitLeaveChat, ChatId: conversationId})
}

// Emit queues an outbound frame. Frames queued while disconnected are
// dropped except room membership, which is replayed on reconnect.
func (c *Channel) Emit(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Printf("could not encode outgoing %s event: %v", env.Event, err)
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Printf("outbound queue full, dropping %s event", env.Event)
	}
}

func (c *Channel) dial() error {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.connected.Store(false)
		return api.NewError(api.KindNetworkError, "realtime.connect", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()
	c.connected.Store(true)

	go c.writePump(conn, done)
	go c.readPump(conn, done)

	for _, id := range rooms {
		c.Emit(Envelope{Event: emitJoinChat, ChatId: id})
	}
	return nil
}

// supervise redials with exponential backoff whenever the connection
// drops, until Close.
func (c *Channel) supervise() {
	backoff := minBackoff
	for {
		if c.closed.Load() {
			return
		}
		if c.IsConnected() {
			backoff = minBackoff
			select {
			case <-c.stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if err := c.dial(); err != nil {
			log.Printf("reconnect failed, next attempt in %s: %v", backoff, err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// readPump pumps inbound frames into the registered handlers. There is at
// most one reader per connection, running on this goroutine.
func (c *Channel) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		c.connected.Store(false)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("unable to set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("socket read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Printf("could not decode inbound frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

// writePump pumps queued frames to the connection and keeps the ping
// ticker going. There is at most one writer per connection.
func (c *Channel) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case <-c.stop:
			return
		case frame := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("event handler panicked on %s: %v", env.Event, r)
				}
			}()
			h(env)
		}()
	}
}

package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"festchat/pkg/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer upgrades one connection, forwards inbound frames, and lets the
// test push outbound frames.
type wsServer struct {
	srv      *httptest.Server
	inbound  chan Envelope
	outbound chan Envelope
}

func newWsServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		inbound:  make(chan Envelope, 16),
		outbound: make(chan Envelope, 16),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for env := range s.outbound {
				frame, _ := json.Marshal(env)
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(frame, &env) == nil {
				s.inbound <- env
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnectAndStatusFlag(t *testing.T) {
	server := newWsServer(t)
	channel := NewChannel(server.url())

	require.NoError(t, channel.Connect())
	assert.True(t, channel.IsConnected())

	channel.Close()
	waitFor(t, func() bool { return !channel.IsConnected() })
}

func TestConnectFailureDoesNotThrow(t *testing.T) {
	channel := NewChannel("ws://127.0.0.1:1/ws")
	err := channel.Connect()
	require.Error(t, err)
	assert.Equal(t, api.KindNetworkError, api.KindOf(err))
	assert.False(t, channel.IsConnected())
	channel.Close()
}

func TestJoinChatEmitsRoomSubscription(t *testing.T) {
	server := newWsServer(t)
	channel := NewChannel(server.url())
	require.NoError(t, channel.Connect())
	defer channel.Close()

	channel.JoinChat("c1")

	select {
	case env := <-server.inbound:
		assert.Equal(t, "join_chat", env.Event)
		assert.Equal(t, "c1", env.ChatId)
	case <-time.After(2 * time.Second):
		t.Fatal("join_chat frame never arrived")
	}

	channel.LeaveChat("c1")
	select {
	case env := <-server.inbound:
		assert.Equal(t, "leave_chat", env.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("leave_chat frame never arrived")
	}
}

func TestInboundEventDispatch(t *testing.T) {
	server := newWsServer(t)
	channel := NewChannel(server.url())

	received := make(chan Envelope, 1)
	channel.OnEvent(func(env Envelope) {
		received <- env
	})
	require.NoError(t, channel.Connect())
	defer channel.Close()

	server.outbound <- Envelope{
		Event:   EventNewMessage,
		ChatId:  "c1",
		Message: &api.Message{Id: "m1", Content: "pushed", Sender: "bob"},
	}

	select {
	case env := <-received:
		assert.Equal(t, EventNewMessage, env.Event)
		require.NotNil(t, env.Message)
		assert.Equal(t, "m1", env.Message.Id)
	case <-time.After(2 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	server := newWsServer(t)
	channel := NewChannel(server.url())

	received := make(chan struct{}, 1)
	channel.OnEvent(func(env Envelope) {
		panic("handler bug")
	})
	channel.OnEvent(func(env Envelope) {
		received <- struct{}{}
	})
	require.NoError(t, channel.Connect())
	defer channel.Close()

	server.outbound <- Envelope{Event: EventUserTyping, ChatId: "c1", User: "bob", Typing: true}

	select {
	case <-received:
		// The panicking handler did not take down dispatch.
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran")
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "topicmeet/pkg/errors"
)

func TestTrackReplacesAndReleasesInReverse(t *testing.T) {
	c := NewClient(context.Background(), "ann", nil)

	var order []string
	rec := func(name string) func() {
		return func() { order = append(order, name) }
	}

	c.Track("topic:coffee", rec("coffee-1"))
	c.Track("chat:a_b", rec("chat"))
	c.Track("topic:coffee", rec("coffee-2"))
	assert.Equal(t, []string{"coffee-1"}, order, "replaced resource is released")

	assert.True(t, c.Release("chat:a_b"))
	assert.False(t, c.Release("chat:a_b"))
	assert.False(t, c.Tracked("chat:a_b"))

	c.Track("chat:a_c", rec("chat-c"))
	c.Release("chat:a_c")
	c.Track("status", rec("status"))
	assert.Equal(t, 1, c.CountPrefix("topic:"))
	assert.Zero(t, c.CountPrefix("chat:"))
	c.releaseAll()
	assert.Equal(t, []string{"coffee-1", "chat", "chat-c", "status", "coffee-2"}, order)

	c.Track("late", rec("late"))
	assert.Equal(t, "late", order[len(order)-1], "closed client releases at once")
}

type testServer struct {
	manager *Manager
	router  *Router
	srv     *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{manager: NewManager(), router: NewRouter()}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(context.Background(), r.URL.Query().Get("uid"), conn)
		ts.manager.Register(c)
		go c.WritePump()
		go c.ReadPump(ts.manager, ts.router)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) dial(t *testing.T, uid string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?uid=" + uid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return ts.manager.IsConnected(uid) }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "ann")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypePing, RequestID: "r1"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
	assert.Equal(t, "r1", msg.RequestID)
}

func TestDispatchErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.router.Handle(MessageTypeSendMessage, func(c *Client, msg *WSMessage) error {
		return apperrors.Forbidden("You can only chat with friends", nil)
	})
	conn := ts.dial(t, "ann")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "dance"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypeSendMessage, ChatID: "a_b", RequestID: "r2"}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, "a_b", msg.ChatID)
	assert.Equal(t, "r2", msg.RequestID)

	var data ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, apperrors.CodeForbidden, data.Code)
	assert.Equal(t, "You can only chat with friends", data.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t, "ann")
	second := ts.dial(t, "ann")
	require.Eventually(t, func() bool { return ts.manager.Connections("ann") == 2 }, time.Second, 5*time.Millisecond)

	msg, err := NewMessage(MessageTypePresence, map[string]bool{"online": true})
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	ts.manager.SendToUser("ann", raw)

	for _, conn := range []*websocket.Conn{first, second} {
		got := readMessage(t, conn)
		assert.Equal(t, MessageTypePresence, got.Type)
	}
	assert.Equal(t, 1, ts.manager.ConnectedUsers())
}

func TestDisconnectReleasesSessionResources(t *testing.T) {
	ts := newTestServer(t)
	released := make(chan string, 4)
	ts.router.Handle(MessageTypeJoinTopic, func(c *Client, msg *WSMessage) error {
		c.Track("topic:"+msg.Topic, func() { released <- msg.Topic })
		c.SendJSON(MessageTypeTopicJoined, nil, msg)
		return nil
	})
	conn := ts.dial(t, "ann")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypeJoinTopic, Topic: "coffee"}))
	assert.Equal(t, MessageTypeTopicJoined, readMessage(t, conn).Type)

	assert.Equal(t, 1, ts.manager.DisconnectUser("ann"))
	select {
	case topic := <-released:
		assert.Equal(t, "coffee", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("session resources were not released")
	}
	require.Eventually(t, func() bool { return !ts.manager.IsConnected("ann") }, time.Second, 5*time.Millisecond)
}

func TestCloseAllWaitsForSessionsToRelease(t *testing.T) {
	ts := newTestServer(t)
	var released atomic.Bool
	ts.router.Handle(MessageTypeJoinTopic, func(c *Client, msg *WSMessage) error {
		c.Track("topic:"+msg.Topic, func() {
			time.Sleep(50 * time.Millisecond)
			released.Store(true)
		})
		c.SendJSON(MessageTypeTopicJoined, nil, msg)
		return nil
	})
	conn := ts.dial(t, "ann")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypeJoinTopic, Topic: "coffee"}))
	assert.Equal(t, MessageTypeTopicJoined, readMessage(t, conn).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.manager.CloseAll(ctx))
	assert.True(t, released.Load(), "CloseAll returned before the session released its topic")
	assert.Zero(t, ts.manager.ConnectedUsers())
}

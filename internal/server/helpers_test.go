package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

const (
	alice = "alice@x.com"
	bob   = "bob@x.com"

	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fakeBroker struct {
	mu        sync.Mutex
	published []types.Message
	fn        func(types.Message)
	closed    bool
}

func (b *fakeBroker) Publish(msg types.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Subscribe(fn func(types.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = fn
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) deliver(msg types.Message) {
	b.mu.Lock()
	fn := b.fn
	b.mu.Unlock()
	fn(msg)
}

func (b *fakeBroker) publishedMessages() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Message{}, b.published...)
}

type testService struct {
	srv     *httptest.Server
	cs      *ChatServer
	db      *database.MemoryRepository
	tokens  *auth.TokenIssuer
	broker  *fakeBroker
	metrics *Metrics
}

func newTestService(t *testing.T) *testService {
	t.Helper()

	logger := testutil.TestLogger(t)
	ts := &testService{
		db:      database.NewMemoryRepository(),
		tokens:  auth.NewTokenIssuer(testKey, time.Hour),
		broker:  &fakeBroker{},
		metrics: NewMetrics(),
	}

	cs, err := NewChatServer(logger, ts.db, ts.tokens, ts.broker, ts.metrics)
	require.NoError(t, err)
	cs.idleRoomTimeout = 50 * time.Millisecond
	ts.cs = cs
	go cs.Run()

	ts.srv = httptest.NewServer(NewService(logger, cs, nil).Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		cs.Shutdown(ctx)
		ts.srv.Close()
	})

	return ts
}

func (ts *testService) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/ws"
}

func (ts *testService) token(t *testing.T, identity string) string {
	t.Helper()
	token, _, err := ts.tokens.Issue(identity)
	require.NoError(t, err)
	return token
}

// wsConn is a raw protocol client. Notifications read while waiting for a
// response are kept in order.
type wsConn struct {
	t             *testing.T
	conn          *websocket.Conn
	nextId        int
	notifications []*protocol.Notification
}

func (ts *testService) dial(t *testing.T, identity string) *wsConn {
	t.Helper()
	return ts.dialToken(t, ts.token(t, identity))
}

func (ts *testService) dialToken(t *testing.T, token string) *wsConn {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.NoError(t, err, "expected dial to succeed")
	t.Cleanup(func() { conn.Close() })

	c := &wsConn{t: t, conn: conn}
	msg := c.read()
	require.NotNil(t, msg.State, "expected a state change first")
	require.Equal(t, protocol.StateInitialized, msg.State.State)

	return c
}

func (c *wsConn) read() *protocol.ServerMessage {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(waitFor))
	var msg protocol.ServerMessage
	require.NoError(c.t, c.conn.ReadJSON(&msg), "expected a message from the server")
	return &msg
}

func (c *wsConn) request(msg protocol.ClientMessage) *protocol.Response {
	c.t.Helper()

	c.nextId++
	msg.Id = c.nextId
	msg.Timestamp = protocol.Now()
	require.NoError(c.t, c.conn.WriteJSON(msg))

	for {
		resp := c.read()
		if resp.Notification != nil {
			c.notifications = append(c.notifications, resp.Notification)
			continue
		}
		if resp.Response != nil && resp.Id == msg.Id {
			return resp.Response
		}
	}
}

// notification returns the next notification, reading from the
// connection if none is buffered.
func (c *wsConn) notification() *protocol.Notification {
	c.t.Helper()

	if len(c.notifications) > 0 {
		n := c.notifications[0]
		c.notifications = c.notifications[1:]
		return n
	}

	for {
		msg := c.read()
		if msg.Notification != nil {
			return msg.Notification
		}
	}
}

func (c *wsConn) createChannel(name string) *protocol.Response {
	return c.request(protocol.ClientMessage{CreateChannel: &protocol.CreateChannel{UniqueName: name, FriendlyName: name}})
}

func (c *wsConn) getChannel(name string) *protocol.Response {
	return c.request(protocol.ClientMessage{GetChannel: &protocol.GetChannel{UniqueName: name}})
}

func (c *wsConn) join(sid string) *protocol.Response {
	return c.request(protocol.ClientMessage{Join: &protocol.Join{ChannelSid: sid}})
}

func (c *wsConn) publish(sid, body string) *protocol.Response {
	return c.request(protocol.ClientMessage{Publish: &protocol.Publish{ChannelSid: sid, Body: body}})
}

func (c *wsConn) getMessages(sid string) *protocol.Response {
	return c.request(protocol.ClientMessage{GetMessages: &protocol.GetMessages{ChannelSid: sid}})
}

// joinedChannel creates name and joins it, consuming the channel joined
// notification.
func (c *wsConn) joinedChannel(name string) string {
	c.t.Helper()

	resp := c.createChannel(name)
	require.Equal(c.t, http.StatusCreated, resp.ResponseCode)
	sid := resp.Channel.Sid

	resp = c.join(sid)
	require.Equal(c.t, http.StatusOK, resp.ResponseCode)
	n := c.notification()
	require.NotNil(c.t, n.ChannelJoined)

	return sid
}

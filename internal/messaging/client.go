package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4 << 20

	DefaultExpiryWarning = 3 * time.Minute
)

// Dialer opens client connections to the chat service's websocket endpoint.
type Dialer struct {
	url           string
	log           *log.Logger
	expiryWarning time.Duration
	ws            *websocket.Dialer
}

func NewDialer(serviceURL string, logger *log.Logger, expiryWarning time.Duration) *Dialer {
	if expiryWarning <= 0 {
		expiryWarning = DefaultExpiryWarning
	}

	return &Dialer{
		url:           serviceURL,
		log:           logger,
		expiryWarning: expiryWarning,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

// Connect dials the service with token. The returned client starts in
// StateConnecting and moves to StateInitialized once the service accepts
// the session.
func (d *Dialer) Connect(ctx context.Context, token string) (Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.ws.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	c := newClient(conn, d.log, d.expiryWarning)
	if err := c.scheduleExpiry(token); err != nil {
		c.log.Printf("token expiry not scheduled: %v", err)
	}

	go c.write()
	go c.read()

	return c, nil
}

type wsClient struct {
	conn *websocket.Conn
	log  *log.Logger
	send chan *protocol.ClientMessage
	// stop is closed to end the write loop and reject new requests
	stop chan struct{}
	// done is closed once the read loop has exited
	done         chan struct{}
	shutdownOnce sync.Once

	mu       sync.Mutex
	state    State
	identity string
	closing  bool
	nextId   int
	pending  map[int]chan *protocol.ServerMessage
	channels map[string]*wsChannel
	joined   map[string]bool

	expiryWarning time.Duration
	aboutTimer    *time.Timer
	expiredTimer  *time.Timer

	stateChanged       emitter[State]
	channelJoined      emitter[Channel]
	tokenAboutToExpire emitter[struct{}]
	tokenExpired       emitter[struct{}]
}

func newClient(conn *websocket.Conn, logger *log.Logger, expiryWarning time.Duration) *wsClient {
	return &wsClient{
		conn:          conn,
		log:           logger,
		send:          make(chan *protocol.ClientMessage, 256),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		state:         StateConnecting,
		pending:       make(map[int]chan *protocol.ServerMessage),
		channels:      make(map[string]*wsChannel),
		joined:        make(map[string]bool),
		expiryWarning: expiryWarning,
	}
}

func (c *wsClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsClient) OnStateChanged(fn func(State)) Subscription {
	return c.stateChanged.on(fn)
}

func (c *wsClient) OnChannelJoined(fn func(Channel)) Subscription {
	return c.channelJoined.on(fn)
}

func (c *wsClient) OnTokenAboutToExpire(fn func()) Subscription {
	return c.tokenAboutToExpire.on(func(struct{}) { fn() })
}

func (c *wsClient) OnTokenExpired(fn func()) Subscription {
	return c.tokenExpired.on(func(struct{}) { fn() })
}

func (c *wsClient) GetChannelByUniqueName(ctx context.Context, uniqueName string) (Channel, error) {
	resp, err := c.request(ctx, &protocol.ClientMessage{
		GetChannel: &protocol.GetChannel{UniqueName: uniqueName},
	})
	if err != nil {
		return nil, fmt.Errorf("get channel %q: %w", uniqueName, err)
	}
	if resp.Channel == nil {
		return nil, fmt.Errorf("get channel %q: empty response", uniqueName)
	}

	ch := c.channel(*resp.Channel)
	if resp.Channel.Status == types.ChannelStatusJoined {
		c.markJoined(ch)
	}

	return ch, nil
}

func (c *wsClient) CreateChannel(ctx context.Context, opts ChannelOptions) (Channel, error) {
	resp, err := c.request(ctx, &protocol.ClientMessage{
		CreateChannel: &protocol.CreateChannel{
			UniqueName:   opts.UniqueName,
			FriendlyName: opts.FriendlyName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create channel %q: %w", opts.UniqueName, err)
	}
	if resp.Channel == nil {
		return nil, fmt.Errorf("create channel %q: empty response", opts.UniqueName)
	}

	return c.channel(*resp.Channel), nil
}

// UpdateToken swaps the access token used by the live connection and
// reschedules the expiry signals against the new token.
func (c *wsClient) UpdateToken(ctx context.Context, token string) error {
	if _, err := c.request(ctx, &protocol.ClientMessage{
		UpdateToken: &protocol.UpdateToken{Token: token},
	}); err != nil {
		return fmt.Errorf("update token: %w", err)
	}

	if err := c.scheduleExpiry(token); err != nil {
		c.log.Printf("token expiry not scheduled: %v", err)
	}

	return nil
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.shutdown()
	<-c.done

	return nil
}

func (c *wsClient) shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.stop)
		c.stopTimers()
		c.conn.Close()
	})
}

func (c *wsClient) request(ctx context.Context, msg *protocol.ClientMessage) (*protocol.Response, error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.nextId++
	id := c.nextId
	respCh := make(chan *protocol.ServerMessage, 1)
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg.Id = id
	msg.Timestamp = protocol.Now()

	select {
	case c.send <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stop:
		return nil, ErrClientClosed
	}

	var resp *protocol.ServerMessage
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}

	if resp.Response.ResponseCode >= http.StatusMultipleChoices {
		if resp.Response.ResponseCode == http.StatusUnauthorized {
			c.tokenExpired.emit(struct{}{})
		}
		return nil, &ResponseError{
			Code:    resp.Response.ResponseCode,
			Message: resp.Response.Error,
		}
	}

	return resp.Response, nil
}

// channel returns the single handle kept for info.Sid, refreshing its
// metadata.
func (c *wsClient) channel(info types.Channel) *wsChannel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[info.Sid]; ok {
		ch.setInfo(info)
		return ch
	}

	ch := &wsChannel{client: c, info: info}
	c.channels[info.Sid] = ch
	return ch
}

// markJoined records membership of ch and emits the channel joined event
// the first time this client learns about it.
func (c *wsClient) markJoined(ch *wsChannel) {
	ch.setStatus(types.ChannelStatusJoined)

	c.mu.Lock()
	if c.joined[ch.Sid()] {
		c.mu.Unlock()
		return
	}
	c.joined[ch.Sid()] = true
	c.mu.Unlock()

	c.channelJoined.emit(ch)
}

func (c *wsClient) setState(state State, identity string) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	if identity != "" {
		c.identity = identity
	}
	c.mu.Unlock()

	c.stateChanged.emit(state)
}

func (c *wsClient) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *wsClient) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *wsClient) read() {
	defer func() {
		close(c.done)

		c.mu.Lock()
		closing := c.closing
		c.closing = true
		c.mu.Unlock()

		c.shutdown()
		if !closing {
			c.setState(StateFailed, "")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *wsClient) dispatch(msg *protocol.ServerMessage) {
	switch {
	case msg.State != nil:
		c.setState(msg.State.State, msg.State.Identity)
	case msg.Response != nil:
		c.mu.Lock()
		respCh, ok := c.pending[msg.Id]
		c.mu.Unlock()
		if !ok {
			c.log.Printf("dropping response for unknown request %d", msg.Id)
			return
		}
		respCh <- msg
	case msg.Notification != nil:
		if m := msg.Notification.MessageAdded; m != nil {
			c.mu.Lock()
			ch, ok := c.channels[m.ChannelSid]
			c.mu.Unlock()
			if ok {
				ch.messageAdded.emit(*m)
			}
		}
		if info := msg.Notification.ChannelJoined; info != nil {
			c.markJoined(c.channel(*info))
		}
	}
}

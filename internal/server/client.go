package server

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/samber/lo"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	channelSidPrefix = "CH"
)

// Client is one websocket connection authenticated as identity.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	identity   string
	// expiresAt is the expiry of the connection's current access token.
	// Only the read loop touches it.
	expiresAt time.Time
	send      chan *protocol.ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(claims auth.Claims, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   claims.Identity,
		expiresAt:  claims.ExpiresAt,
		send:       make(chan *protocol.ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
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

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg.ClientMessage); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(protocol.ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = protocol.Now()
		c.handle(&msg)
	}
}

func (c *Client) handle(msg *ClientMessage) {
	c.chatServer.metrics.Requests.WithLabelValues(msg.kind()).Inc()

	if msg.UpdateToken == nil && c.tokenExpired() {
		c.queueMessage(protocol.ErrTokenExpired(msg.Id))
		return
	}

	switch {
	case msg.GetChannel != nil:
		c.getChannel(msg)
	case msg.CreateChannel != nil:
		c.createChannel(msg)
	case msg.Join != nil:
		msg.channelSid = msg.Join.ChannelSid
		c.chatServer.route(msg)
	case msg.Publish != nil:
		if strings.TrimSpace(msg.Publish.Body) == "" {
			c.queueMessage(protocol.ErrInvalidMessage(msg.Id))
			return
		}
		msg.channelSid = msg.Publish.ChannelSid
		c.chatServer.route(msg)
	case msg.GetMessages != nil:
		c.getMessages(msg)
	case msg.UpdateToken != nil:
		c.updateToken(msg)
	default:
		c.queueMessage(protocol.ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) tokenExpired() bool {
	return !c.expiresAt.IsZero() && !time.Now().Before(c.expiresAt)
}

func (c *Client) getChannel(msg *ClientMessage) {
	ch, err := c.chatServer.db.GetChannelByUniqueName(msg.GetChannel.UniqueName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(protocol.ErrChannelNotFound(msg.Id))
			return
		}
		c.log.Println("GetChannelByUniqueName:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	member, err := c.chatServer.db.IsMember(ch.Sid, c.identity)
	if err != nil {
		c.log.Println("IsMember:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	if !member {
		c.queueMessage(withChannel(protocol.NoErrOK(msg.Id), ch.Info(types.ChannelStatusNotParticipating)))
		return
	}

	// members start receiving notifications before they see the response
	msg.channelSid = ch.Sid
	msg.attach = true
	msg.response = withChannel(protocol.NoErrOK(msg.Id), ch.Info(types.ChannelStatusJoined))
	c.chatServer.route(msg)
}

func (c *Client) createChannel(msg *ClientMessage) {
	uniqueName := strings.TrimSpace(msg.CreateChannel.UniqueName)
	if uniqueName == "" {
		c.queueMessage(protocol.ErrInvalidMessage(msg.Id))
		return
	}
	friendlyName := strings.TrimSpace(msg.CreateChannel.FriendlyName)
	if friendlyName == "" {
		friendlyName = uniqueName
	}

	sid, err := shortid.Generate()
	if err != nil {
		c.log.Println("generateShortId:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	ch, err := c.chatServer.db.CreateChannel(database.CreateChannelParams{
		Sid:          channelSidPrefix + sid,
		UniqueName:   uniqueName,
		FriendlyName: friendlyName,
		CreatedBy:    c.identity,
	})
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			c.queueMessage(protocol.ErrChannelExists(msg.Id))
			return
		}
		c.log.Println("CreateChannel:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	c.log.Printf("%q created channel %q (%s)", c.identity, ch.UniqueName, ch.Sid)
	c.queueMessage(withChannel(protocol.NoErrCreated(msg.Id), ch.Info(types.ChannelStatusNotParticipating)))
}

func (c *Client) getMessages(msg *ClientMessage) {
	sid := msg.GetMessages.ChannelSid
	member, err := c.chatServer.db.IsMember(sid, c.identity)
	if err != nil {
		c.log.Println("IsMember:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}
	if !member {
		c.queueMessage(protocol.ErrNotParticipating(msg.Id))
		return
	}

	messages, err := c.chatServer.db.GetMessages(sid)
	if err != nil {
		c.log.Println("GetMessages:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(withMessages(protocol.NoErrOK(msg.Id), lo.Map(messages, func(m database.Message, _ int) types.Message {
		return m.Info()
	})))
}

// updateToken swaps the connection's access token. The new token must be
// valid and issued to the same identity.
func (c *Client) updateToken(msg *ClientMessage) {
	claims, err := c.chatServer.tokens.Verify(msg.UpdateToken.Token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			c.queueMessage(protocol.ErrTokenExpired(msg.Id))
			return
		}
		c.queueMessage(protocol.ErrInvalidToken(msg.Id))
		return
	}

	if claims.Identity != c.identity {
		c.log.Printf("rejecting token for %q on connection of %q", claims.Identity, c.identity)
		c.queueMessage(protocol.ErrInvalidToken(msg.Id))
		return
	}

	c.expiresAt = claims.ExpiresAt
	c.queueMessage(protocol.NoErrOK(msg.Id))
}

func (c *Client) queueMessage(msg *protocol.ServerMessage) bool {
	if msg.Response != nil {
		c.chatServer.metrics.response(msg.Response.ResponseCode)
	}

	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
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

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterClient(c)
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		select {
		case room.leaveChan <- c:
		case <-room.done:
		}
	}
}

func (c *Client) delRoom(sid string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, sid)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.channel.Sid] = r
}

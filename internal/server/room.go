package server

import (
	"log"
	"time"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// Room serializes joins and publishes for one channel and fans message
// notifications out to the attached clients.
type Room struct {
	channel    database.Channel
	cs         *ChatServer
	reqChan    chan *ClientMessage
	leaveChan  chan *Client
	remoteChan chan types.Message
	clients    map[*Client]struct{}
	log        *log.Logger
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is closed by the chat server when the room must stop
	exit chan struct{}
	done chan struct{}
}

func newRoom(cs *ChatServer, ch database.Channel) *Room {
	return &Room{
		channel:    ch,
		cs:         cs,
		reqChan:    make(chan *ClientMessage, 256),
		leaveChan:  make(chan *Client, 256),
		remoteChan: make(chan types.Message, 256),
		clients:    make(map[*Client]struct{}),
		log:        cs.log,
		exit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (r *Room) start() {
	defer close(r.done)

	r.log.Printf("starting room %q", r.channel.Sid)
	// armed until the first client attaches
	r.killTimer = time.NewTimer(r.cs.idleRoomTimeout)
	defer r.killTimer.Stop()

	for {
		select {
		case msg := <-r.reqChan:
			switch {
			case msg.attach:
				r.addClient(msg.client)
				msg.client.queueMessage(msg.response)
			case msg.Join != nil:
				r.handleJoin(msg)
			case msg.Publish != nil:
				r.handlePublish(msg)
			}
		case c := <-r.leaveChan:
			r.removeClient(c)
		case msg := <-r.remoteChan:
			r.broadcast(messageAdded(msg))
		case <-r.killTimer.C:
			if r.handleRoomTimeout() {
				return
			}
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

// handleRoomTimeout asks the chat server to unload the room and reports
// whether the room has exited.
func (r *Room) handleRoomTimeout() bool {
	if len(r.clients) > 0 {
		return false
	}

	r.log.Printf("room %q timed out", r.channel.Sid)
	select {
	case r.cs.unloadRoomChan <- r:
	case <-r.exit:
	}
	<-r.exit

	r.handleRoomExit()
	return true
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.channel.Sid)

	// requests queued after the server stopped routing here go back
	// through the server, which loads a fresh room for them
	for drained := false; !drained; {
		select {
		case msg := <-r.reqChan:
			go r.cs.route(msg)
		default:
			drained = true
		}
	}

	for c := range r.clients {
		c.delRoom(r.channel.Sid)
	}
}

func (r *Room) handleJoin(msg *ClientMessage) {
	c := msg.client
	added, err := r.cs.db.AddMember(r.channel.Sid, c.identity)
	if err != nil {
		r.log.Println("AddMember:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}
	if added {
		r.log.Printf("added member %q to channel %q", c.identity, r.channel.UniqueName)
	}

	r.addClient(c)

	info := r.channel.Info(types.ChannelStatusJoined)
	c.queueMessage(withChannel(protocol.NoErrOK(msg.Id), info))
	c.queueMessage(channelJoined(info))
}

func (r *Room) handlePublish(msg *ClientMessage) {
	c := msg.client
	member, err := r.cs.db.IsMember(r.channel.Sid, c.identity)
	if err != nil {
		r.log.Println("IsMember:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}
	if !member {
		c.queueMessage(protocol.ErrNotParticipating(msg.Id))
		return
	}

	saved, err := r.cs.db.CreateMessage(database.CreateMessageParams{
		ChannelSid: r.channel.Sid,
		Author:     c.identity,
		Body:       msg.Publish.Body,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		c.queueMessage(protocol.ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(protocol.NoErrAccepted(msg.Id))
	r.cs.metrics.MessagesPublished.Inc()

	info := saved.Info()
	r.broadcast(messageAdded(info))

	if err := r.cs.broker.Publish(info); err != nil {
		r.log.Printf("broker publish: %v", err)
	}
}

func (r *Room) addClient(c *Client) {
	if _, ok := r.clients[c]; ok {
		return
	}

	r.clients[c] = struct{}{}
	c.addRoom(r)
	r.killTimer.Stop()
}

func (r *Room) removeClient(c *Client) {
	// check if the client is in the room
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.channel.Sid)

	// if the client is the last one in the room, start the kill timer
	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.channel.Sid)
		r.killTimer.Reset(r.cs.idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *protocol.ServerMessage) {
	for client := range r.clients {
		client.queueMessage(msg)
	}
}

package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const defaultIdleRoomTimeout = 5 * time.Second

type ChatServer struct {
	log     *log.Logger
	db      database.Repository
	tokens  *auth.TokenIssuer
	broker  Broker
	metrics *Metrics

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	roomReqChan    chan *ClientMessage
	remoteChan     chan types.Message
	unloadRoomChan chan *Room
	rooms          map[string]*Room

	idleRoomTimeout time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, tokens *auth.TokenIssuer, broker Broker, metrics *Metrics) (*ChatServer, error) {
	cs := &ChatServer{
		log:             logger,
		db:              db,
		tokens:          tokens,
		broker:          broker,
		metrics:         metrics,
		clients:         make(map[*Client]struct{}),
		roomReqChan:     make(chan *ClientMessage, 256),
		remoteChan:      make(chan types.Message, 256),
		unloadRoomChan:  make(chan *Room),
		rooms:           make(map[string]*Room),
		idleRoomTimeout: defaultIdleRoomTimeout,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	if err := broker.Subscribe(cs.deliverRemote); err != nil {
		return nil, err
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.roomReqChan:
			room, err := cs.loadRoom(msg.channelSid)
			if err != nil {
				if errors.Is(err, database.ErrNotFound) {
					msg.client.queueMessage(protocol.ErrChannelNotFound(msg.Id))
				} else {
					cs.log.Printf("load room %q: %v", msg.channelSid, err)
					msg.client.queueMessage(protocol.ErrInternalError(msg.Id))
				}
				continue
			}

			select {
			case room.reqChan <- msg:
			default:
				cs.log.Printf("request channel full on room %q", room.channel.Sid)
				msg.client.queueMessage(protocol.ErrServiceUnavailable(msg.Id))
			}
		case msg := <-cs.remoteChan:
			cs.metrics.RemoteMessages.Inc()
			room, ok := cs.rooms[msg.ChannelSid]
			if !ok {
				// nobody connected here is listening to the channel
				continue
			}

			select {
			case room.remoteChan <- msg:
			default:
				cs.log.Printf("remote channel full on room %q, dropping message %d", room.channel.Sid, msg.Index)
			}
		case r := <-cs.unloadRoomChan:
			cs.unloadRoom(r)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				cs.log.Println("shutting down room", r.channel.Sid)
				close(r.exit)

				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) loadRoom(sid string) (*Room, error) {
	if r, ok := cs.rooms[sid]; ok {
		return r, nil
	}

	ch, err := cs.db.GetChannelBySid(sid)
	if err != nil {
		return nil, err
	}

	r := newRoom(cs, ch)
	cs.rooms[sid] = r
	cs.metrics.RoomsLoaded.Inc()
	go r.start()

	return r, nil
}

func (cs *ChatServer) unloadRoom(r *Room) {
	if cur, ok := cs.rooms[r.channel.Sid]; ok && cur == r {
		cs.log.Printf("removing room %q", r.channel.Sid)
		delete(cs.rooms, r.channel.Sid)
		cs.metrics.RoomsLoaded.Dec()
	}

	close(r.exit)
}

// route hands msg to the room owning its channel, loading the room if
// needed.
func (cs *ChatServer) route(msg *ClientMessage) {
	select {
	case <-cs.stop:
		msg.client.queueMessage(protocol.ErrServiceUnavailable(msg.Id))
		return
	default:
	}

	select {
	case cs.roomReqChan <- msg:
	case <-cs.stop:
		msg.client.queueMessage(protocol.ErrServiceUnavailable(msg.Id))
	}
}

func (cs *ChatServer) deliverRemote(msg types.Message) {
	select {
	case cs.remoteChan <- msg:
	case <-cs.stop:
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.log.Printf("adding connection from %q", c.identity)
	cs.clients[c] = struct{}{}
	cs.metrics.Connections.Inc()
}

func (cs *ChatServer) deRegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}
	cs.log.Printf("removing connection from %q", c.identity)
	delete(cs.clients, c)
	cs.metrics.Connections.Dec()
}

// Shutdown disconnects every client and stops all rooms.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.stopOnce.Do(func() {
		cs.clientsLock.Lock()
		for c := range cs.clients {
			c.stopClient()
		}
		cs.clientsLock.Unlock()

		close(cs.stop)
	})

	select {
	case <-cs.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return cs.broker.Close()
}

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/httputil"
	"github.com/npezzotti/go-roomchat/internal/render"
	"github.com/npezzotti/go-roomchat/internal/session"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 << 10

	statOpenPages = "OpenPages"
)

// Messages sent by the page.
const (
	pageSend  = "send"
	pageDraft = "draft"
)

// Messages sent to the page.
const (
	viewState  = "state"
	viewScroll = "scroll"
	viewSent   = "sent"
	viewError  = "error"
)

type pageMessage struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// View is what the page needs to redraw itself after a state change.
type View struct {
	Type     string `json:"type"`
	Phase    string `json:"phase,omitempty"`
	Loading  bool   `json:"loading"`
	CanSend  bool   `json:"can_send"`
	Draft    string `json:"draft"`
	Error    string `json:"error,omitempty"`
	RowsHTML string `json:"rows_html"`
}

// bridge connects one chat page to its session. It is the session's
// observer and forwards the page's actions to the manager.
type bridge struct {
	conn      *websocket.Conn
	log       *log.Logger
	templates *render.Templates
	self      types.Identity
	m         *session.Manager
	send      chan []byte
	// state holds the latest state view not yet written. Newer snapshots
	// replace it.
	state    chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func (a *RoomChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	h, err := a.handoffFromRequest(r)
	if err != nil {
		httputil.WriteError(a.log, w, httputil.NewUnauthorizedError())
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("upgrade:", err)
		return
	}

	b := &bridge{
		conn:      conn,
		log:       a.log,
		templates: a.templates,
		self:      h.Identity,
		send:      make(chan []byte, 64),
		state:     make(chan []byte, 1),
		stop:      make(chan struct{}),
	}
	b.m = session.NewManager(a.log, a.tokens, a.connector, b, a.sessionOpts)

	a.addBridge(b)
	go b.write()

	// the session must be started before read can close it
	if err := b.m.Start(h.Identity, h.Room); err != nil {
		a.log.Printf("start session for %q in %q: %v", h.Identity.Email, h.Room.Name, err)
		b.queue(View{Type: viewError, Error: err.Error()})
		b.stopBridge()
	}

	go func() {
		defer a.removeBridge(b)
		b.read()
	}()
}

func (b *bridge) StateChanged(state session.SessionState) {
	rows, err := b.templates.RenderRows(render.Rows(state.Messages, b.self))
	if err != nil {
		b.log.Println("render rows:", err)
	}

	v := View{
		Type:     viewState,
		Phase:    state.Phase.String(),
		Loading:  state.Loading,
		CanSend:  state.CanSend(),
		Draft:    state.Draft,
		RowsHTML: rows,
	}
	if state.Err != nil {
		v.Error = state.Err.Error()
	}

	b.queue(v)
}

func (b *bridge) ScrollToBottom() {
	b.queue(View{Type: viewScroll})
}

// queue never blocks. The manager calls it from its loop. State views
// are coalesced so the page always ends up with the latest one.
func (b *bridge) queue(v View) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Println("failed to serialize view:", err)
		return
	}

	if v.Type == viewState {
		b.replaceState(data)
		return
	}

	select {
	case b.send <- data:
	case <-b.stop:
	default:
		b.log.Println("failed to send view to page, channel is full")
	}
}

func (b *bridge) replaceState(data []byte) {
	for {
		select {
		case b.state <- data:
			return
		default:
		}

		select {
		case <-b.state:
		default:
		}
	}
}

// flushState writes the pending state view, if any.
func (b *bridge) flushState() bool {
	select {
	case data := <-b.state:
		return b.writeMessage(websocket.TextMessage, data)
	default:
		return true
	}
}

func (b *bridge) stopBridge() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *bridge) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		b.conn.Close()
	}()

	for {
		select {
		case data := <-b.state:
			if !b.writeMessage(websocket.TextMessage, data) {
				return
			}
		case data := <-b.send:
			// views in send follow the state they were queued after
			if !b.flushState() || !b.writeMessage(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !b.writeMessage(websocket.PingMessage, nil) {
				return
			}
		case <-b.stop:
			// flush what the session reported last
			for flushed := false; !flushed; {
				select {
				case data := <-b.send:
					if !b.flushState() || !b.writeMessage(websocket.TextMessage, data) {
						return
					}
				default:
					flushed = true
				}
			}
			if !b.flushState() {
				return
			}
			b.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

func (b *bridge) writeMessage(msgType int, data []byte) bool {
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := b.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			b.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// read handles the page's actions until the page goes away, then closes
// the session.
func (b *bridge) read() {
	defer func() {
		b.stopBridge()
		b.conn.Close()
		if err := b.m.Close(); err != nil {
			b.log.Println("close session:", err)
		}
	}()

	b.conn.SetReadLimit(maxMessageSize)
	b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error { b.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				b.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg pageMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			b.queue(View{Type: viewError, Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case pageSend:
			if err := b.m.SendMessage(msg.Body); err != nil {
				b.queue(View{Type: viewError, Error: err.Error()})
				continue
			}
			b.queue(View{Type: viewSent})
		case pageDraft:
			b.m.SetDraft(msg.Body)
		default:
			b.queue(View{Type: viewError, Error: "unknown message type"})
		}
	}
}

// Package session drives one chat screen visit: it acquires an access token,
// connects the messaging client, joins or creates the room's channel, keeps
// the message list current and rotates the token when the client asks for it.
//
// A Manager owns a single event loop goroutine. Every network call runs in
// its own goroutine and reports back to the loop, so the SessionState is
// only ever touched by the loop.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-roomchat/internal/messaging"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	DefaultRefreshAttempts = 3
	DefaultRefreshDelay    = 2 * time.Second
)

const (
	StatActiveSessions   = "ActiveSessions"
	StatFailedSessions   = "FailedSessions"
	StatMessagesSent     = "MessagesSent"
	StatMessagesReceived = "MessagesReceived"
	StatTokenRefreshes   = "TokenRefreshes"
)

// Metrics lists the stat names a Manager reports through its StatsProvider.
var Metrics = []string{
	StatActiveSessions,
	StatFailedSessions,
	StatMessagesSent,
	StatMessagesReceived,
	StatTokenRefreshes,
}

type TokenSource interface {
	Token(ctx context.Context, identity types.Identity) (string, error)
}

type Connector interface {
	Connect(ctx context.Context, token string) (messaging.Client, error)
}

// Observer receives every new SessionState and the requests to scroll the
// message list to its latest row. Calls are made from the manager's loop
// and must not block.
type Observer interface {
	StateChanged(state SessionState)
	ScrollToBottom()
}

type Options struct {
	// RefreshAttempts bounds the token fetch and update attempts made for
	// a single expiry signal before the session fails.
	RefreshAttempts int
	RefreshDelay    time.Duration
	Stats           stats.StatsProvider
}

type Manager struct {
	log       *log.Logger
	tokens    TokenSource
	connector Connector
	observer  Observer
	opts      Options
	id        string

	inbox   chan any
	done    chan struct{}
	cancel  context.CancelFunc
	started atomic.Bool
	closed  sync.Once

	mu       sync.RWMutex
	snapshot SessionState
	closing  bool

	// owned by the loop goroutine
	state      SessionState
	client     messaging.Client
	channel    messaging.Channel
	subs       []messaging.Subscription
	liveSub    messaging.Subscription
	ready      bool
	hydrated   bool
	refreshing bool
}

func NewManager(logger *log.Logger, tokens TokenSource, connector Connector, observer Observer, opts Options) *Manager {
	if opts.RefreshAttempts <= 0 {
		opts.RefreshAttempts = DefaultRefreshAttempts
	}
	if opts.RefreshDelay < 0 {
		opts.RefreshDelay = 0
	}

	return &Manager{
		log:       logger,
		tokens:    tokens,
		connector: connector,
		observer:  observer,
		opts:      opts,
		inbox:     make(chan any, 64),
		done:      make(chan struct{}),
	}
}

type (
	tokenResult struct {
		token string
		err   error
	}
	clientResult struct {
		client messaging.Client
		err    error
	}
	clientStateChanged struct {
		state messaging.State
	}
	channelJoinedSignal struct {
		channel messaging.Channel
	}
	channelResolved struct {
		channel messaging.Channel
		err     error
	}
	historyResult struct {
		messages []types.Message
		err      error
	}
	liveMessage struct {
		message types.Message
	}
	tokenExpiring struct{}
	refreshResult struct {
		token string
		err   error
	}
	sendRequest struct {
		body  string
		reply chan error
	}
	draftRequest struct {
		body string
	}
)

// Start begins the session for identity in room. It returns
// ErrMissingHandoff without contacting anything when either is blank, and
// ErrClosed once Close has been called.
func (m *Manager) Start(identity types.Identity, room types.Room) error {
	identity.Email = strings.TrimSpace(identity.Email)
	room.Name = strings.TrimSpace(room.Name)
	if identity.Email == "" || room.Name == "" {
		return ErrMissingHandoff
	}

	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.cancel = cancel
	m.mu.Unlock()

	m.id = uuid.NewString()
	m.state = SessionState{Id: m.id}
	m.transition(Started{Identity: identity, Room: room})
	m.incr(StatActiveSessions)
	m.log.Printf("session %s: starting for %s in room %q", m.id, identity.Email, room.Name)

	go m.fetchToken(ctx, identity)
	go m.run(ctx)

	return nil
}

// State returns the most recent SessionState.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// SendMessage transmits the trimmed body to the joined channel. The draft
// is cleared before SendMessage returns; the transmission itself happens in
// the background and its failures are only logged.
func (m *Manager) SendMessage(body string) error {
	if !m.started.Load() {
		return ErrNotJoined
	}

	reply := make(chan error, 1)
	select {
	case m.inbox <- sendRequest{body: body, reply: reply}:
	case <-m.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) SetDraft(body string) {
	if !m.started.Load() {
		return
	}

	select {
	case m.inbox <- draftRequest{body: body}:
	case <-m.done:
	}
}

// Close ends the session, releasing every subscription and the messaging
// client. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closed.Do(func() {
		m.mu.Lock()
		m.closing = true
		cancel := m.cancel
		m.mu.Unlock()
		if cancel == nil {
			// never started, and Start now refuses to
			close(m.done)
			return
		}
		cancel()
		<-m.done
	})

	return nil
}

// Done is closed once the session loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.release(true)
		m.decr(StatActiveSessions)
		close(m.done)
		m.log.Printf("session %s: closed", m.id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.inbox:
			m.handle(ctx, msg)
		}
	}
}

func (m *Manager) post(ctx context.Context, msg any) bool {
	select {
	case m.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) handle(ctx context.Context, msg any) {
	switch msg := msg.(type) {
	case sendRequest:
		msg.reply <- m.send(ctx, msg.body)
		return
	case draftRequest:
		m.transition(DraftChanged{Body: msg.body})
		return
	}

	if m.state.Phase == PhaseFailed {
		if r, ok := msg.(clientResult); ok && r.client != nil {
			go r.client.Close()
		}
		return
	}

	switch msg := msg.(type) {
	case tokenResult:
		if msg.err != nil {
			m.fail(ErrTokenFetch, msg.err)
			return
		}
		m.transition(TokenIssued{Token: msg.token})
		go m.connect(ctx, msg.token)

	case clientResult:
		if msg.err != nil {
			m.fail(ErrClientInit, msg.err)
			return
		}
		m.client = msg.client
		m.subscribe(m.client.OnStateChanged(func(s messaging.State) {
			m.post(ctx, clientStateChanged{state: s})
		}))
		m.clientStateChanged(ctx, m.client.State())

	case clientStateChanged:
		m.clientStateChanged(ctx, msg.state)

	case channelJoinedSignal:
		if m.hydrated {
			return
		}
		m.hydrated = true
		m.subscribeLive(ctx, msg.channel)
		m.transition(HydrationBegan{})
		go m.fetchHistory(ctx, msg.channel)

	case channelResolved:
		if msg.err != nil {
			m.fail(ErrChannelUnavailable, msg.err)
			return
		}
		m.channel = msg.channel
		m.transition(ChannelJoined{Channel: channelInfo(msg.channel)})
		m.subscribeLive(ctx, msg.channel)
		m.observer.ScrollToBottom()
		m.log.Printf("session %s: joined channel %s (%s)", m.id, msg.channel.Sid(), msg.channel.UniqueName())

	case historyResult:
		if msg.err != nil {
			m.fail(ErrHistoryUnavailable, msg.err)
			return
		}
		m.transition(HistoryLoaded{Messages: msg.messages})
		m.observer.ScrollToBottom()

	case liveMessage:
		m.incr(StatMessagesReceived)
		m.transition(MessageAdded{Message: msg.message})
		if !m.state.Hydrating() {
			m.observer.ScrollToBottom()
		}

	case tokenExpiring:
		if m.refreshing {
			return
		}
		m.refreshing = true
		go m.refresh(ctx, m.client, m.state.Identity)

	case refreshResult:
		m.refreshing = false
		if msg.err != nil {
			m.fail(ErrTokenRefresh, msg.err)
			return
		}
		m.incr(StatTokenRefreshes)
		m.transition(TokenRefreshed{Token: msg.token})
	}
}

func (m *Manager) clientStateChanged(ctx context.Context, state messaging.State) {
	switch state {
	case messaging.StateInitialized:
		m.clientReady(ctx)
	case messaging.StateFailed, messaging.StateDenied:
		if m.ready {
			m.fail(ErrConnectionLost, fmt.Errorf("client %s", state))
		} else {
			m.fail(ErrClientInit, fmt.Errorf("client %s", state))
		}
	}
}

func (m *Manager) clientReady(ctx context.Context) {
	if m.ready {
		return
	}
	m.ready = true
	m.transition(ClientReady{})

	expiring := func() { m.post(ctx, tokenExpiring{}) }
	m.subscribe(m.client.OnTokenAboutToExpire(expiring))
	m.subscribe(m.client.OnTokenExpired(expiring))

	room := m.state.Room.Name
	m.subscribe(m.client.OnChannelJoined(func(ch messaging.Channel) {
		if ch.UniqueName() == room {
			m.post(ctx, channelJoinedSignal{channel: ch})
		}
	}))

	go m.resolve(ctx, m.client, m.state.Room)
}

func (m *Manager) subscribeLive(ctx context.Context, ch messaging.Channel) {
	if m.liveSub != nil {
		return
	}
	m.liveSub = ch.OnMessageAdded(func(msg types.Message) {
		m.post(ctx, liveMessage{message: msg})
	})
	m.subscribe(m.liveSub)
}

func (m *Manager) subscribe(sub messaging.Subscription) {
	m.subs = append(m.subs, sub)
}

func (m *Manager) send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if !m.state.CanSend() {
		return ErrNotJoined
	}

	m.transition(DraftCleared{})

	ch := m.channel
	go func() {
		if err := ch.SendMessage(ctx, body); err != nil {
			m.log.Printf("session %s: send message: %v", m.id, err)
			return
		}
		m.incr(StatMessagesSent)
	}()

	return nil
}

func (m *Manager) transition(ev Event) {
	next := m.state.Apply(ev)
	m.state = next

	m.mu.Lock()
	m.snapshot = next
	m.mu.Unlock()

	m.observer.StateChanged(next)
}

func (m *Manager) fail(reason, cause error) {
	m.log.Printf("session %s: %v: %v", m.id, reason, cause)
	m.incr(StatFailedSessions)
	m.transition(Failed{Err: reason})
	m.release(false)
}

// release drops every subscription and the client. While the loop is still
// running the client is closed in the background since its event handlers
// may be waiting to hand an event to the loop.
func (m *Manager) release(wait bool) {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
	m.liveSub = nil
	m.channel = nil

	if m.client == nil {
		return
	}
	client := m.client
	m.client = nil
	if wait {
		client.Close()
	} else {
		go client.Close()
	}
}

func (m *Manager) fetchToken(ctx context.Context, identity types.Identity) {
	token, err := m.tokens.Token(ctx, identity)
	m.post(ctx, tokenResult{token: token, err: err})
}

func (m *Manager) connect(ctx context.Context, token string) {
	client, err := m.connector.Connect(ctx, token)
	if !m.post(ctx, clientResult{client: client, err: err}) && client != nil {
		client.Close()
	}
}

// resolve finds the room's channel, creating it when the lookup fails, and
// joins it unless the identity is already a member. Creation is tried once.
func (m *Manager) resolve(ctx context.Context, client messaging.Client, room types.Room) {
	ch, err := client.GetChannelByUniqueName(ctx, room.Name)
	if err != nil {
		m.log.Printf("session %s: channel %q not resolved, creating it: %v", m.id, room.Name, err)

		ch, err = client.CreateChannel(ctx, messaging.ChannelOptions{
			UniqueName:   room.Name,
			FriendlyName: room.Name,
		})
		if err != nil {
			m.post(ctx, channelResolved{err: err})
			return
		}
	}

	if ch.Status() != types.ChannelStatusJoined {
		if err := ch.Join(ctx); err != nil {
			m.post(ctx, channelResolved{err: err})
			return
		}
	}

	m.post(ctx, channelResolved{channel: ch})
}

func (m *Manager) fetchHistory(ctx context.Context, ch messaging.Channel) {
	msgs, err := ch.Messages(ctx)
	m.post(ctx, historyResult{messages: msgs, err: err})
}

// refresh fetches a new token for identity and hands it to client, retrying
// with a fixed delay up to the configured number of attempts.
func (m *Manager) refresh(ctx context.Context, client messaging.Client, identity types.Identity) {
	var err error
	for attempt := 1; attempt <= m.opts.RefreshAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(m.opts.RefreshDelay):
			case <-ctx.Done():
				return
			}
		}

		var token string
		token, err = m.tokens.Token(ctx, identity)
		if err == nil {
			err = client.UpdateToken(ctx, token)
		}
		if err == nil {
			m.post(ctx, refreshResult{token: token})
			return
		}

		m.log.Printf("session %s: token refresh attempt %d/%d: %v", m.id, attempt, m.opts.RefreshAttempts, err)
	}

	m.post(ctx, refreshResult{err: err})
}

func (m *Manager) incr(name string) {
	if m.opts.Stats != nil {
		m.opts.Stats.Incr(name)
	}
}

func (m *Manager) decr(name string) {
	if m.opts.Stats != nil {
		m.opts.Stats.Decr(name)
	}
}

func channelInfo(ch messaging.Channel) types.Channel {
	return types.Channel{
		Sid:          ch.Sid(),
		UniqueName:   ch.UniqueName(),
		FriendlyName: ch.FriendlyName(),
		Status:       ch.Status(),
	}
}

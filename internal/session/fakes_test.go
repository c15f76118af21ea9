package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/npezzotti/go-roomchat/internal/messaging"
	"github.com/npezzotti/go-roomchat/internal/types"
)

var errNotFound = &messaging.ResponseError{Code: 404, Message: "channel not found"}

type handlers[T any] struct {
	mu     sync.Mutex
	nextId int
	fns    map[int]func(T)
}

type fakeSub struct {
	once sync.Once
	fn   func()
}

func (s *fakeSub) Unsubscribe() { s.once.Do(s.fn) }

func (h *handlers[T]) on(fn func(T)) messaging.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(T))
	}
	h.nextId++
	id := h.nextId
	h.fns[id] = fn
	return &fakeSub{fn: func() {
		h.mu.Lock()
		delete(h.fns, id)
		h.mu.Unlock()
	}}
}

func (h *handlers[T]) fire(v T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (h *handlers[T]) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

type fakeChannel struct {
	client *fakeClient
	sid    string
	name   string

	mu          sync.Mutex
	status      types.ChannelStatus
	history     []types.Message
	historyErr  error
	historyGate chan struct{}
	joinErr     error
	joins       int
	sent        []string

	messageAdded handlers[types.Message]
}

func (ch *fakeChannel) Sid() string          { return ch.sid }
func (ch *fakeChannel) UniqueName() string   { return ch.name }
func (ch *fakeChannel) FriendlyName() string { return ch.name }

func (ch *fakeChannel) Status() types.ChannelStatus {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.status
}

func (ch *fakeChannel) Join(ctx context.Context) error {
	ch.mu.Lock()
	ch.joins++
	if ch.joinErr != nil {
		ch.mu.Unlock()
		return ch.joinErr
	}
	ch.status = types.ChannelStatusJoined
	ch.mu.Unlock()

	ch.client.channelJoined.fire(ch)
	return nil
}

func (ch *fakeChannel) Messages(ctx context.Context) ([]types.Message, error) {
	ch.mu.Lock()
	gate := ch.historyGate
	ch.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.historyErr != nil {
		return nil, ch.historyErr
	}
	return append([]types.Message{}, ch.history...), nil
}

func (ch *fakeChannel) SendMessage(ctx context.Context, body string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sent = append(ch.sent, body)
	return nil
}

func (ch *fakeChannel) OnMessageAdded(fn func(types.Message)) messaging.Subscription {
	return ch.messageAdded.on(fn)
}

func (ch *fakeChannel) sentBodies() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string{}, ch.sent...)
}

func (ch *fakeChannel) joinCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joins
}

type fakeClient struct {
	mu        sync.Mutex
	state     messaging.State
	channels  map[string]*fakeChannel
	created   []messaging.ChannelOptions
	createErr error
	tokens    []string
	updateErr error
	closed    int

	stateChanged       handlers[messaging.State]
	channelJoined      handlers[messaging.Channel]
	tokenAboutToExpire handlers[struct{}]
	tokenExpired       handlers[struct{}]
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		state:    messaging.StateInitialized,
		channels: make(map[string]*fakeChannel),
	}
}

func (c *fakeClient) addChannel(name string, status types.ChannelStatus, history ...types.Message) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &fakeChannel{client: c, sid: "CH" + name, name: name, status: status, history: history}
	c.channels[name] = ch
	return ch
}

func (c *fakeClient) channel(name string) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

func (c *fakeClient) setState(state messaging.State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.stateChanged.fire(state)
}

func (c *fakeClient) State() messaging.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeClient) OnStateChanged(fn func(messaging.State)) messaging.Subscription {
	return c.stateChanged.on(fn)
}

func (c *fakeClient) OnChannelJoined(fn func(messaging.Channel)) messaging.Subscription {
	return c.channelJoined.on(fn)
}

func (c *fakeClient) OnTokenAboutToExpire(fn func()) messaging.Subscription {
	return c.tokenAboutToExpire.on(func(struct{}) { fn() })
}

func (c *fakeClient) OnTokenExpired(fn func()) messaging.Subscription {
	return c.tokenExpired.on(func(struct{}) { fn() })
}

func (c *fakeClient) GetChannelByUniqueName(ctx context.Context, name string) (messaging.Channel, error) {
	ch := c.channel(name)
	if ch == nil {
		return nil, errNotFound
	}
	if ch.Status() == types.ChannelStatusJoined {
		c.channelJoined.fire(ch)
	}
	return ch, nil
}

func (c *fakeClient) CreateChannel(ctx context.Context, opts messaging.ChannelOptions) (messaging.Channel, error) {
	c.mu.Lock()
	c.created = append(c.created, opts)
	err := c.createErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.addChannel(opts.UniqueName, types.ChannelStatusNotParticipating), nil
}

func (c *fakeClient) UpdateToken(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.tokens = append(c.tokens, token)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeClient) createdChannels() []messaging.ChannelOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messaging.ChannelOptions{}, c.created...)
}

func (c *fakeClient) updatedTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.tokens...)
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// handlerCount is the number of live registrations across all events.
func (c *fakeClient) handlerCount() int {
	n := c.stateChanged.len() + c.channelJoined.len() + c.tokenAboutToExpire.len() + c.tokenExpired.len()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		n += ch.messageAdded.len()
	}
	return n
}

type fakeConnector struct {
	client *fakeClient
	err    error
	calls  atomic.Int32
	tokens chan string
}

func (f *fakeConnector) Connect(ctx context.Context, token string) (messaging.Client, error) {
	f.calls.Add(1)
	if f.tokens != nil {
		f.tokens <- token
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

// fakeTokens hands out "token-1", "token-2", ... unless fn overrides it.
type fakeTokens struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (string, error)

	mu         sync.Mutex
	identities []types.Identity
}

func (f *fakeTokens) Token(ctx context.Context, identity types.Identity) (string, error) {
	f.mu.Lock()
	f.identities = append(f.identities, identity)
	f.mu.Unlock()

	call := int(f.calls.Add(1))
	if f.fn != nil {
		return f.fn(ctx, call)
	}
	return "token-" + strconv.Itoa(call), nil
}

func (f *fakeTokens) requested() []types.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Identity{}, f.identities...)
}

type fakeObserver struct {
	mu      sync.Mutex
	states  []SessionState
	scrolls int
}

func (o *fakeObserver) StateChanged(state SessionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *fakeObserver) ScrollToBottom() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scrolls++
}

func (o *fakeObserver) scrollCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scrolls
}

func (o *fakeObserver) last() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return SessionState{}
	}
	return o.states[len(o.states)-1]
}

var errBoom = errors.New("boom")

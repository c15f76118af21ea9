package session

import (
	"slices"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseAwaitingToken
	PhaseAwaitingClientReady
	PhaseResolvingChannel
	PhaseJoined
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseAwaitingToken:
		return "awaiting-token"
	case PhaseAwaitingClientReady:
		return "awaiting-client-ready"
	case PhaseResolvingChannel:
		return "resolving-channel"
	case PhaseJoined:
		return "joined"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionState is the observable state of one chat screen visit. It is a
// value: Apply returns a new state and never mutates the receiver.
type SessionState struct {
	Id       string
	Phase    Phase
	Identity types.Identity
	Room     types.Room
	Token    string
	Loading  bool
	// Channel is nil until the join completes.
	Channel  *types.Channel
	Messages []types.Message
	Draft    string
	Err      error

	hydrating bool
	held      []types.Message
}

// CanSend reports whether a message may be transmitted in this state.
func (s SessionState) CanSend() bool {
	return s.Phase == PhaseJoined && s.Channel != nil
}

func (s SessionState) Hydrating() bool {
	return s.hydrating
}

type Event interface {
	isEvent()
}

type (
	Started struct {
		Identity types.Identity
		Room     types.Room
	}
	TokenIssued struct {
		Token string
	}
	ClientReady    struct{}
	ChannelJoined  struct{ Channel types.Channel }
	HydrationBegan struct{}
	HistoryLoaded  struct{ Messages []types.Message }
	MessageAdded   struct{ Message types.Message }
	DraftChanged   struct{ Body string }
	DraftCleared   struct{}
	TokenRefreshed struct{ Token string }
	Failed         struct{ Err error }
)

func (Started) isEvent()        {}
func (TokenIssued) isEvent()    {}
func (ClientReady) isEvent()    {}
func (ChannelJoined) isEvent()  {}
func (HydrationBegan) isEvent() {}
func (HistoryLoaded) isEvent()  {}
func (MessageAdded) isEvent()   {}
func (DraftChanged) isEvent()   {}
func (DraftCleared) isEvent()   {}
func (TokenRefreshed) isEvent() {}
func (Failed) isEvent()         {}

// Apply returns the state that follows s after ev. Events that are not
// legal in the current phase leave the state unchanged.
func (s SessionState) Apply(ev Event) SessionState {
	if s.Phase == PhaseFailed {
		switch ev.(type) {
		case DraftChanged, DraftCleared:
		default:
			return s
		}
	}

	switch e := ev.(type) {
	case Started:
		if s.Phase != PhaseUninitialized {
			return s
		}
		s.Phase = PhaseAwaitingToken
		s.Identity = e.Identity
		s.Room = e.Room
		s.Loading = true
	case TokenIssued:
		if s.Phase != PhaseAwaitingToken {
			return s
		}
		s.Phase = PhaseAwaitingClientReady
		s.Token = e.Token
	case ClientReady:
		if s.Phase != PhaseAwaitingClientReady {
			return s
		}
		s.Phase = PhaseResolvingChannel
	case ChannelJoined:
		if s.Phase != PhaseResolvingChannel {
			return s
		}
		ch := e.Channel
		s.Phase = PhaseJoined
		s.Channel = &ch
		s.Loading = false
	case HydrationBegan:
		s.hydrating = true
	case HistoryLoaded:
		if !s.hydrating {
			return s
		}
		s.Messages = seam(e.Messages, s.held)
		s.held = nil
		s.hydrating = false
	case MessageAdded:
		if s.hydrating {
			s.held = append(slices.Clip(s.held), e.Message)
			return s
		}
		s.Messages = append(slices.Clip(s.Messages), e.Message)
	case DraftChanged:
		s.Draft = e.Body
	case DraftCleared:
		s.Draft = ""
	case TokenRefreshed:
		s.Token = e.Token
	case Failed:
		s.Phase = PhaseFailed
		s.Loading = false
		s.Err = e.Err
		s.hydrating = false
		s.held = nil
	}

	return s
}

// seam joins a history snapshot with the live messages held back while it
// was being fetched. Held messages the snapshot already covers are dropped
// so the tail continues where the history ends.
func seam(history, held []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history)+len(held))
	out = append(out, history...)

	last := -1
	if len(history) > 0 {
		last = history[len(history)-1].Index
	}
	for _, m := range held {
		if m.Index > last {
			out = append(out, m)
		}
	}

	return out
}

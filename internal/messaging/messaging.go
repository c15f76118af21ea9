// Package messaging is the client SDK for the chat service. A Client is
// created from an access token, reports its lifecycle through state
// changes and hands out Channel handles that emit message events.
package messaging

import (
	"context"

	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type State = protocol.ClientState

const (
	StateConnecting  = protocol.StateConnecting
	StateInitialized = protocol.StateInitialized
	StateDenied      = protocol.StateDenied
	StateFailed      = protocol.StateFailed
)

// Subscription is returned by every event registration. Unsubscribe is
// safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

type ChannelOptions struct {
	UniqueName   string
	FriendlyName string
}

type Client interface {
	State() State
	OnStateChanged(fn func(State)) Subscription
	OnChannelJoined(fn func(Channel)) Subscription
	OnTokenAboutToExpire(fn func()) Subscription
	OnTokenExpired(fn func()) Subscription
	GetChannelByUniqueName(ctx context.Context, uniqueName string) (Channel, error)
	CreateChannel(ctx context.Context, opts ChannelOptions) (Channel, error)
	UpdateToken(ctx context.Context, token string) error
	Close() error
}

type Channel interface {
	Sid() string
	UniqueName() string
	FriendlyName() string
	Status() types.ChannelStatus
	Join(ctx context.Context) error
	Messages(ctx context.Context) ([]types.Message, error)
	SendMessage(ctx context.Context, body string) error
	OnMessageAdded(fn func(types.Message)) Subscription
}

package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type wsChannel struct {
	client *wsClient

	mu   sync.RWMutex
	info types.Channel

	messageAdded emitter[types.Message]
}

func (ch *wsChannel) Sid() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.info.Sid
}

func (ch *wsChannel) UniqueName() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.info.UniqueName
}

func (ch *wsChannel) FriendlyName() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.info.FriendlyName
}

func (ch *wsChannel) Status() types.ChannelStatus {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.info.Status
}

func (ch *wsChannel) setInfo(info types.Channel) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	// membership only moves forward for the lifetime of a client
	if ch.info.Status == types.ChannelStatusJoined {
		info.Status = types.ChannelStatusJoined
	}
	ch.info = info
}

func (ch *wsChannel) setStatus(status types.ChannelStatus) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.info.Status = status
}

func (ch *wsChannel) Join(ctx context.Context) error {
	resp, err := ch.client.request(ctx, &protocol.ClientMessage{
		Join: &protocol.Join{ChannelSid: ch.Sid()},
	})
	if err != nil {
		return fmt.Errorf("join channel %q: %w", ch.Sid(), err)
	}

	if resp.Channel != nil {
		ch.setInfo(*resp.Channel)
	}
	ch.client.markJoined(ch)

	return nil
}

// Messages returns the channel's full history in index order.
func (ch *wsChannel) Messages(ctx context.Context) ([]types.Message, error) {
	resp, err := ch.client.request(ctx, &protocol.ClientMessage{
		GetMessages: &protocol.GetMessages{ChannelSid: ch.Sid()},
	})
	if err != nil {
		return nil, fmt.Errorf("get messages for %q: %w", ch.Sid(), err)
	}

	if resp.Messages == nil {
		return []types.Message{}, nil
	}
	return resp.Messages, nil
}

func (ch *wsChannel) SendMessage(ctx context.Context, body string) error {
	if _, err := ch.client.request(ctx, &protocol.ClientMessage{
		Publish: &protocol.Publish{
			ChannelSid: ch.Sid(),
			Body:       body,
		},
	}); err != nil {
		return fmt.Errorf("send message to %q: %w", ch.Sid(), err)
	}

	return nil
}

func (ch *wsChannel) OnMessageAdded(fn func(types.Message)) Subscription {
	return ch.messageAdded.on(fn)
}

package server

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const subjectPrefix = "roomchat.channel"

// Broker fans messages out to other chat service instances sharing the
// same storage. Messages published by an instance are never delivered
// back to it.
type Broker interface {
	Publish(msg types.Message) error
	Subscribe(fn func(types.Message)) error
	Close() error
}

type nopBroker struct{}

// NewNopBroker returns the broker used by a single instance deployment.
func NewNopBroker() Broker { return nopBroker{} }

func (nopBroker) Publish(types.Message) error          { return nil }
func (nopBroker) Subscribe(func(types.Message)) error { return nil }
func (nopBroker) Close() error                         { return nil }

type envelope struct {
	Origin  string        `json:"origin"`
	Message types.Message `json:"message"`
}

type NatsBroker struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	origin string
	log    *log.Logger
}

func NewNatsBroker(url string, logger *log.Logger) (*NatsBroker, error) {
	nc, err := nats.Connect(url,
		nats.Name("chatservice"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Printf("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NatsBroker{
		nc:     nc,
		origin: uuid.NewString(),
		log:    logger,
	}, nil
}

func subject(channelSid string) string {
	return subjectPrefix + "." + channelSid
}

func (b *NatsBroker) Publish(msg types.Message) error {
	data, err := json.Marshal(envelope{Origin: b.origin, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.nc.Publish(subject(msg.ChannelSid), data); err != nil {
		return fmt.Errorf("failed to publish message to subject '%s': %w", subject(msg.ChannelSid), err)
	}

	return nil
}

func (b *NatsBroker) Subscribe(fn func(types.Message)) error {
	sub, err := b.nc.Subscribe(subjectPrefix+".*", func(m *nats.Msg) {
		b.handle(m.Subject, m.Data, fn)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s.*: %w", subjectPrefix, err)
	}
	b.sub = sub

	return nil
}

func (b *NatsBroker) handle(subj string, data []byte, fn func(types.Message)) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.log.Printf("error unmarshaling message from subject '%s': %v", subj, err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	if sid := strings.TrimPrefix(subj, subjectPrefix+"."); sid != env.Message.ChannelSid {
		b.log.Printf("dropping message for %q received on subject '%s'", env.Message.ChannelSid, subj)
		return
	}

	fn(env.Message)
}

func (b *NatsBroker) Close() error {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.log.Printf("nats unsubscribe: %v", err)
		}
	}

	return b.nc.Drain()
}

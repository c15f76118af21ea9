package server

import (
	"github.com/npezzotti/go-roomchat/internal/protocol"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// ClientMessage is a request read from a connection, tagged with its
// sender and, for requests handled by a room, the target channel.
type ClientMessage struct {
	protocol.ClientMessage
	client     *Client
	channelSid string
	// attach asks the room to start delivering notifications to client
	// and then queue response.
	attach   bool
	response *protocol.ServerMessage
}

func (m *ClientMessage) kind() string {
	switch {
	case m.GetChannel != nil:
		return "get_channel"
	case m.CreateChannel != nil:
		return "create_channel"
	case m.Join != nil:
		return "join"
	case m.GetMessages != nil:
		return "get_messages"
	case m.Publish != nil:
		return "publish"
	case m.UpdateToken != nil:
		return "update_token"
	default:
		return "unknown"
	}
}

func withChannel(msg *protocol.ServerMessage, ch types.Channel) *protocol.ServerMessage {
	msg.Response.Channel = &ch
	return msg
}

func withMessages(msg *protocol.ServerMessage, messages []types.Message) *protocol.ServerMessage {
	msg.Response.Messages = messages
	return msg
}

func messageAdded(msg types.Message) *protocol.ServerMessage {
	return &protocol.ServerMessage{
		BaseMessage:  protocol.BaseMessage{Timestamp: protocol.Now()},
		Notification: &protocol.Notification{MessageAdded: &msg},
	}
}

func channelJoined(ch types.Channel) *protocol.ServerMessage {
	return &protocol.ServerMessage{
		BaseMessage:  protocol.BaseMessage{Timestamp: protocol.Now()},
		Notification: &protocol.Notification{ChannelJoined: &ch},
	}
}

// Package protocol defines the websocket envelopes exchanged between the
// messaging SDK and the chat service.
package protocol

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type ClientState string

const (
	StateConnecting  ClientState = "connecting"
	StateInitialized ClientState = "initialized"
	StateDenied      ClientState = "denied"
	StateFailed      ClientState = "failed"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	GetChannel    *GetChannel    `json:"get_channel,omitempty"`
	CreateChannel *CreateChannel `json:"create_channel,omitempty"`
	Join          *Join          `json:"join,omitempty"`
	GetMessages   *GetMessages   `json:"get_messages,omitempty"`
	Publish       *Publish       `json:"publish,omitempty"`
	UpdateToken   *UpdateToken   `json:"update_token,omitempty"`
}

type GetChannel struct {
	UniqueName string `json:"unique_name"`
}

type CreateChannel struct {
	UniqueName   string `json:"unique_name"`
	FriendlyName string `json:"friendly_name"`
}

type Join struct {
	ChannelSid string `json:"channel_sid"`
}

type GetMessages struct {
	ChannelSid string `json:"channel_sid"`
}

type Publish struct {
	ChannelSid string `json:"channel_sid"`
	Body       string `json:"body"`
}

type UpdateToken struct {
	Token string `json:"token"`
}

type ServerMessage struct {
	BaseMessage
	State        *StateChange  `json:"state,omitempty"`
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type StateChange struct {
	State    ClientState `json:"state"`
	Identity string      `json:"identity,omitempty"`
}

type Response struct {
	ResponseCode int             `json:"response_code"`
	Error        string          `json:"error,omitempty"`
	Channel      *types.Channel  `json:"channel,omitempty"`
	Messages     []types.Message `json:"messages,omitempty"`
}

type Notification struct {
	MessageAdded  *types.Message `json:"message_added,omitempty"`
	ChannelJoined *types.Channel `json:"channel_joined,omitempty"`
}

func Initialized(identity string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		State: &StateChange{
			State:    StateInitialized,
			Identity: identity,
		},
	}
}

func NoErrOK(id int) *ServerMessage {
	return newResponse(id, http.StatusOK, "")
}

func NoErrCreated(id int) *ServerMessage {
	return newResponse(id, http.StatusCreated, "")
}

func NoErrAccepted(id int) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "")
}

func ErrChannelNotFound(id int) *ServerMessage {
	return newResponse(id, http.StatusNotFound, "channel not found")
}

func ErrChannelExists(id int) *ServerMessage {
	return newResponse(id, http.StatusConflict, "channel already exists")
}

func ErrNotParticipating(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "identity is not a member of the channel")
}

func ErrTokenExpired(id int) *ServerMessage {
	return newResponse(id, http.StatusUnauthorized, "token expired")
}

func ErrInvalidToken(id int) *ServerMessage {
	return newResponse(id, http.StatusUnauthorized, "invalid token")
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func newResponse(id, code int, errMsg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

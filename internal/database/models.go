package database

import (
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type Channel struct {
	Id           int
	Sid          string
	UniqueName   string
	FriendlyName string
	CreatedBy    string
	LastIndex    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Info is the client-facing view of the channel for one identity.
func (c Channel) Info(status types.ChannelStatus) types.Channel {
	return types.Channel{
		Sid:          c.Sid,
		UniqueName:   c.UniqueName,
		FriendlyName: c.FriendlyName,
		Status:       status,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type Message struct {
	Id         int
	Index      int
	ChannelId  int
	ChannelSid string
	Author     string
	Body       string
	CreatedAt  time.Time
}

func (m Message) Info() types.Message {
	return types.Message{
		Index:      m.Index,
		ChannelSid: m.ChannelSid,
		Author:     m.Author,
		Body:       m.Body,
		Timestamp:  m.CreatedAt,
	}
}

type CreateChannelParams struct {
	Sid          string
	UniqueName   string
	FriendlyName string
	CreatedBy    string
}

type CreateMessageParams struct {
	ChannelSid string
	Author     string
	Body       string
}

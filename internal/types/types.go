package types

import (
	"time"
)

// Identity is the user supplied label a session connects as.
type Identity struct {
	Email string `json:"email"`
}

type Room struct {
	Name string `json:"name"`
}

type ChannelStatus string

const (
	ChannelStatusJoined           ChannelStatus = "joined"
	ChannelStatusNotParticipating ChannelStatus = "not_participating"
)

type Channel struct {
	Sid          string        `json:"sid"`
	UniqueName   string        `json:"unique_name"`
	FriendlyName string        `json:"friendly_name"`
	Status       ChannelStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

// Message is a single channel message. Index is assigned by the chat
// service and grows by one per message within a channel.
type Message struct {
	Index      int       `json:"index"`
	ChannelSid string    `json:"channel_sid"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

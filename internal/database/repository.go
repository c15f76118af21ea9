package database

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Repository stores channels, their members and their messages.
type Repository interface {
	Ping() error
	CreateChannel(params CreateChannelParams) (Channel, error)
	GetChannelByUniqueName(uniqueName string) (Channel, error)
	GetChannelBySid(sid string) (Channel, error)
	// AddMember reports whether identity was newly added.
	AddMember(channelSid, identity string) (bool, error)
	IsMember(channelSid, identity string) (bool, error)
	// CreateMessage appends a message and assigns it the channel's next
	// index, starting from 0.
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(channelSid string) ([]Message, error)
	Close() error
}

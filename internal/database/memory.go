package database

import (
	"slices"
	"sync"
	"time"
)

// MemoryRepository keeps everything in process. It backs the chat service
// when no database is configured, and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextId   int
	channels map[string]*Channel
	byName   map[string]string
	members  map[string]map[string]bool
	messages map[string][]Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		channels: make(map[string]*Channel),
		byName:   make(map[string]string),
		members:  make(map[string]map[string]bool),
		messages: make(map[string][]Message),
	}
}

func (r *MemoryRepository) Ping() error  { return nil }
func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[params.UniqueName]; ok {
		return Channel{}, ErrConflict
	}
	if _, ok := r.channels[params.Sid]; ok {
		return Channel{}, ErrConflict
	}

	r.nextId++
	now := time.Now().UTC()
	c := &Channel{
		Id:           r.nextId,
		Sid:          params.Sid,
		UniqueName:   params.UniqueName,
		FriendlyName: params.FriendlyName,
		CreatedBy:    params.CreatedBy,
		LastIndex:    -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.channels[c.Sid] = c
	r.byName[c.UniqueName] = c.Sid
	r.members[c.Sid] = make(map[string]bool)

	return *c, nil
}

func (r *MemoryRepository) GetChannelByUniqueName(uniqueName string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sid, ok := r.byName[uniqueName]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return *r.channels[sid], nil
}

func (r *MemoryRepository) GetChannelBySid(sid string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.channels[sid]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return *c, nil
}

func (r *MemoryRepository) AddMember(channelSid, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.members[channelSid]
	if !ok {
		return false, ErrNotFound
	}
	if members[identity] {
		return false, nil
	}
	members[identity] = true
	return true, nil
}

func (r *MemoryRepository) IsMember(channelSid, identity string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.members[channelSid][identity], nil
}

func (r *MemoryRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[params.ChannelSid]
	if !ok {
		return Message{}, ErrNotFound
	}

	now := time.Now().UTC()
	c.LastIndex++
	c.UpdatedAt = now
	r.nextId++

	msg := Message{
		Id:         r.nextId,
		Index:      c.LastIndex,
		ChannelId:  c.Id,
		ChannelSid: c.Sid,
		Author:     params.Author,
		Body:       params.Body,
		CreatedAt:  now,
	}
	r.messages[c.Sid] = append(r.messages[c.Sid], msg)

	return msg, nil
}

func (r *MemoryRepository) GetMessages(channelSid string) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.channels[channelSid]; !ok {
		return nil, ErrNotFound
	}

	msgs := slices.Clone(r.messages[channelSid])
	if msgs == nil {
		msgs = make([]Message, 0)
	}
	return msgs, nil
}

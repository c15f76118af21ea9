package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	args := m.Called(params)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockRepository) GetChannelByUniqueName(uniqueName string) (Channel, error) {
	args := m.Called(uniqueName)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockRepository) GetChannelBySid(sid string) (Channel, error) {
	args := m.Called(sid)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockRepository) AddMember(channelSid, identity string) (bool, error) {
	args := m.Called(channelSid, identity)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) IsMember(channelSid, identity string) (bool, error) {
	args := m.Called(channelSid, identity)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(channelSid string) ([]Message, error) {
	args := m.Called(channelSid)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

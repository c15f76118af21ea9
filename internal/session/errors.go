package session

import "errors"

var (
	ErrMissingHandoff = errors.New("identity and room are required")
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")

	ErrEmptyMessage = errors.New("message body is empty")
	ErrNotJoined    = errors.New("no channel joined")

	// Fatal conditions. Each one ends the session in PhaseFailed.
	ErrTokenFetch         = errors.New("unable to fetch access token")
	ErrClientInit         = errors.New("unable to initialize messaging client")
	ErrChannelUnavailable = errors.New("unable to create channel, please reload this page")
	ErrHistoryUnavailable = errors.New("unable to load channel history, please reload this page")
	ErrTokenRefresh       = errors.New("unable to refresh access token, please reload this page")
	ErrConnectionLost     = errors.New("connection to the chat service was lost, please reload this page")
)

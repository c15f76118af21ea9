package messaging

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrClientClosed = errors.New("messaging client closed")
	ErrUnauthorized = errors.New("access token rejected")
)

// ResponseError is a non-2xx response to a request sent to the chat service.
type ResponseError struct {
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat service responded %d", e.Code)
	}
	return fmt.Sprintf("chat service responded %d: %s", e.Code, e.Message)
}

func IsNotFound(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Code == http.StatusNotFound
}

func IsConflict(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Code == http.StatusConflict
}

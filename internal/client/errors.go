package client

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyConnected is returned by Connect while a socket is open or
	// being re-established.
	ErrAlreadyConnected = errors.New("client: already connected")
	// ErrNotAuthenticated is returned when an operation needs a session token.
	ErrNotAuthenticated = errors.New("client: not authenticated")
	// ErrNotConnected is returned when the socket is required but closed.
	ErrNotConnected = errors.New("client: not connected")
	// ErrNoCounterpart is returned by Send when no conversation is selected.
	ErrNoCounterpart = errors.New("client: no counterpart selected")
	// ErrSuperseded is returned by SelectCounterpart when a later selection
	// replaced it before its history arrived.
	ErrSuperseded = errors.New("client: selection superseded")
	// ErrReconnectFailed is reported once every reconnect attempt failed.
	ErrReconnectFailed = errors.New("client: reconnect attempts exhausted")
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api error (status %d): %s", e.Status, e.Message)
}

// ServerError is an error frame pushed over the socket.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: server error %s: %s", e.Code, e.Message)
}

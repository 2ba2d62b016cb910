package client

import "time"

// Config controls how the client reaches the server.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8080". The REST API
	// lives under /api and the socket at /ws.
	BaseURL          string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration

	// Reconnect policy after an unexpected transport loss. The delay starts
	// at ReconnectInterval and doubles up to MaxReconnectDelay. A
	// MaxReconnectTries of zero retries forever.
	ReconnectInterval time.Duration
	MaxReconnectDelay time.Duration
	MaxReconnectTries int
}

// DefaultConfig returns sensible defaults for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8080",
		HandshakeTimeout:  10 * time.Second,
		RequestTimeout:    30 * time.Second,
		ReconnectInterval: 500 * time.Millisecond,
		MaxReconnectDelay: 10 * time.Second,
		MaxReconnectTries: 10,
	}
}

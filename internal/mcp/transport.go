package mcp

import (
	"context"
	"encoding/json"
)

// Transport defines the bidirectional framed channel a tool-server client
// speaks over. At v0 the only implementation is stdio.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection. Idempotent.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns a channel for receiving notifications from the server.
	Events() <-chan *JSONRPCNotification

	// Connected returns whether the transport is connected.
	Connected() bool
}

// NewTransport creates a new transport for the server descriptor.
func NewTransport(cfg *ServerConfig) Transport {
	return NewStdioTransport(cfg)
}

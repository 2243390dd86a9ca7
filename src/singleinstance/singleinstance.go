// Package singleinstance keeps one resident per user session and lets a second
// invocation (`typing-assistant --generate`) delegate its run to it over a
// loopback TCP line protocol:
//
//	PING\n                  -> PONG\n
//	GENERATE\n              -> SUCCESS\n<text> | ERROR\n<message>
//	GENERATE OVERLAY\n      -> same, using the overlay copy endpoint
package singleinstance

import (
	"context"

	"go.uber.org/zap"
)

// Server owns the TCP endpoint and answers delegated generation requests.
type Server interface {
	// Start begins listening on the first port of the range and accepting client requests.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	Request() Request
	// RespondSuccess sends the generated text.
	RespondSuccess(text string) error
	// RespondError sends an error with human-readable message.
	RespondError(msg string) error
	Close() error
}

// Request is a single delegated generation.
type Request struct {
	Overlay bool
}

// Client attempts to delegate a generation to a resident server.
type Client interface {
	// TryGenerate scans the port range, performs the handshake and delegates.
	// If no resident is found, returns delegated=false, err=nil.
	TryGenerate(ctx context.Context, overlay bool) (delegated bool, text string, err error)
}

// NewServer returns the TCP implementation.
func NewServer(ports PortRange, log *zap.SugaredLogger) Server {
	return newTcpServer(ports.normalized(), log)
}

// NewClient returns the TCP implementation.
func NewClient(ports PortRange) Client { return newTcpClient(ports.normalized()) }

// Package integration exercises the full stack end to end: client and
// server Streams joined by real TCP loopback sockets rather than the
// in-memory pipe the package tests use.
package integration

import (
	"net"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/pairtls/pkg/transport"
)

// PairConfig configures a test pair.
type PairConfig struct {
	// ClientPSK and ServerPSK are the keys each side holds. Tests set
	// them apart to exercise mismatch handling.
	ClientPSK []byte
	ServerPSK []byte

	// PSKID is the identity the key is offered under.
	PSKID []byte

	// HandshakeTimeout bounds the handshake via conn deadlines.
	// Defaults to 5 seconds.
	HandshakeTimeout time.Duration

	// LoggerFactory for logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultPairConfig returns the configuration most tests use: both
// sides holding the same key.
func DefaultPairConfig() PairConfig {
	psk := []byte("integration-test-psk")
	return PairConfig{
		ClientPSK:        psk,
		ServerPSK:        psk,
		PSKID:            []byte("integration"),
		HandshakeTimeout: 5 * time.Second,
	}
}

// Pair holds two Streams joined by a TCP loopback connection. The
// handshake has not run yet; tests drive it so failures surface where
// they assert.
type Pair struct {
	Client *transport.Stream
	Server *transport.Stream

	listener net.Listener
	t        *testing.T
}

// NewPair listens on an ephemeral loopback port, dials it, and wraps
// both ends in Streams per config.
func NewPair(t *testing.T, config PairConfig) *Pair {
	t.Helper()

	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 5 * time.Second
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	type accepted struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		conn, err := listener.Accept()
		acceptCh <- accepted{conn, err}
	}()

	clientConn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		listener.Close()
		t.Fatalf("dial failed: %v", err)
	}
	acc := <-acceptCh
	if acc.err != nil {
		clientConn.Close()
		listener.Close()
		t.Fatalf("accept failed: %v", acc.err)
	}

	// Bound the handshake so a wedged test fails instead of hanging.
	deadline := time.Now().Add(config.HandshakeTimeout)
	clientConn.SetDeadline(deadline)
	acc.conn.SetDeadline(deadline)

	client := transport.Client(clientConn, transport.StreamConfig{
		PSK:           config.ClientPSK,
		PSKID:         config.PSKID,
		LoggerFactory: config.LoggerFactory,
	})
	server := transport.Server(acc.conn, transport.StreamConfig{
		PSK:           config.ServerPSK,
		PSKID:         config.PSKID,
		LoggerFactory: config.LoggerFactory,
	})

	return &Pair{Client: client, Server: server, listener: listener, t: t}
}

// Handshake runs both handshakes concurrently and fails the test if
// either errors. On success the handshake deadlines are cleared.
func (p *Pair) Handshake() {
	p.t.Helper()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- p.Server.Handshake()
	}()
	if err := p.Client.Handshake(); err != nil {
		p.t.Fatalf("client handshake failed: %v", err)
	}
	if err := <-serverErr; err != nil {
		p.t.Fatalf("server handshake failed: %v", err)
	}

	p.Client.SetDeadline(time.Time{})
	p.Server.SetDeadline(time.Time{})
}

// Close tears down both Streams and the listener.
func (p *Pair) Close() {
	p.Client.Close()
	p.Server.Close()
	p.listener.Close()
}

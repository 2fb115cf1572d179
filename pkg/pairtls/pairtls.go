// Package pairtls implements the external-PSK profile of TLS 1.3 used
// to protect device pairing channels.
//
// The profile is the psk_ke subset of RFC 8446: one cipher suite
// (TLS_AES_128_GCM_SHA256), pre-shared key authentication only, no
// certificates and no key shares. Both sides are provisioned out of
// band with the same secret and identity label; the handshake proves
// possession of the secret and derives fresh AES-128-GCM traffic keys.
//
// # Protocol Flow
//
//	Client                                Server
//	------                                ------
//	NewClientConnection(config)           NewServerConnection(config)
//	[ClientHello]            ------>      Recv
//	                         <------      [ServerHello]
//	                         <------      [ChangeCipherSpec]
//	                         <------      [EncryptedExtensions Finished]
//	Recv x3
//	[Finished]               ------>      Recv
//	Connected                             Connected
//
// Each bracketed flight is one wire record delivered through the
// configured Send callback. A Connection performs no I/O of its own;
// the caller feeds inbound records to Recv one complete record at a
// time. See pkg/transport for adapters that bind a Connection to a
// net.Conn.
//
// # Usage
//
// Client:
//
//	conn, err := pairtls.NewClientConnection(pairtls.Config{
//	    PSK:   psk,
//	    PSKID: pskID,
//	    Send:  sendToPeer,
//	})
//	// feed records: data, err := conn.Recv(record)
//	// once conn.State() == pairtls.StateConnected:
//	err = conn.SendApplicationData([]byte("ping"))
//
// Server:
//
//	conn, err := pairtls.NewServerConnection(pairtls.Config{
//	    PSK:   psk,
//	    PSKID: pskID,
//	    Send:  sendToPeer,
//	})
//	// feed records until conn.State() == pairtls.StateConnected
package pairtls

// Role identifies which side of the handshake a Connection plays.
type Role int

const (
	// RoleClient opens the handshake by sending a ClientHello.
	RoleClient Role = iota
	// RoleServer answers a ClientHello.
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "Client"
	case RoleServer:
		return "Server"
	default:
		return "Unknown"
	}
}

// State represents the handshake state machine.
type State int

const (
	StateClientStart        State = iota // client: ClientHello not yet sent
	StateClientWaitSH                    // client: awaiting ServerHello
	StateClientWaitEE                    // client: awaiting EncryptedExtensions
	StateClientWaitFinished              // client: awaiting the server Finished
	StateServerStart                     // server: awaiting a ClientHello
	StateServerWaitFinished              // server: flight sent, awaiting the client Finished
	StateConnected                       // application data may flow
	StateFailed                          // terminal, after a fatal error or Close
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClientStart:
		return "ClientStart"
	case StateClientWaitSH:
		return "ClientWaitSH"
	case StateClientWaitEE:
		return "ClientWaitEE"
	case StateClientWaitFinished:
		return "ClientWaitFinished"
	case StateServerStart:
		return "ServerStart"
	case StateServerWaitFinished:
		return "ServerWaitFinished"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

package pairtls

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/backkem/pairtls/pkg/handshake"
	"github.com/backkem/pairtls/pkg/keyschedule"
	"github.com/backkem/pairtls/pkg/record"
	"github.com/pion/logging"
)

// Config collects the parameters shared by both connection roles.
type Config struct {
	// PSK is the pre-shared key. Both sides must hold the same value.
	PSK []byte

	// PSKID is the identity label offered by the client and required by
	// the server.
	PSKID []byte

	// Send delivers one complete outbound record to the peer. It is
	// invoked synchronously and must not call back into the Connection.
	Send func(data []byte) error

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory

	// Rand is the source of handshake randomness. Defaults to
	// crypto/rand.Reader.
	Rand io.Reader
}

func (c *Config) validate() error {
	if len(c.PSK) == 0 {
		return fmt.Errorf("%w: PSK must be non-empty", ErrInvalidConfig)
	}
	if len(c.PSKID) == 0 {
		return fmt.Errorf("%w: PSKID must be non-empty", ErrInvalidConfig)
	}
	if c.Send == nil {
		return fmt.Errorf("%w: Send callback is required", ErrInvalidConfig)
	}
	return nil
}

// Connection is one endpoint of a pairing channel. It is safe for
// concurrent use; Recv and SendApplicationData may be called from
// different goroutines.
type Connection struct {
	role  Role
	state State

	schedule *keyschedule.Schedule
	records  *record.Layer

	// PSK material, dropped once the key schedule consumes it
	psk   []byte
	pskID []byte

	// sessionID is the legacy_session_id the client sent; the
	// ServerHello must echo it byte for byte.
	sessionID []byte

	// seenChangeCipherSpec tracks the single tolerated compatibility
	// ChangeCipherSpec while the client waits for EncryptedExtensions.
	seenChangeCipherSpec bool

	// peerFinishedTranscript is the transcript snapshot the peer's
	// Finished MAC must cover.
	peerFinishedTranscript []byte

	// clientHandshakeSecret is retained by the server past Finalize so
	// the client Finished can still be verified.
	clientHandshakeSecret []byte

	// recvEpoch counts receive key installations. The record dispatch
	// uses it to reject handshake data spanning a key change.
	recvEpoch int

	failure error // first fatal error, reported by all later calls

	log  logging.LeveledLogger
	rand io.Reader

	mu sync.Mutex
}

// NewClientConnection creates the client end of a pairing channel and
// immediately sends its ClientHello through config.Send.
func NewClientConnection(config Config) (*Connection, error) {
	c, err := newConnection(RoleClient, config)
	if err != nil {
		return nil, err
	}
	if err := c.sendClientHello(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewServerConnection creates the server end of a pairing channel,
// ready to receive a ClientHello.
func NewServerConnection(config Config) (*Connection, error) {
	return newConnection(RoleServer, config)
}

func newConnection(role Role, config Config) (*Connection, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	c := &Connection{
		role:     role,
		schedule: keyschedule.New(),
		records:  record.NewLayer(config.Send),
		psk:      copyBytes(config.PSK),
		pskID:    copyBytes(config.PSKID),
		rand:     config.Rand,
	}
	if role == RoleClient {
		c.state = StateClientStart
	} else {
		c.state = StateServerStart
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("pairtls")
	}
	return c, nil
}

// Recv feeds exactly one complete inbound record to the connection.
// Handshake and ChangeCipherSpec records advance the handshake and
// return nil data; ApplicationData records return the decrypted
// payload. Any error is fatal for the connection.
func (c *Connection) Recv(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, c.failure)
	}
	out, err := c.recvRecord(data)
	if err != nil {
		return nil, c.fail(err)
	}
	return out, nil
}

// SendApplicationData encrypts data under the application traffic key
// and delivers the resulting records through the send callback.
func (c *Connection) SendApplicationData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, c.failure)
	}
	if c.state != StateConnected {
		return fmt.Errorf("%w: connection in state %s", ErrHandshakeNotComplete, c.state)
	}
	if err := c.records.Send(record.TypeApplicationData, data); err != nil {
		return c.fail(sendError(err))
	}
	if err := c.records.Flush(); err != nil {
		return c.fail(sendError(err))
	}
	return nil
}

// State returns the current handshake state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the connection role.
func (c *Connection) Role() Role {
	return c.role
}

// Close terminates the connection and drops its keying material. The
// material is not zeroized. No closure alert is emitted; the caller
// closes its own transport.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure == nil {
		c.failure = ErrConnectionClosed
	}
	c.state = StateFailed
	c.psk = nil
	c.pskID = nil
	c.peerFinishedTranscript = nil
	c.clientHandshakeSecret = nil
	return nil
}

// fail moves the connection into the terminal failed state. The first
// error is returned as-is; later operations report ErrConnectionFailed.
func (c *Connection) fail(err error) error {
	c.state = StateFailed
	c.failure = err
	if c.log != nil {
		c.log.Errorf("connection failed: %v", err)
	}
	return err
}

func (c *Connection) recvRecord(data []byte) ([]byte, error) {
	typ, payload, err := c.records.Recv(data)
	if err != nil {
		return nil, recvError(err)
	}
	switch typ {
	case record.TypeApplicationData:
		if c.state != StateConnected {
			return nil, fmt.Errorf("%w: application data in state %s", ErrUnexpectedMessage, c.state)
		}
		return payload, nil
	case record.TypeChangeCipherSpec:
		return nil, c.recvChangeCipherSpec(payload)
	case record.TypeHandshake:
		return nil, c.recvHandshakeRecord(payload)
	default:
		return nil, fmt.Errorf("%w: %s record in state %s", ErrUnexpectedMessage, typ, c.state)
	}
}

// recvChangeCipherSpec accepts the single middlebox-compatibility
// ChangeCipherSpec a client may see between ServerHello and the
// encrypted flight (RFC 8446 Appendix D.4).
func (c *Connection) recvChangeCipherSpec(payload []byte) error {
	if c.role != RoleClient || c.state != StateClientWaitEE {
		return fmt.Errorf("%w: ChangeCipherSpec in state %s", ErrUnexpectedMessage, c.state)
	}
	if c.seenChangeCipherSpec {
		return ErrDuplicateChangeCipherSpec
	}
	if len(payload) != 1 || payload[0] != 0x01 {
		return ErrBadChangeCipherSpec
	}
	c.seenChangeCipherSpec = true
	return nil
}

// recvHandshakeRecord walks the complete handshake messages in one
// record payload. Each message's raw bytes enter the transcript before
// the message is handled; a message may not span records.
func (c *Connection) recvHandshakeRecord(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty handshake record", ErrMalformedWire)
	}
	rest := payload
	for len(rest) > 0 {
		msg, raw, tail, err := handshake.ReadMessage(rest)
		if err != nil {
			return wireError(err)
		}
		c.schedule.AddToTranscript(raw)
		epoch := c.recvEpoch
		if err := c.recvHandshakeMessage(msg); err != nil {
			return err
		}
		if c.recvEpoch != epoch && len(tail) > 0 {
			return fmt.Errorf("%w: handshake data continues across a key change", ErrMalformedWire)
		}
		rest = tail
	}
	return nil
}

func (c *Connection) recvHandshakeMessage(msg handshake.Message) error {
	switch c.state {
	case StateClientWaitSH:
		return c.recvServerHello(msg)
	case StateClientWaitEE:
		return c.recvEncryptedExtensions(msg)
	case StateClientWaitFinished:
		return c.recvServerFinished(msg)
	case StateServerStart:
		return c.recvClientHello(msg)
	case StateServerWaitFinished:
		return c.recvClientFinished(msg)
	case StateConnected:
		// Post-handshake messages such as NewSessionTicket carry
		// nothing this profile uses.
		if c.log != nil {
			c.log.Debugf("ignoring post-handshake %s", msg.Type())
		}
		return nil
	default:
		return fmt.Errorf("%w: handshake message in state %s", ErrUnexpectedMessage, c.state)
	}
}

// sendHandshakeMessage serializes msg, appends it to the transcript and
// queues it on the record layer. The caller flushes.
func (c *Connection) sendHandshakeMessage(msg handshake.Message) error {
	raw, err := handshake.Marshal(msg)
	if err != nil {
		return err
	}
	c.schedule.AddToTranscript(raw)
	if err := c.records.Send(record.TypeHandshake, raw); err != nil {
		return sendError(err)
	}
	return nil
}

// installRecvKey swaps the receive key and bumps the epoch used to
// detect handshake data spanning the change.
func (c *Connection) installRecvKey(secret []byte) error {
	if err := c.records.SetRecvKey(secret); err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
	}
	c.recvEpoch++
	return nil
}

// recvError maps record layer failures on the receive path onto the
// public error kinds. An oversized inbound record is a framing
// violation, not an overflow.
func recvError(err error) error {
	switch {
	case errors.Is(err, record.ErrDecryptFailed):
		return fmt.Errorf("%w: %v", ErrAEADFailure, err)
	case errors.Is(err, record.ErrSequenceOverflow):
		return fmt.Errorf("%w: %v", ErrSequenceOverflow, err)
	case errors.Is(err, record.ErrMalformedRecord), errors.Is(err, record.ErrRecordOverflow):
		return fmt.Errorf("%w: %v", ErrMalformedWire, err)
	default:
		return err
	}
}

// sendError maps record layer failures on the send path. Send callback
// errors pass through unchanged.
func sendError(err error) error {
	switch {
	case errors.Is(err, record.ErrRecordOverflow):
		return fmt.Errorf("%w: %v", ErrRecordOverflow, err)
	case errors.Is(err, record.ErrSequenceOverflow):
		return fmt.Errorf("%w: %v", ErrSequenceOverflow, err)
	default:
		return err
	}
}

// wireError maps handshake codec failures onto the public error kinds.
func wireError(err error) error {
	switch {
	case errors.Is(err, handshake.ErrInvalidExtension):
		return fmt.Errorf("%w: %v", ErrInvalidExtension, err)
	case errors.Is(err, handshake.ErrDecode), errors.Is(err, handshake.ErrUnknownMessageType):
		return fmt.Errorf("%w: %v", ErrMalformedWire, err)
	default:
		return err
	}
}

// scheduleError maps key schedule failures onto the public error kinds.
func scheduleError(err error) error {
	if errors.Is(err, keyschedule.ErrInvalidStage) {
		return fmt.Errorf("%w: %v", ErrKeyScheduleState, err)
	}
	return fmt.Errorf("%w: %v", ErrCryptoPrimitiveFailure, err)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

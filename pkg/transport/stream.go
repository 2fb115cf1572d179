package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/pairtls/pkg/pairtls"
	"github.com/backkem/pairtls/pkg/record"
)

// StreamConfig configures a Stream.
type StreamConfig struct {
	// PSK is the pre-shared key both peers hold.
	PSK []byte

	// PSKID is the identity label the key is offered under.
	PSKID []byte

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Rand overrides the source of hello randomness.
	// If nil, crypto/rand is used.
	Rand io.Reader
}

// Stream runs a pairing channel Connection over a net.Conn, in the
// shape of crypto/tls: construct with Client or Server, then Handshake,
// Read and Write. Records cross the wire framed by their own 5-byte
// headers; the reader reassembles exactly one record per engine call
// using the declared length.
//
// A failed handshake leaves the net.Conn open; closing it is the
// caller's responsibility unless Close is used.
type Stream struct {
	conn     net.Conn
	config   StreamConfig
	isClient bool
	log      logging.LeveledLogger

	// mu guards the engine, handshake progress and writes.
	mu            sync.Mutex
	tls           *pairtls.Connection
	handshakeDone bool
	handshakeErr  error
	closed        bool

	closeOnce sync.Once
	closeErr  error

	// readMu serializes readers; readBuf holds undelivered plaintext
	// from the last application data record.
	readMu  sync.Mutex
	readBuf []byte
}

// Client wraps conn in a Stream that performs the client side of the
// pairing handshake.
func Client(conn net.Conn, config StreamConfig) *Stream {
	return newStream(conn, config, true)
}

// Server wraps conn in a Stream that performs the server side of the
// pairing handshake.
func Server(conn net.Conn, config StreamConfig) *Stream {
	return newStream(conn, config, false)
}

func newStream(conn net.Conn, config StreamConfig, isClient bool) *Stream {
	s := &Stream{
		conn:     conn,
		config:   config,
		isClient: isClient,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport")
	}
	return s
}

// Handshake runs the pairing handshake if it has not run yet. It is
// called automatically by the first Read or Write. The result is
// latched: once failed, the Stream stays failed.
func (s *Stream) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeLocked()
}

func (s *Stream) handshakeLocked() error {
	if s.handshakeDone || s.handshakeErr != nil {
		return s.handshakeErr
	}
	if s.closed {
		s.handshakeErr = net.ErrClosed
		return s.handshakeErr
	}

	cfg := pairtls.Config{
		PSK:           s.config.PSK,
		PSKID:         s.config.PSKID,
		Send:          s.writeRecord,
		LoggerFactory: s.config.LoggerFactory,
		Rand:          s.config.Rand,
	}
	var err error
	if s.isClient {
		s.tls, err = pairtls.NewClientConnection(cfg)
	} else {
		s.tls, err = pairtls.NewServerConnection(cfg)
	}
	if err != nil {
		s.handshakeErr = err
		return err
	}

	for s.tls.State() != pairtls.StateConnected {
		rec, err := s.readRecord()
		if err != nil {
			s.handshakeErr = err
			return err
		}
		if _, err := s.tls.Recv(rec); err != nil {
			s.handshakeErr = err
			return err
		}
	}
	s.handshakeDone = true
	if s.log != nil {
		s.log.Debugf("handshake complete as %s", s.tls.Role())
	}
	return nil
}

// Read reads decrypted application data, running the handshake first if
// needed. One call drains at most one record.
func (s *Stream) Read(b []byte) (int, error) {
	if err := s.Handshake(); err != nil {
		return 0, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.readBuf) == 0 {
		rec, err := s.readRecord()
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		data, err := s.tls.Recv(rec)
		s.mu.Unlock()
		if err != nil {
			return 0, err
		}
		// Empty records (and ignored post-handshake messages) produce
		// no data; keep reading.
		s.readBuf = data
	}

	n := copy(b, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

// Write encrypts and sends application data, running the handshake
// first if needed. Data larger than one record is split.
func (s *Stream) Write(b []byte) (int, error) {
	if err := s.Handshake(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for written < len(b) {
		chunk := b[written:]
		if len(chunk) > record.MaxPlaintextSize {
			chunk = chunk[:record.MaxPlaintextSize]
		}
		if err := s.tls.SendApplicationData(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

// Close closes the underlying net.Conn and the engine. The conn is
// closed before any lock is taken, so a Handshake or Read blocked on
// the wire unblocks rather than deadlocking against Close.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.mu.Lock()
		s.closed = true
		if s.tls != nil {
			s.tls.Close()
		}
		s.mu.Unlock()
	})
	return s.closeErr
}

// State reports the engine state, before or after the handshake.
func (s *Stream) State() pairtls.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tls == nil {
		if s.isClient {
			return pairtls.StateClientStart
		}
		return pairtls.StateServerStart
	}
	return s.tls.State()
}

// LocalAddr returns the local address of the underlying net.Conn.
func (s *Stream) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the underlying net.Conn.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines of the underlying
// net.Conn.
func (s *Stream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline of the underlying net.Conn.
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline of the underlying net.Conn.
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

// writeRecord is the engine's send callback.
func (s *Stream) writeRecord(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

// readRecord reads exactly one record using the length declared in its
// header.
func (s *Stream) readRecord() ([]byte, error) {
	var hdr [record.HeaderSize]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(hdr[3:5]))
	rec := make([]byte, record.HeaderSize+length)
	copy(rec[:record.HeaderSize], hdr[:])
	if _, err := io.ReadFull(s.conn, rec[record.HeaderSize:]); err != nil {
		return nil, err
	}
	return rec, nil
}

// Verify Stream implements net.Conn.
var _ net.Conn = (*Stream)(nil)

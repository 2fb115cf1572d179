// Package transport carries pairing channel records between peers: an
// in-memory Pipe for tests and examples, and a Stream adapter that runs
// a Connection over any net.Conn.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic data delivery in a background
	// goroutine. Default: true.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers queued
	// data. Default: 1ms.
	ProcessInterval time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory communication between two
// endpoints without real network I/O. It wraps pion's test.Bridge.
//
// By default queued data is delivered by a background goroutine. Use
// SetAutoProcess(false) or PipeConfig for manual control over delivery
// in deterministic tests.
type Pipe struct {
	bridge *test.Bridge
	conn0  *streamConn
	conn1  *streamConn
	log    logging.LeveledLogger

	mu              sync.Mutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a bidirectional pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	bridge := test.NewBridge()
	p := &Pipe{
		bridge:          bridge,
		conn0:           newStreamConn(bridge.GetConn0()),
		conn1:           newStreamConn(bridge.GetConn1()),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("transport")
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

// startAutoProcess starts the background delivery goroutine.
func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic delivery. When disabled,
// call Tick() or Process() to deliver queued data. This is useful for
// deterministic testing of specific orderings.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoProcess
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return p.conn0
}

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return p.conn1
}

// Tick delivers one queued write in each direction (if available) and
// returns the number delivered (0, 1, or 2).
//
// With AutoProcess enabled (the default) this is not needed.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued writes and returns the number delivered.
//
// With AutoProcess enabled (the default) this is not needed.
func (p *Pipe) Process() int {
	count := 0
	// A delivery lands in the endpoint's pump, which needs an instant to
	// park itself on the bridge again; a zero Tick with data still queued
	// means the pump was mid-append, not that the queue drained.
	for p.pending() {
		n := p.Tick()
		if n == 0 {
			time.Sleep(10 * time.Microsecond)
			continue
		}
		count += n
	}
	return count
}

// pending reports whether either bridge queue still holds a write that
// its destination pump can accept.
func (p *Pipe) pending() bool {
	return (p.bridge.Len(0) > 0 && !p.conn1.pumpStopped()) ||
		(p.bridge.Len(1) > 0 && !p.conn0.pumpStopped())
}

// Close closes both endpoints and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var errs []error
	if err := p.conn0.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.conn1.Close(); err != nil {
		errs = append(errs, err)
	}

	// The bridge only closes an endpoint's read channel inside Tick, once
	// the queue toward it has drained. Keep ticking until both pumps have
	// seen EOF, so blocked readers unblock even in manual mode.
	for !p.conn0.pumpStopped() || !p.conn1.pumpStopped() {
		p.bridge.Tick()
		time.Sleep(10 * time.Microsecond)
	}

	if p.log != nil {
		p.log.Debug("pipe closed")
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// streamConn adapts a bridge endpoint into a byte stream. A pump
// goroutine stays parked on the bridge conn's Read, so Tick's
// non-blocking handoff always finds a receiver; deliveries accumulate
// in an internal buffer that short reads drain, so framed readers such
// as Stream see contiguous bytes.
type streamConn struct {
	net.Conn

	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	err  error

	pumpDone chan struct{}
}

func newStreamConn(conn net.Conn) *streamConn {
	c := &streamConn{Conn: conn, pumpDone: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	go c.pump()
	return c
}

// pump moves every delivery off the bridge into the buffer. It exits on
// the first read error (io.EOF once the endpoint closes and its queue
// drains), which it hands to blocked and future readers.
func (c *streamConn) pump() {
	defer close(c.pumpDone)
	for {
		// Sized for the largest frame a 16-bit length header can
		// declare, so no delivery is ever truncated.
		pkt := make([]byte, 1<<16+8)
		n, err := c.Conn.Read(pkt)

		c.mu.Lock()
		if err != nil {
			c.err = err
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		c.buf = append(c.buf, pkt[:n]...)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *streamConn) pumpStopped() bool {
	select {
	case <-c.pumpDone:
		return true
	default:
		return false
	}
}

func (c *streamConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.buf) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.cond.Wait()
	}
	n := copy(b, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

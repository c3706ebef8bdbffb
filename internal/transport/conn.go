package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("transport: connection closed")

// Conn is the control-channel socket. Send and Exchange are serialized so a
// fire-and-forget push never lands between a request and its reply.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial opens a TCP connection to addr with Nagle disabled.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}
	return New(raw), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		limits: frame.DefaultLimits(),
		closed: make(chan struct{}),
	}
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// SetHandshakeDeadline bounds every read and write for the next d.
func (c *Conn) SetHandshakeDeadline(d time.Duration) error {
	if d <= 0 {
		return c.ClearDeadline()
	}
	return c.conn.SetDeadline(time.Now().Add(d))
}

// ClearDeadline lets steady-state reads and writes block indefinitely.
func (c *Conn) ClearDeadline() error {
	return c.conn.SetDeadline(time.Time{})
}

// Send writes p without waiting for a reply.
func (c *Conn) Send(p frame.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(p)
}

// Exchange writes p and reads the next packet as its reply.
func (c *Conn) Exchange(p frame.Packet) (frame.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked(p); err != nil {
		return frame.Packet{}, err
	}
	reply, err := frame.ReadPacket(c.reader, c.limits)
	if err != nil {
		return frame.Packet{}, c.wrapClosed(err)
	}
	return reply, nil
}

func (c *Conn) writeLocked(p frame.Packet) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := frame.WritePacket(c.conn, p, c.limits); err != nil {
		return c.wrapClosed(err)
	}
	return nil
}

// Close is idempotent and unblocks any goroutine inside Send or Exchange.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
		log.Debug().Str("remote", c.RemoteAddr()).Msg("control connection closed")
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) wrapClosed(err error) error {
	if c.isClosed() && !errors.Is(err, ErrClosed) {
		return errors.Join(ErrClosed, err)
	}
	return err
}

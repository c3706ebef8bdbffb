// Package hostsim is a loopback streaming host for the control channel.
//
// It answers Start-A, Start-B and Resync with a same-type reply carrying a
// little-endian status word, records every packet it reads, and never replies
// to loss stats.
package hostsim

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Config tunes how the host answers.
type Config struct {
	ReplyStatus uint16
	// SilentTypes are read and recorded but never answered.
	SilentTypes []uint16
	ReplyDelay  time.Duration
}

// Server accepts control connections and answers them.
type Server struct {
	ln  net.Listener
	cfg Config

	mu      sync.Mutex
	packets []frame.Packet
	conns   map[net.Conn]struct{}
	notify  chan struct{}
	accepts int

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds addr; use "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		ln:     ln,
		cfg:    cfg,
		conns:  make(map[net.Conn]struct{}),
		notify: make(chan struct{}),
	}, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Serve accepts connections until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepts++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	logger := log.With().Str("component", "hostsim").Str("peer", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("control client connected")

	for {
		p, err := frame.ReadPacket(conn, frame.DefaultLimits())
		if err != nil {
			logger.Debug().Err(err).Msg("control client gone")
			return
		}
		s.record(p)
		if !s.answers(p.Type) {
			continue
		}
		if s.cfg.ReplyDelay > 0 {
			time.Sleep(s.cfg.ReplyDelay)
		}
		reply := protocol.Reply(p.Type, s.cfg.ReplyStatus)
		if err := frame.WritePacket(conn, reply, frame.DefaultLimits()); err != nil {
			logger.Debug().Err(err).Msg("reply failed")
			return
		}
	}
}

func (s *Server) answers(t uint16) bool {
	switch t {
	case protocol.TypeStartA, protocol.TypeStartB, protocol.TypeResync:
	default:
		return false
	}
	for _, silent := range s.cfg.SilentTypes {
		if silent == t {
			return false
		}
	}
	return true
}

func (s *Server) record(p frame.Packet) {
	s.mu.Lock()
	s.packets = append(s.packets, p)
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Packets returns every packet read so far, in arrival order.
func (s *Server) Packets() []frame.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame.Packet, len(s.packets))
	copy(out, s.packets)
	return out
}

// PacketsOfType filters Packets by type.
func (s *Server) PacketsOfType(t uint16) []frame.Packet {
	var out []frame.Packet
	for _, p := range s.Packets() {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// WaitForPackets blocks until at least n packets of type t have arrived.
func (s *Server) WaitForPackets(ctx context.Context, t uint16, n int) ([]frame.Packet, error) {
	for {
		s.mu.Lock()
		wake := s.notify
		s.mu.Unlock()

		if got := s.PacketsOfType(t); len(got) >= n {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return s.PacketsOfType(t), ctx.Err()
		case <-wake:
		}
	}
}

// Accepts reports how many connections have been accepted.
func (s *Server) Accepts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

// DropConnections closes every live client connection, as a crashed host would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
		s.DropConnections()
	})
	return err
}

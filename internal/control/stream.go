package control

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/streamctl/internal/observability"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/danmuck/streamctl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	workerReporter = "loss_reporter"
	workerResync   = "resync"
)

// Stream is the control channel for one streaming session.
type Stream struct {
	id       uuid.UUID
	host     string
	cfg      session.Config
	listener Listener
	now      func() time.Time
	rng      *rand.Rand
	logger   zerolog.Logger

	counters   counters
	escalation *escalation
	queue      *session.LossQueue

	mu      sync.Mutex
	conn    *transport.Conn
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	aborting      atomic.Bool
	terminateOnce sync.Once
	resyncs       atomic.Uint64
	lastRange     atomic.Pointer[protocol.FrameRange]
}

// Option customizes a Stream.
type Option func(*Stream)

// WithClock replaces the wall clock used by the loss-window heuristic.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStream(host string, listener Listener, cfg session.Config, opts ...Option) (*Stream, error) {
	if strings.TrimSpace(host) == "" {
		return nil, ErrHostRequired
	}
	if listener == nil {
		return nil, ErrListenerRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Stream{
		id:         uuid.New(),
		host:       strings.TrimSpace(host),
		cfg:        cfg,
		listener:   listener,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		escalation: newEscalation(cfg.Escalation),
		queue:      session.NewLossQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With().Str("session", s.id.String()).Str("host", s.host).Logger()
	return s, nil
}

func (s *Stream) ID() string {
	return s.id.String()
}

func (s *Stream) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.cfg.Port))
}

// Initialize dials the host, retrying up to MaxConnectAttempts with backoff.
func (s *Stream) Initialize(ctx context.Context) error {
	if s.aborting.Load() {
		return ErrAborted
	}
	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if connected {
		return nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborting.Load() || s.conn != nil {
		_ = conn.Close()
		if s.conn != nil {
			return nil
		}
		return ErrAborted
	}
	s.conn = conn
	return nil
}

func (s *Stream) dial(ctx context.Context) (*transport.Conn, error) {
	var attempt int
	for {
		attempt++
		conn, err := transport.Dial(ctx, s.Addr(), s.cfg.ConnectTimeout)
		if err == nil {
			s.logger.Info().Str("remote", conn.RemoteAddr()).Int("attempt", attempt).Msg("control connected")
			return conn, nil
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("addr", s.Addr()).Msg("control dial failed")
		if attempt >= s.cfg.MaxConnectAttempts {
			return nil, err
		}
		if err := session.SleepBackoff(ctx, s.cfg.Backoff, attempt, s.rng); err != nil {
			return nil, err
		}
	}
}

// Start runs the handshake and then launches the reporter and resync workers.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.aborting.Load() {
		s.mu.Unlock()
		return ErrAborted
	}
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.handshake(ctx, conn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborting.Load() {
		return ErrAborted
	}
	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	metered := meteredConn{conn: conn}
	reporter := &lossReporter{
		conn:     metered,
		counters: &s.counters,
		interval: s.cfg.LossReportInterval,
	}
	resync := &resyncCoordinator{
		conn:    metered,
		queue:   s.queue,
		mode:    s.cfg.ResyncMode,
		onRange: s.recordResync,
	}
	s.wg.Add(2)
	go s.runWorker(workerReporter, func() error { return reporter.run(workerCtx) })
	go s.runWorker(workerResync, func() error { return resync.run(workerCtx) })
	s.logger.Info().Msg("control stream started")
	return nil
}

func (s *Stream) handshake(ctx context.Context, conn *transport.Conn) error {
	start := time.Now()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.SetHandshakeDeadline(s.cfg.HandshakeTimeout); err != nil {
		return err
	}
	err := runHandshake(meteredConn{conn: conn})
	observability.RecordHandshake(time.Since(start), err == nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("control handshake failed")
		return err
	}
	return conn.ClearDeadline()
}

// runWorker releases the wait group before reporting so a Listener may call
// Abort from inside ConnectionTerminated.
func (s *Stream) runWorker(name string, fn func() error) {
	err := fn()
	s.wg.Done()
	s.terminate(name, err)
}

func (s *Stream) terminate(source string, err error) {
	s.terminateOnce.Do(func() {
		ev := s.logger.Error()
		if errors.Is(err, ErrInterrupted) || errors.Is(err, transport.ErrClosed) {
			ev = s.logger.Info()
		}
		ev.Err(err).Str("worker", source).Msg("control stream terminated")
		observability.RecordTermination(source)
		s.listener.ConnectionTerminated(err)
	})
}

// Abort closes the connection and waits for both workers. Safe to call more
// than once and from any goroutine.
func (s *Stream) Abort() {
	if !s.aborting.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	conn, cancel := s.conn, s.cancel
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("control stream aborted")
}

func (s *Stream) ConnectionReceivedFrame(frameIndex int32) {
	s.counters.setFrame(frameIndex)
}

func (s *Stream) ConnectionLostPackets(lastReceivedPacket, nextReceivedPacket int32) {
	s.counters.addLoss(nextReceivedPacket - lastReceivedPacket - 1)
}

func (s *Stream) ConnectionDetectedFrameLoss(firstLostFrame, nextSuccessfulFrame int32) {
	if s.escalation.frameLoss(s.now()) {
		s.advise("packet_loss", MessagePacketLoss)
	}
	s.enqueue(firstLostFrame, nextSuccessfulFrame)
}

func (s *Stream) ConnectionSinkTooSlow(firstLostFrame, nextSuccessfulFrame int32) {
	if s.escalation.sinkTooSlow() {
		s.advise("slow_sink", MessageSlowSink)
	}
	s.enqueue(firstLostFrame, nextSuccessfulFrame)
}

func (s *Stream) ConnectionTerminated() {
	s.Abort()
}

func (s *Stream) enqueue(firstLostFrame, nextSuccessfulFrame int32) {
	s.queue.Push(session.LossEvent{
		FirstLostFrame:      firstLostFrame,
		NextSuccessfulFrame: nextSuccessfulFrame,
	})
}

func (s *Stream) advise(kind, message string) {
	s.logger.Warn().Str("kind", kind).Msg("advisory emitted")
	observability.RecordAdvisory(kind)
	s.listener.DisplayTransientMessage(message)
}

func (s *Stream) recordResync(rng protocol.FrameRange) {
	s.resyncs.Add(1)
	s.lastRange.Store(&rng)
	observability.RecordResync(string(s.cfg.ResyncMode), rng.Start, rng.End)
}

var _ EventSink = (*Stream)(nil)

// meteredConn counts packets per type on the way out.
type meteredConn struct {
	conn *transport.Conn
}

func (m meteredConn) Send(p frame.Packet) error {
	if err := m.conn.Send(p); err != nil {
		return err
	}
	observability.RecordPacketSent(protocol.TypeName(p.Type))
	return nil
}

func (m meteredConn) Exchange(p frame.Packet) (frame.Packet, error) {
	reply, err := m.conn.Exchange(p)
	if err == nil {
		observability.RecordPacketSent(protocol.TypeName(p.Type))
	}
	return reply, err
}

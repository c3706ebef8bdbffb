package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []frame.Packet
	failOn  uint16
	sendErr error
	sentCh  chan frame.Packet
}

func (f *fakeConn) Send(p frame.Packet) error {
	return f.record(p)
}

func (f *fakeConn) Exchange(p frame.Packet) (frame.Packet, error) {
	if err := f.record(p); err != nil {
		return frame.Packet{}, err
	}
	return protocol.Reply(p.Type, 0), nil
}

func (f *fakeConn) record(p frame.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil && (f.failOn == 0 || f.failOn == p.Type) {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	if f.sentCh != nil {
		f.sentCh <- p
	}
	return nil
}

func (f *fakeConn) packets() []frame.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame.Packet, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestRunHandshakeSendsStartAThenStartB(t *testing.T) {
	testlog.Start(t)
	fc := &fakeConn{}
	if err := runHandshake(fc); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	sent := fc.packets()
	if len(sent) != 2 || sent[0].Type != protocol.TypeStartA || sent[1].Type != protocol.TypeStartB {
		t.Fatalf("unexpected handshake packets: %+v", sent)
	}
}

func TestRunHandshakeStopsOnFailure(t *testing.T) {
	testlog.Start(t)
	ioErr := errors.New("boom")
	fc := &fakeConn{failOn: protocol.TypeStartA, sendErr: ioErr}
	err := runHandshake(fc)
	if !errors.Is(err, ErrHandshakeFailed) || !errors.Is(err, ioErr) {
		t.Fatalf("expected wrapped handshake failure, got %v", err)
	}
	if len(fc.packets()) != 0 {
		t.Fatalf("start-b sent after start-a failed")
	}
}

func TestCoalesceSingleEvent(t *testing.T) {
	testlog.Start(t)
	q := session.NewLossQueue()
	rng := coalesce(session.LossEvent{FirstLostFrame: 10, NextSuccessfulFrame: 20}, q)
	if rng != (protocol.FrameRange{Start: 11, End: 20}) {
		t.Fatalf("unexpected range: %v", rng)
	}
}

func TestCoalesceBurstUsesLastEnd(t *testing.T) {
	testlog.Start(t)
	q := session.NewLossQueue()
	q.Push(session.LossEvent{FirstLostFrame: 10, NextSuccessfulFrame: 20})
	q.Push(session.LossEvent{FirstLostFrame: 25, NextSuccessfulFrame: 30})

	first, err := q.Take(context.Background())
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	rng := coalesce(first, q)
	if rng != (protocol.FrameRange{Start: 11, End: 30}) {
		t.Fatalf("unexpected range: %v", rng)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d", q.Len())
	}
}

func TestResyncCoordinatorSendsOneRequestPerBurst(t *testing.T) {
	testlog.Start(t)
	q := session.NewLossQueue()
	q.Push(session.LossEvent{FirstLostFrame: 10, NextSuccessfulFrame: 20})
	q.Push(session.LossEvent{FirstLostFrame: 25, NextSuccessfulFrame: 30})

	fc := &fakeConn{sentCh: make(chan frame.Packet, 4)}
	ranges := make(chan protocol.FrameRange, 4)
	r := &resyncCoordinator{
		conn:    fc,
		queue:   q,
		mode:    protocol.ResyncModeRange,
		onRange: func(rng protocol.FrameRange) { ranges <- rng },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()

	select {
	case rng := <-ranges:
		if rng != (protocol.FrameRange{Start: 11, End: 30}) {
			t.Fatalf("unexpected range: %v", rng)
		}
	case <-time.After(time.Second):
		t.Fatalf("no resync issued")
	}
	p := <-fc.sentCh
	words, err := protocol.DecodeResync(p)
	if err != nil {
		t.Fatalf("decode resync: %v", err)
	}
	if words != [3]uint64{11, 30, 0} {
		t.Fatalf("unexpected resync words: %v", words)
	}

	cancel()
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if n := len(fc.packets()); n != 1 {
		t.Fatalf("expected one resync, got %d", n)
	}
}

func TestLossReporterSendsAndResets(t *testing.T) {
	testlog.Start(t)
	fc := &fakeConn{sentCh: make(chan frame.Packet, 16)}
	c := &counters{}
	c.setFrame(100)
	c.addLoss(5)

	r := &lossReporter{conn: fc, counters: c, interval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()

	first := <-fc.sentCh
	stats, err := protocol.DecodeLossStats(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.LossCount != 5 || stats.CurrentFrame != 100 || stats.IntervalMS != 10 {
		t.Fatalf("unexpected first report: %+v", stats)
	}

	second := <-fc.sentCh
	stats, err = protocol.DecodeLossStats(second)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.LossCount != 0 {
		t.Fatalf("loss count not reset: %+v", stats)
	}

	cancel()
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestLossReporterStopsOnSendFailure(t *testing.T) {
	testlog.Start(t)
	ioErr := errors.New("broken pipe")
	fc := &fakeConn{sendErr: ioErr}
	r := &lossReporter{conn: fc, counters: &counters{}, interval: 10 * time.Millisecond}
	if err := r.run(context.Background()); !errors.Is(err, ioErr) {
		t.Fatalf("expected send failure, got %v", err)
	}
}

func TestLostPacketsAccumulate(t *testing.T) {
	testlog.Start(t)
	s, err := NewStream("127.0.0.1", ListenerFuncs{}, session.DefaultConfig())
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	s.ConnectionLostPackets(10, 14)
	s.ConnectionLostPackets(20, 22)
	s.ConnectionReceivedFrame(42)
	st := s.Status()
	if st.PendingLossCount != 4 || st.CurrentFrame != 42 {
		t.Fatalf("unexpected status: %+v", st)
	}
	lost, frameIndex := s.counters.takeReport()
	if lost != 4 || frameIndex != 42 {
		t.Fatalf("unexpected report: lost=%d frame=%d", lost, frameIndex)
	}
	if _, pending := s.counters.snapshot(); pending != 0 {
		t.Fatalf("pending not reset: %d", pending)
	}
}

func TestNewStreamValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := NewStream(" ", ListenerFuncs{}, session.DefaultConfig()); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("expected ErrHostRequired, got %v", err)
	}
	if _, err := NewStream("host", nil, session.DefaultConfig()); !errors.Is(err, ErrListenerRequired) {
		t.Fatalf("expected ErrListenerRequired, got %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.ResyncMode = "bogus"
	if _, err := NewStream("host", ListenerFuncs{}, cfg); !errors.Is(err, session.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStartBeforeInitialize(t *testing.T) {
	testlog.Start(t)
	s, err := NewStream("127.0.0.1", ListenerFuncs{}, session.DefaultConfig())
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	s.Abort()
	s.Abort()
	if err := s.Initialize(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/hostsim"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
	"github.com/danmuck/streamctl/internal/transport"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu          sync.Mutex
	messages    []string
	terminated  []error
	terminateCh chan error
	onTerminate func()
}

func newRecordingListener() *recordingListener {
	return &recordingListener{terminateCh: make(chan error, 4)}
}

func (l *recordingListener) DisplayTransientMessage(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, message)
}

func (l *recordingListener) ConnectionTerminated(err error) {
	l.mu.Lock()
	l.terminated = append(l.terminated, err)
	hook := l.onTerminate
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	l.terminateCh <- err
}

func (l *recordingListener) snapshot() ([]string, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...), append([]error(nil), l.terminated...)
}

func startHost(t *testing.T, cfg hostsim.Config) *hostsim.Server {
	t.Helper()
	srv, err := hostsim.Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = srv.Close()
		<-done
	})
	return srv
}

func testConfig(port int) session.Config {
	cfg := session.DefaultConfig()
	cfg.Port = port
	cfg.ConnectTimeout = time.Second
	cfg.HandshakeTimeout = 500 * time.Millisecond
	cfg.LossReportInterval = 10 * time.Millisecond
	return cfg
}

func startStream(t *testing.T, srv *hostsim.Server, cfg session.Config, l Listener) *Stream {
	t.Helper()
	s, err := NewStream("127.0.0.1", l, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Start(ctx))
	return s
}

func TestStreamHandshakePrecedesTelemetry(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	l := newRecordingListener()
	s := startStream(t, srv, testConfig(srv.Port()), l)
	defer s.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := srv.WaitForPackets(ctx, protocol.TypeLossStats, 3)
	require.NoError(t, err)

	packets := srv.Packets()
	require.GreaterOrEqual(t, len(packets), 5)
	require.Equal(t, uint16(protocol.TypeStartA), packets[0].Type)
	require.Equal(t, uint16(protocol.TypeStartB), packets[1].Type)
	for _, p := range packets[2:] {
		require.NotEqual(t, uint16(protocol.TypeStartA), p.Type)
		require.NotEqual(t, uint16(protocol.TypeStartB), p.Type)
	}

	st := s.Status()
	require.True(t, st.Initialized)
	require.True(t, st.Started)
	require.False(t, st.Aborted)
}

func TestStreamReportsLossStats(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	l := newRecordingListener()
	s := startStream(t, srv, testConfig(srv.Port()), l)
	defer s.Abort()

	s.ConnectionReceivedFrame(100)
	s.ConnectionLostPackets(10, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		for _, p := range srv.PacketsOfType(protocol.TypeLossStats) {
			stats, err := protocol.DecodeLossStats(p)
			if err == nil && stats.LossCount == 5 && stats.CurrentFrame == 100 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	before := len(srv.PacketsOfType(protocol.TypeLossStats))
	got, err := srv.WaitForPackets(ctx, protocol.TypeLossStats, before+2)
	require.NoError(t, err)
	last, err := protocol.DecodeLossStats(got[len(got)-1])
	require.NoError(t, err)
	require.Equal(t, int32(0), last.LossCount)
	require.Equal(t, int32(100), last.CurrentFrame)
}

func TestStreamCoalescesQueuedLossIntoOneResync(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	cfg := testConfig(srv.Port())
	cfg.ResyncMode = protocol.ResyncModeRange
	l := newRecordingListener()

	s, err := NewStream("127.0.0.1", l, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Initialize(ctx))

	// queued before the coordinator runs, so one drain sees both
	s.ConnectionSinkTooSlow(10, 20)
	s.ConnectionSinkTooSlow(25, 30)
	require.NoError(t, s.Start(ctx))
	defer s.Abort()

	got, err := srv.WaitForPackets(ctx, protocol.TypeResync, 1)
	require.NoError(t, err)
	words, err := protocol.DecodeResync(got[0])
	require.NoError(t, err)
	require.Equal(t, [3]uint64{11, 30, 0}, words)

	require.Eventually(t, func() bool {
		return s.Status().LastResync != nil
	}, time.Second, 5*time.Millisecond)
	st := s.Status()
	require.Equal(t, protocol.FrameRange{Start: 11, End: 30}, *st.LastResync)
	require.Equal(t, uint64(1), st.Resyncs)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, srv.PacketsOfType(protocol.TypeResync), 1)

	messages, _ := l.snapshot()
	require.Equal(t, []string{MessageSlowSink}, messages)
}

func TestStreamCompatResyncSendsFixedWords(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	l := newRecordingListener()
	s := startStream(t, srv, testConfig(srv.Port()), l)
	defer s.Abort()

	s.ConnectionDetectedFrameLoss(10, 20)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := srv.WaitForPackets(ctx, protocol.TypeResync, 1)
	require.NoError(t, err)
	words, err := protocol.DecodeResync(got[0])
	require.NoError(t, err)
	require.Equal(t, [3]uint64{0, 0xFFFFF, 0}, words)
}

func TestStreamFrameLossAdvisoryAlwaysForwardsResync(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	cfg := testConfig(srv.Port())
	l := newRecordingListener()

	now := time.Unix(1700000000, 0)
	s, err := NewStream("127.0.0.1", l, cfg, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Abort()

	for i := int32(0); i < 3; i++ {
		s.ConnectionDetectedFrameLoss(i*10, i*10+5)
		_, err := srv.WaitForPackets(ctx, protocol.TypeResync, int(i)+1)
		require.NoError(t, err)
	}

	messages, _ := l.snapshot()
	require.Equal(t, []string{MessagePacketLoss}, messages)
	require.Equal(t, -5, s.Status().LossWindowCount)
}

func TestStreamHandshakeTimeout(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{SilentTypes: []uint16{protocol.TypeStartB}})
	cfg := testConfig(srv.Port())
	cfg.HandshakeTimeout = 50 * time.Millisecond
	l := newRecordingListener()

	s, err := NewStream("127.0.0.1", l, cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	err = s.Start(ctx)
	require.ErrorIs(t, err, ErrHandshakeFailed)
	s.Abort()

	require.Empty(t, srv.PacketsOfType(protocol.TypeLossStats))
	_, terminated := l.snapshot()
	require.Empty(t, terminated)
	require.False(t, s.Status().Started)
}

func TestStreamStartTwice(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	s := startStream(t, srv, testConfig(srv.Port()), newRecordingListener())
	defer s.Abort()
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestStreamInitializeRefused(t *testing.T) {
	testlog.Start(t)
	srv, err := hostsim.Listen("127.0.0.1:0", hostsim.Config{})
	require.NoError(t, err)
	port := srv.Port()
	require.NoError(t, srv.Close())

	cfg := testConfig(port)
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	s, err := NewStream("127.0.0.1", newRecordingListener(), cfg)
	require.NoError(t, err)
	require.Error(t, s.Initialize(context.Background()))
	require.False(t, s.Status().Initialized)
}

func TestStreamHostDropReportsTerminationOnce(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	l := newRecordingListener()
	s := startStream(t, srv, testConfig(srv.Port()), l)

	var aborted atomic.Int32
	l.mu.Lock()
	l.onTerminate = func() {
		aborted.Add(1)
		s.Abort()
	}
	l.mu.Unlock()

	s.ConnectionDetectedFrameLoss(1, 2)
	srv.DropConnections()

	select {
	case err := <-l.terminateCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("termination not reported")
	}

	s.Abort()
	time.Sleep(30 * time.Millisecond)
	_, terminated := l.snapshot()
	require.Len(t, terminated, 1)
	require.Equal(t, int32(1), aborted.Load())
	require.True(t, s.Status().Aborted)
}

func TestStreamAbortIsIdempotentAcrossGoroutines(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	l := newRecordingListener()
	s := startStream(t, srv, testConfig(srv.Port()), l)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := srv.WaitForPackets(ctx, protocol.TypeLossStats, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Abort()
		}()
	}
	wg.Wait()
	s.ConnectionTerminated()

	select {
	case err := <-l.terminateCh:
		require.True(t, errors.Is(err, ErrInterrupted) || errors.Is(err, transport.ErrClosed))
	case <-time.After(time.Second):
		t.Fatalf("abort did not surface a single termination")
	}
	_, terminated := l.snapshot()
	require.Len(t, terminated, 1)

	// both workers are gone: nothing more reaches the host
	count := len(srv.PacketsOfType(protocol.TypeLossStats))
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, count, len(srv.PacketsOfType(protocol.TypeLossStats)))
	require.True(t, s.Status().Aborted)
}

func TestStreamStartAfterAbort(t *testing.T) {
	testlog.Start(t)
	srv := startHost(t, hostsim.Config{})
	s, err := NewStream("127.0.0.1", newRecordingListener(), testConfig(srv.Port()))
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))

	s.Abort()
	require.ErrorIs(t, s.Start(context.Background()), ErrAborted)
	require.ErrorIs(t, s.Initialize(context.Background()), ErrAborted)
	require.Empty(t, srv.PacketsOfType(protocol.TypeStartA))

	st := s.Status()
	require.True(t, st.Aborted)
	require.False(t, st.Connected)
}

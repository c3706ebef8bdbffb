package control

import (
	"time"

	"github.com/danmuck/streamctl/internal/protocol"
)

// Status is a point-in-time view of the stream for diagnostics.
type Status struct {
	SessionID        string               `json:"session_id"`
	Addr             string               `json:"addr"`
	Remote           string               `json:"remote,omitempty"`
	Initialized      bool                 `json:"initialized"`
	Connected        bool                 `json:"connected"`
	Started          bool                 `json:"started"`
	Aborted          bool                 `json:"aborted"`
	ResyncMode       protocol.ResyncMode  `json:"resync_mode"`
	CurrentFrame     int32                `json:"current_frame"`
	PendingLossCount int32                `json:"pending_loss_count"`
	LossWindowCount  int                  `json:"loss_window_count"`
	LossWindowStart  *time.Time           `json:"loss_window_start,omitempty"`
	SlowSinkCount    int                  `json:"slow_sink_count"`
	QueuedLossEvents int                  `json:"queued_loss_events"`
	Resyncs          uint64               `json:"resyncs"`
	LastResync       *protocol.FrameRange `json:"last_resync,omitempty"`
}

func (s *Stream) Status() Status {
	frame, pending := s.counters.snapshot()
	esc := s.escalation.state()

	st := Status{
		SessionID:        s.id.String(),
		Addr:             s.Addr(),
		Aborted:          s.aborting.Load(),
		ResyncMode:       s.cfg.ResyncMode,
		CurrentFrame:     frame,
		PendingLossCount: pending,
		LossWindowCount:  esc.LossCount,
		SlowSinkCount:    esc.SlowSinkCount,
		QueuedLossEvents: s.queue.Len(),
		Resyncs:          s.resyncs.Load(),
	}
	if !esc.LossWindowStart.IsZero() {
		start := esc.LossWindowStart
		st.LossWindowStart = &start
	}
	if last := s.lastRange.Load(); last != nil {
		rng := *last
		st.LastResync = &rng
	}

	s.mu.Lock()
	if s.conn != nil {
		st.Initialized = true
		st.Remote = s.conn.RemoteAddr()
		select {
		case <-s.conn.Done():
		default:
			st.Connected = true
		}
	}
	st.Started = s.started && s.cancel != nil
	s.mu.Unlock()
	return st
}

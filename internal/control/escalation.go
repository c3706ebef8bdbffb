package control

import (
	"sync"
	"time"

	"github.com/danmuck/streamctl/internal/protocol/session"
)

// escalation decides when degraded-network signals warrant an advisory.
// Firing pushes the counter to -threshold*delayFactor, so the next advisory
// needs threshold*(delayFactor+1) further events.
type escalation struct {
	cfg session.EscalationConfig

	mu              sync.Mutex
	lossWindowStart time.Time
	lossCount       int
	slowSinkCount   int
}

type escalationState struct {
	LossWindowStart time.Time
	LossCount       int
	SlowSinkCount   int
}

func newEscalation(cfg session.EscalationConfig) *escalation {
	return &escalation{cfg: cfg}
}

// frameLoss records one loss event at now and reports whether to alert.
func (e *escalation) frameLoss(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lossWindowStart.IsZero() || now.After(e.lossWindowStart.Add(e.cfg.LossPeriod)) {
		// a cooling-down counter keeps counting up across windows
		if e.lossCount < 0 {
			e.lossCount++
		} else {
			e.lossCount = 1
		}
		e.lossWindowStart = now
	} else {
		e.lossCount++
	}

	if e.lossCount >= e.cfg.MaxLossCountInPeriod {
		e.lossCount = -e.cfg.MaxLossCountInPeriod * e.cfg.MessageDelayFactor
		e.lossWindowStart = time.Time{}
		return true
	}
	return false
}

// sinkTooSlow records one slow-sink event and reports whether to alert.
func (e *escalation) sinkTooSlow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.slowSinkCount++
	if e.slowSinkCount >= e.cfg.MaxSlowSinkCount {
		e.slowSinkCount = -e.cfg.MaxSlowSinkCount * e.cfg.MessageDelayFactor
		return true
	}
	return false
}

func (e *escalation) state() escalationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return escalationState{
		LossWindowStart: e.lossWindowStart,
		LossCount:       e.lossCount,
		SlowSinkCount:   e.slowSinkCount,
	}
}

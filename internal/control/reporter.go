package control

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/streamctl/internal/observability"
	"github.com/danmuck/streamctl/internal/protocol"
)

// lossReporter pushes loss stats on a fixed interval. No reply is awaited.
type lossReporter struct {
	conn     sender
	counters *counters
	interval time.Duration
}

func (r *lossReporter) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if err := r.report(); err != nil {
			return err
		}

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *lossReporter) report() error {
	lost, current := r.counters.takeReport()
	stats := protocol.LossStats{
		LossCount:    lost,
		IntervalMS:   uint32(r.interval.Milliseconds()),
		CurrentFrame: current,
	}
	if err := r.conn.Send(stats.Packet()); err != nil {
		return err
	}
	observability.RecordLossReport(lost)
	return nil
}

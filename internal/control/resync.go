package control

import (
	"context"
	"fmt"

	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// resyncCoordinator turns bursts of loss events into single resync requests.
type resyncCoordinator struct {
	conn    exchanger
	queue   *session.LossQueue
	mode    protocol.ResyncMode
	onRange func(protocol.FrameRange)
}

func (r *resyncCoordinator) run(ctx context.Context) error {
	for {
		first, err := r.queue.Take(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		rng := coalesce(first, r.queue)
		if r.onRange != nil {
			r.onRange(rng)
		}

		p, err := protocol.Resync(r.mode, rng)
		if err != nil {
			return err
		}
		log.Warn().Msgf("Invalidating reference frames from %d to %d", rng.Start, rng.End)
		reply, err := r.conn.Exchange(p)
		if err != nil {
			return err
		}
		logReply("resync", reply)
		log.Warn().Msg("Frames invalidated")
	}
}

// coalesce drains whatever is already queued behind first into one range.
// The host expects the range to start at the first good frame after the loss.
func coalesce(first session.LossEvent, q *session.LossQueue) protocol.FrameRange {
	rng := protocol.FrameRange{
		Start: first.FirstLostFrame + 1,
		End:   first.NextSuccessfulFrame,
	}
	for {
		ev, ok := q.TryPop()
		if !ok {
			return rng
		}
		rng.End = ev.NextSuccessfulFrame
	}
}

package control

import (
	"fmt"

	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

type sender interface {
	Send(p frame.Packet) error
}

type exchanger interface {
	Exchange(p frame.Packet) (frame.Packet, error)
}

// runHandshake performs Start-A then Start-B, each awaiting one reply.
func runHandshake(ex exchanger) error {
	steps := []frame.Packet{protocol.StartA(), protocol.StartB()}
	for _, p := range steps {
		name := protocol.TypeName(p.Type)
		reply, err := ex.Exchange(p)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrHandshakeFailed, name, err)
		}
		logReply(name, reply)
	}
	return nil
}

// logReply records the reply status; a non-zero status is informational only.
func logReply(step string, reply frame.Packet) {
	ev := log.Debug().Str("step", step).Uint16("reply_type", reply.Type).Int("reply_len", len(reply.Payload))
	if status, ok := protocol.ReplyStatus(reply); ok {
		ev = ev.Uint16("status", status)
	}
	ev.Msg("control reply")
}

package protocol

// Packet types and fixed payload lengths on the control channel.
const (
	TypeStartA = 0x140B
	LenStartA  = 1

	TypeStartB = 0x1410
	LenStartB  = 16

	TypeResync = 0x1404
	LenResync  = 24

	TypeLossStats = 0x140C
	LenLossStats  = 20

	// Frame stats are defined by the host but never sent by this client.
	TypeFrameStats = 0x1417
	LenFrameStats  = 64
)

// DefaultPort is the host's control-channel TCP port.
const DefaultPort = 47995

// LossStatsUnit is the constant third word of every loss stats payload.
const LossStatsUnit = 1000

// startBMode is the last word of the Start-B payload.
const startBMode = 0x0000000A

// ResyncMode selects what a resync request carries on the wire.
type ResyncMode string

const (
	// ResyncModeCompat sends the fixed 0, 0xFFFFF, 0 words existing hosts accept.
	ResyncModeCompat ResyncMode = "compat"
	// ResyncModeRange sends the computed first/next frame range.
	ResyncModeRange ResyncMode = "range"
)

const resyncCompatEnd = 0xFFFFF

// TypeName returns a short label for logs and metrics.
func TypeName(t uint16) string {
	switch t {
	case TypeStartA:
		return "start_a"
	case TypeStartB:
		return "start_b"
	case TypeResync:
		return "resync"
	case TypeLossStats:
		return "loss_stats"
	case TypeFrameStats:
		return "frame_stats"
	default:
		return "unknown"
	}
}

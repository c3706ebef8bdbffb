package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/danmuck/streamctl/internal/protocol/frame"
)

// StartA builds the first handshake packet.
func StartA() frame.Packet {
	return frame.Packet{Type: TypeStartA, Payload: []byte{0x00}}
}

// StartB builds the second handshake packet.
func StartB() frame.Packet {
	buf := make([]byte, LenStartB)
	binary.LittleEndian.PutUint32(buf[0:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint32(buf[8:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], startBMode)
	return frame.Packet{Type: TypeStartB, Payload: buf}
}

// LossStats is the periodic packet-loss telemetry report.
type LossStats struct {
	LossCount    int32
	IntervalMS   uint32
	CurrentFrame int32
}

// Packet encodes the report. CurrentFrame is sign-extended into the 64-bit word.
func (s LossStats) Packet() frame.Packet {
	buf := make([]byte, LenLossStats)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.LossCount))
	binary.LittleEndian.PutUint32(buf[4:8], s.IntervalMS)
	binary.LittleEndian.PutUint32(buf[8:12], LossStatsUnit)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(int64(s.CurrentFrame)))
	return frame.Packet{Type: TypeLossStats, Payload: buf}
}

// DecodeLossStats parses a loss stats payload.
func DecodeLossStats(p frame.Packet) (LossStats, error) {
	if p.Type != TypeLossStats {
		return LossStats{}, fmt.Errorf("%w: %#x", ErrUnexpectedType, p.Type)
	}
	if len(p.Payload) != LenLossStats {
		return LossStats{}, fmt.Errorf("%w: loss stats=%d", ErrInvalidLength, len(p.Payload))
	}
	return LossStats{
		LossCount:    int32(binary.LittleEndian.Uint32(p.Payload[0:4])),
		IntervalMS:   binary.LittleEndian.Uint32(p.Payload[4:8]),
		CurrentFrame: int32(int64(binary.LittleEndian.Uint64(p.Payload[12:20]))),
	}, nil
}

// FrameRange is the span a resync asks the host to recover from.
// Start is the first good frame after the loss, End the next successful frame.
type FrameRange struct {
	Start int32 `json:"start"`
	End   int32 `json:"end"`
}

func (r FrameRange) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// NormalizeResyncMode lowercases mode and maps empty to compat.
func NormalizeResyncMode(mode ResyncMode) ResyncMode {
	v := ResyncMode(strings.ToLower(strings.TrimSpace(string(mode))))
	if v == "" {
		return ResyncModeCompat
	}
	return v
}

// Resync builds a resync request for r under mode.
func Resync(mode ResyncMode, r FrameRange) (frame.Packet, error) {
	var words [3]uint64
	switch NormalizeResyncMode(mode) {
	case ResyncModeCompat:
		words = [3]uint64{0, resyncCompatEnd, 0}
	case ResyncModeRange:
		words = [3]uint64{uint64(int64(r.Start)), uint64(int64(r.End)), 0}
	default:
		return frame.Packet{}, fmt.Errorf("%w: %q", ErrInvalidResyncMode, mode)
	}
	buf := make([]byte, LenResync)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:(i+1)*8], w)
	}
	return frame.Packet{Type: TypeResync, Payload: buf}, nil
}

// DecodeResync returns the three words of a resync payload.
func DecodeResync(p frame.Packet) ([3]uint64, error) {
	var words [3]uint64
	if p.Type != TypeResync {
		return words, fmt.Errorf("%w: %#x", ErrUnexpectedType, p.Type)
	}
	if len(p.Payload) != LenResync {
		return words, fmt.Errorf("%w: resync=%d", ErrInvalidLength, len(p.Payload))
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(p.Payload[i*8 : (i+1)*8])
	}
	return words, nil
}

// ReplyStatus reads the leading little-endian status word of a reply, if any.
func ReplyStatus(p frame.Packet) (uint16, bool) {
	if len(p.Payload) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(p.Payload[0:2]), true
}

// Reply builds a host reply of the given type carrying status.
func Reply(t uint16, status uint16) frame.Packet {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, status)
	return frame.Packet{Type: t, Payload: buf}
}

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the little-endian type/length header.
const HeaderLen = 4

var (
	ErrPrematureClose  = errors.New("frame: connection closed prematurely")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Packet is one control-channel message.
type Packet struct {
	Type    uint16
	Payload []byte
}

// Len returns the on-wire payload length.
func (p Packet) Len() uint16 {
	return uint16(len(p.Payload))
}

// Limits constrains decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint16
}

// DefaultLimits accepts any length the 16-bit header can express.
func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: ^uint16(0),
	}
}

// Encode returns header+payload in one buffer.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > int(^uint16(0)) {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Payload))
	}
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], p.Type)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(p.Payload)))
	copy(buf[HeaderLen:], p.Payload)
	return buf, nil
}

// WritePacket writes p with a single Write call.
func WritePacket(w io.Writer, p Packet, limits Limits) error {
	if len(p.Payload) > int(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	buf, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadPacket reads exactly one header and its declared payload.
func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	var header [HeaderLen]byte
	if err := readFull(r, header[:]); err != nil {
		return Packet{}, err
	}

	p := Packet{Type: binary.LittleEndian.Uint16(header[0:2])}
	length := binary.LittleEndian.Uint16(header[2:4])
	if length > limits.MaxPayloadBytes {
		return Packet{}, fmt.Errorf("%w: declared=%d max=%d", ErrPayloadTooLarge, length, limits.MaxPayloadBytes)
	}
	if length == 0 {
		return p, nil
	}

	p.Payload = make([]byte, length)
	if err := readFull(r, p.Payload); err != nil {
		return Packet{}, err
	}
	return p, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return ErrPrematureClose
		}
		return err
	}
	return nil
}

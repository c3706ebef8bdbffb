package protocol

import "errors"

var (
	ErrInvalidLength     = errors.New("protocol: invalid payload length")
	ErrUnexpectedType    = errors.New("protocol: unexpected packet type")
	ErrInvalidResyncMode = errors.New("protocol: invalid resync mode")
)

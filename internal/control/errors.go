package control

import "errors"

var (
	ErrHostRequired     = errors.New("control: host required")
	ErrListenerRequired = errors.New("control: listener required")
	ErrNotInitialized   = errors.New("control: stream not initialized")
	ErrAlreadyStarted   = errors.New("control: stream already started")
	ErrAborted          = errors.New("control: stream aborted")
	ErrHandshakeFailed  = errors.New("control: handshake failed")
	ErrInterrupted      = errors.New("control: worker interrupted")
)

// Package protocol owns the control-channel packet catalogue.
//
// Ownership boundary:
// - packet type and payload length constants
// - payload builders for handshake, loss stats and resync
// - reply status parsing
//
// Framing lives in protocol/frame; session tuning lives in protocol/session.
package protocol

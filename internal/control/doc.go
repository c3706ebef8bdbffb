// Package control owns the streaming-host control channel.
//
// Ownership boundary:
// - Start-A/Start-B handshake
// - periodic loss stats reporting
// - coalesced resync requests
// - advisory escalation for repeated loss and slow sinks
//
// Lifecycle order:
// - Initialize (dial) -> Start (handshake, then workers) -> Abort
//
// - no loss stats or resync traffic is written before the handshake completes.
//
// - worker failures are reported once through Listener.ConnectionTerminated;
// workers never abort the stream themselves.
package control

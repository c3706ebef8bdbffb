// Package session owns control-channel session tuning and worker primitives.
//
// Ownership boundary:
// - timeouts, report interval and escalation thresholds
// - connect retry backoff
// - the unbounded loss-event queue feeding the resync worker
package session

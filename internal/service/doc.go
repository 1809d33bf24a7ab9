// Package service runs tracker sessions for the command line.
//
// A Session wires a tracker.Tracker to the configured server (backend.Client),
// the record cache and the optional SQLite journal. A Supervisor then drives
// the session in one of two modes:
//
//	oneshot:  Init ──▶ Launch ──▶ Immediate ─────────────▶ outcome
//	                        └───▶ Deferred ──▶ Terminal() ──▶ outcome
//	                                      └──▶ Halted() ───▶ error
//
//	timer:    Init ──▶ gocron ──▶ Start() ──▶ Launch ──▶ ... until ctx is done
//
// A oneshot supervisor which finds a run already in progress follows it
// instead of launching another one.
package service

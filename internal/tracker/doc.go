// Package tracker follows a server side image verification run from the
// operator's side.
//
//	Launch ──start──▶ Completed ─────────────────────────┐
//	   │                                                 ▼
//	   └────────────▶ Deferred ──▶ Scheduler ──tick──▶ consume ──▶ log, sinks, journal
//	                                  ▲                  │
//	                                  └── active run ◀───┘
//
//	Prepare ──▶ match ──▶ resolve ──▶ folder summary ──▶ Upload ──▶ consume
//
// A Tracker is created once per session. It owns the run, the operator log
// (see logstream), the record cache (see resolve) and the polling timer.
// Status fetches never overlap: a tick that finds one in flight is skipped.
package tracker

package model

import "time"

// Payload is a validated job result as received from the server. Optional
// counters are patches: only the fields the server sent are set.
type Payload struct {
	Message    string
	Status     Status // explicit status, empty when absent
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
	Summary    SummaryPatch
	Meta       MetaPatch
	Records    []RecordVerificationResult
	Logs       []LogEntry
}

// ResolveStatus returns the explicit status, else failed when an error is
// reported, else completed when a finish time is reported, else processing.
func (p Payload) ResolveStatus() Status {
	switch {
	case p.Status != "":
		return p.Status
	case p.Error != "":
		return StatusFailed
	case !p.FinishedAt.IsZero():
		return StatusCompleted
	default:
		return StatusProcessing
	}
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a verification run.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a server supplied status. "running" is accepted as
// an alias of processing.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return StatusIdle, nil
	case "queued":
		return StatusQueued, nil
	case "processing", "running":
		return StatusProcessing, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further automatic transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the server is still working on the run.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusProcessing
}

// CanTransition reports whether the status may move from s to target.
// Status only moves forward; leaving a terminal state requires a new run.
func (s Status) CanTransition(target Status) bool {
	if s == target {
		return true
	}
	switch s {
	case StatusIdle:
		return target == StatusQueued || target == StatusProcessing || target.Terminal()
	case StatusQueued:
		return target == StatusProcessing || target.Terminal()
	case StatusProcessing:
		return target.Terminal()
	default:
		return false
	}
}

// Summary holds the counters of a verification run.
type Summary struct {
	Linked   int `json:"linked"`
	Already  int `json:"already"`
	Products int `json:"products"`
	Images   int `json:"images"`
}

// SummaryPatch is a partial summary: nil fields were not present in the payload.
type SummaryPatch struct {
	Linked   *int
	Already  *int
	Products *int
	Images   *int
}

// Apply overwrites only the fields present in p.
func (s Summary) Apply(p SummaryPatch) Summary {
	if p.Linked != nil {
		s.Linked = *p.Linked
	}
	if p.Already != nil {
		s.Already = *p.Already
	}
	if p.Products != nil {
		s.Products = *p.Products
	}
	if p.Images != nil {
		s.Images = *p.Images
	}
	return s
}

// Meta holds progress counters. They may lag behind Summary.
type Meta struct {
	TotalRecords     int `json:"totalRecords"`
	ProcessedRecords int `json:"processedRecords"`
}

type MetaPatch struct {
	TotalRecords     *int
	ProcessedRecords *int
}

func (m Meta) Apply(p MetaPatch) Meta {
	if p.TotalRecords != nil {
		m.TotalRecords = *p.TotalRecords
	}
	if p.ProcessedRecords != nil {
		m.ProcessedRecords = *p.ProcessedRecords
	}
	return m
}

// Ticket is what the server hands out when it accepts a run for background processing.
type Ticket struct {
	Message   string
	StartedAt time.Time
	Status    Status
}

// JobRun is the single active, or most recent, verification run.
type JobRun struct {
	ID         string
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    Summary
	Meta       Meta
	Records    []RecordVerificationResult
	Error      string
	// Ticket is set when the server deferred the run to the background.
	Ticket *Ticket
	// Launched is true for runs started by this process, false for runs
	// only observed through a status check.
	Launched bool
}

// Awaiting reports whether a deferred run has not reached a terminal state yet.
func (r JobRun) Awaiting() bool {
	return r.Ticket != nil && !r.Status.Terminal()
}

// Clone returns a copy which does not share the records slice.
func (r JobRun) Clone() JobRun {
	c := r
	if r.Records != nil {
		c.Records = make([]RecordVerificationResult, len(r.Records))
		for i, rec := range r.Records {
			c.Records[i] = rec.Clone()
		}
	}
	if r.Ticket != nil {
		t := *r.Ticket
		c.Ticket = &t
	}
	return c
}

// ProductCount is the summary value, or the number of records when the
// server did not report one.
func (r JobRun) ProductCount() int {
	if r.Summary.Products > 0 {
		return r.Summary.Products
	}
	return len(r.Records)
}

// ImageCount is the summary value, or the sum of record images.
func (r JobRun) ImageCount() int {
	if r.Summary.Images > 0 {
		return r.Summary.Images
	}
	var n int
	for _, rec := range r.Records {
		n += len(rec.Images)
	}
	return n
}

package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/vitrine-ops/imgsync/internal/match"
	"github.com/vitrine-ops/imgsync/internal/model"
)

// ConsoleSink receives the whole ordered log after every change.
type ConsoleSink interface {
	RenderLogs(entries []model.LogEntry)
}

type StatsSink interface {
	RenderStats(stats Stats)
}

type RecordSink interface {
	RenderRecords(records []model.RecordVerificationResult)
}

// FolderSink receives the summary of a selected folder before upload.
type FolderSink interface {
	RenderFolders(summary match.Summary)
}

// Sinks are write only presentation targets. Nil members are skipped.
type Sinks struct {
	Console ConsoleSink
	Stats   StatsSink
	Records RecordSink
	Folders FolderSink
}

// Stats is the counter view of a run.
type Stats struct {
	Status     model.Status
	Summary    model.Summary
	Meta       model.Meta
	Products   int
	Images     int
	Awaiting   bool
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

func statsOf(run model.JobRun) Stats {
	return Stats{
		Status:     run.Status,
		Summary:    run.Summary,
		Meta:       run.Meta,
		Products:   run.ProductCount(),
		Images:     run.ImageCount(),
		Awaiting:   run.Awaiting(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Error:      run.Error,
	}
}

// ProductsText renders the product counter, with progress while a run is
// being followed: "4 (2/10)".
func (s Stats) ProductsText() string {
	total := s.Meta.TotalRecords
	processed := s.Meta.ProcessedRecords
	if total > 0 && (s.Awaiting || processed > 0) {
		return fmt.Sprintf("%d (%d/%d)", s.Products, processed, total)
	}
	return fmt.Sprintf("%d", s.Products)
}

// Journal records launched runs and their first terminal outcome.
type Journal interface {
	Start(ctx context.Context, id string, at time.Time) error
	FinishOK(ctx context.Context, id string, at time.Time, summary model.Summary) error
	FinishErr(ctx context.Context, id string, at time.Time, reason string) error
}

type nopJournal struct{}

func (nopJournal) Start(context.Context, string, time.Time) error { return nil }

func (nopJournal) FinishOK(context.Context, string, time.Time, model.Summary) error { return nil }

func (nopJournal) FinishErr(context.Context, string, time.Time, string) error { return nil }

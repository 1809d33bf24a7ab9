package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/model"
)

// LaunchResult is either Immediate or Deferred.
type LaunchResult interface {
	launchResult()
}

// Immediate is a run the server finished within the start request: its
// status is terminal and polling never starts for it.
type Immediate struct {
	Run model.JobRun
}

// Deferred is a run accepted for background processing, or answered while
// still in progress. Polling is active when Launch returns it unless the
// first status check already saw it finish.
type Deferred struct {
	RunID  string
	Ticket model.Ticket
}

func (Immediate) launchResult() {}
func (Deferred) launchResult()  {}

// Launch starts a verification run. A launch while another one is in
// progress is rejected with model.ErrJobInProgress, it is not queued. Every
// failure appends exactly one error entry to the log and leaves the current
// run untouched.
func (t *Tracker) Launch(ctx context.Context) (LaunchResult, error) {
	t.mx.Lock()
	if t.processingLocked() || t.uploading.Load() {
		t.mx.Unlock()
		t.logs.Append(msgBusy, model.SeverityWarning)
		return nil, model.ErrJobInProgress
	}
	t.launching = true
	t.mx.Unlock()
	defer func() {
		t.mx.Lock()
		t.launching = false
		t.mx.Unlock()
	}()

	t.logs.Append(msgSending, model.SeverityInfo)
	out, err := t.backend.Start(ctx)
	if err != nil {
		t.logs.Append(backend.Describe(err), model.SeverityError)
		t.journalRejected(ctx, backend.Describe(err))
		slog.ErrorContext(ctx, "launch failed", slog.String("err", err.Error()))
		return nil, err
	}
	return t.accept(ctx, out, sourceLaunch)
}

// accept turns the outcome of a start or upload request into a new run.
func (t *Tracker) accept(ctx context.Context, out backend.Outcome, src source) (LaunchResult, error) {
	switch o := out.(type) {
	case backend.Rejected:
		t.logs.Append(o.Message, model.SeverityError)
		t.journalRejected(ctx, o.Message)
		return nil, o.Err(src.String())

	case backend.Completed:
		t.mx.Lock()
		id := t.beginLocked()
		startedAt := t.run.StartedAt
		t.mx.Unlock()
		t.journalStart(ctx, id, startedAt)
		run := t.consume(ctx, o.Payload, src)
		if run.Status.Terminal() {
			slog.InfoContext(ctx, "run finished immediately", slog.String("run", id), slog.String("source", src.String()))
			return Immediate{Run: run}, nil
		}
		// answered before the run finished: it is followed like an accepted one
		ticket := model.Ticket{Message: o.Payload.Message, StartedAt: run.StartedAt, Status: run.Status}
		t.mx.Lock()
		if t.run.ID == id && !t.run.Status.Terminal() && t.run.Ticket == nil {
			t.run.Ticket = &ticket
		}
		t.mx.Unlock()
		t.startPolling()
		slog.InfoContext(ctx, "run still in progress", slog.String("run", id), slog.String("status", run.Status.String()))
		return Deferred{RunID: id, Ticket: ticket}, nil

	case backend.Deferred:
		t.mx.Lock()
		id := t.beginLocked()
		ticket := o.Ticket
		t.run.Ticket = &ticket
		if !ticket.StartedAt.IsZero() {
			t.run.StartedAt = ticket.StartedAt
		}
		// the outcome of a deferred run is only learned by polling
		t.run.Status = model.StatusQueued
		if ticket.Status.Active() {
			t.run.Status = ticket.Status
		}
		run := t.run.Clone()
		t.mx.Unlock()

		t.journalStart(ctx, id, run.StartedAt)
		msg := ticket.Message
		if msg == "" {
			msg = msgDeferred
		}
		t.logs.Append(msg, model.SeverityInfo)
		t.startPolling()
		t.publish(run)
		slog.InfoContext(ctx, "run deferred", slog.String("run", id), slog.String("status", run.Status.String()))

		// one check right away, the first tick is a whole interval later
		if err := t.fetchStatus(ctx, sourceAccepted); err != nil {
			slog.DebugContext(ctx, "status check after accept failed", slog.String("err", err.Error()))
		}
		return Deferred{RunID: id, Ticket: ticket}, nil

	default:
		return nil, fmt.Errorf("unexpected outcome %T", out)
	}
}

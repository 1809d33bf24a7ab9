package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/logstream"
	"github.com/vitrine-ops/imgsync/internal/model"
)

// Tick performs one status fetch for the polling timer. It reports false
// when the fetch was skipped because another one is still in flight.
func (t *Tracker) Tick(ctx context.Context) bool {
	err := t.fetchStatus(ctx, sourcePoll)
	return err != model.ErrStatusInFlight
}

// Check is a status fetch requested by the operator. Unlike polling it
// reports a missing history and returns model.ErrStatusInFlight instead of
// skipping silently.
func (t *Tracker) Check(ctx context.Context) error {
	return t.fetchStatus(ctx, sourceCheck)
}

func (t *Tracker) fetchStatus(ctx context.Context, src source) error {
	if !t.loading.CompareAndSwap(false, true) {
		slog.DebugContext(ctx, "status fetch skipped", slog.String("source", src.String()))
		return model.ErrStatusInFlight
	}
	defer t.loading.Store(false)

	out, err := t.backend.Status(ctx)
	if err != nil {
		if backend.IsAuth(err) {
			t.logs.Append(fmt.Sprintf(msgCredentialLost, backend.Describe(err)), model.SeverityWarning)
			if t.sched.Running() {
				t.stopPolling()
				t.signalHalted(err)
			}
			return err
		}
		// transient: polling goes on
		t.logs.Append(fmt.Sprintf(msgStatusFailed, backend.Describe(err)), model.SeverityWarning)
		slog.WarnContext(ctx, "status fetch failed", slog.String("source", src.String()), slog.String("err", err.Error()))
		return err
	}

	switch o := out.(type) {
	case backend.Completed:
		t.consume(ctx, o.Payload, src)
		return nil
	case backend.Deferred:
		t.follow(o.Ticket)
		return nil
	case backend.Rejected:
		if o.NotFound() {
			return t.noHistory(src, o)
		}
		t.logs.Append(fmt.Sprintf(msgStatusFailed, o.Message), model.SeverityWarning)
		return o.Err("status")
	default:
		return fmt.Errorf("unexpected outcome %T", out)
	}
}

// noHistory handles a status 404. An idle run loses its stale counters;
// a followed run keeps polling, the server may not have published it yet.
func (t *Tracker) noHistory(src source, o backend.Rejected) error {
	t.mx.Lock()
	following := t.processingLocked()
	if !following {
		t.run.Summary = model.Summary{}
		t.run.Meta = model.Meta{}
		t.run.Records = nil
	}
	run := t.run.Clone()
	t.mx.Unlock()

	switch {
	case following && src == sourceAccepted:
		// the server may not have published the run yet
		return nil
	case following:
		t.logs.Append(fmt.Sprintf(msgStatusFailed, o.Message), model.SeverityWarning)
		return o.Err("status")
	case src == sourceCheck:
		t.logs.Append(msgNoHistory, model.SeverityWarning)
	}
	t.publish(run)
	return nil
}

// follow adopts a run the server reports as accepted but not started.
func (t *Tracker) follow(ticket model.Ticket) {
	t.mx.Lock()
	status := model.StatusQueued
	if ticket.Status.Active() {
		status = ticket.Status
	}
	if t.run.Status.CanTransition(status) {
		t.run.Status = status
		if t.run.Ticket == nil {
			t.run.Ticket = &ticket
		}
	}
	following := t.processingLocked()
	run := t.run.Clone()
	t.mx.Unlock()

	if following {
		t.startPolling()
	}
	t.publish(run)
}

// consume applies a result payload to the run:
//
//  1. server log entries are appended, each id at most once
//  2. summary and meta fields present in the payload overwrite the run's
//  3. records are replaced wholesale
//  4. the status is resolved and applied if it moves forward
//  5. polling continues while the run is active or awaited, else it stops
//  6. the first transition into a terminal state is announced once
func (t *Tracker) consume(ctx context.Context, p model.Payload, src source) model.JobRun {
	for _, e := range p.Logs {
		t.logs.Append(e.Message, e.Severity,
			logstream.WithID(e.ID),
			logstream.WithTimestamp(e.Timestamp),
			logstream.FromServer(),
			logstream.SkipDuplicates())
	}

	t.mx.Lock()
	prev := t.run.Status
	wasAwaiting := t.run.Awaiting()

	t.run.Summary = t.run.Summary.Apply(p.Summary)
	t.run.Meta = t.run.Meta.Apply(p.Meta)
	t.run.Records = p.Records
	if !p.StartedAt.IsZero() {
		t.run.StartedAt = p.StartedAt
	}
	if !p.FinishedAt.IsZero() {
		t.run.FinishedAt = p.FinishedAt
	}
	if p.Error != "" {
		t.run.Error = p.Error
	}

	next := p.ResolveStatus()
	if prev.CanTransition(next) {
		t.run.Status = next
	} else {
		slog.DebugContext(ctx, "status regression ignored",
			slog.String("from", prev.String()),
			slog.String("to", next.String()),
			slog.String("source", src.String()))
	}

	firstTerminal := !prev.Terminal() && t.run.Status.Terminal()
	if t.run.Status.Terminal() {
		t.run.Ticket = nil
	}
	keepPolling := t.run.Status.Active() || t.run.Awaiting()
	run := t.run.Clone()
	t.mx.Unlock()

	if keepPolling {
		t.startPolling()
	} else {
		t.stopPolling()
	}
	t.publish(run)

	if !firstTerminal {
		return run
	}
	announce := src != sourceInit || wasAwaiting
	var reason string
	if run.Status == model.StatusCompleted {
		if announce {
			t.logs.Append(fmt.Sprintf(msgFinished, run.Summary.Linked, run.Summary.Already), model.SeveritySuccess)
		}
	} else {
		reason = failureText(run, p.Message)
		if announce {
			t.logs.Append(reason, model.SeverityError)
		}
	}
	slog.InfoContext(ctx, "run reached terminal state",
		slog.String("run", run.ID),
		slog.String("status", run.Status.String()),
		slog.String("source", src.String()))
	if run.Launched {
		t.journalFinish(ctx, run, reason)
	}
	t.signalTerminal(run)
	return run
}

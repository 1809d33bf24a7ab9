package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/logstream"
	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/resolve"

	"github.com/google/uuid"
)

const (
	msgReady          = "Ready to start verification."
	msgSending        = "Sending verification request..."
	msgDeferred       = "Verification started. Follow the progress in the console."
	msgBusy           = "A verification is already running. Wait for it to finish before starting another one."
	msgFinished       = "Verification finished. %d image(s) linked and %d already linked."
	msgFailed         = "Image verification finished with an error."
	msgNoHistory      = "No verification history was found."
	msgUploadBusy     = "An upload is already running. Wait for it to finish."
	msgNothingToLoad  = "No recognized file matches a known product."
	msgUploading      = "Uploading %d image(s)..."
	msgPrepared       = "%d file(s) recognized, %d ignored, %d product(s) found."
	msgLookupFailed   = "Lookup of %s failed: %s"
	msgStatusFailed   = "Could not read the verification status: %s"
	msgCredentialLost = "Not authenticated: %s"
)

// Backend is the server side of a tracker session.
type Backend interface {
	Start(ctx context.Context) (backend.Outcome, error)
	Status(ctx context.Context) (backend.Outcome, error)
	Upload(ctx context.Context, files []model.MatchedFile) (backend.Outcome, error)
	LookupRecord(ctx context.Context, key string) (model.ResolvedRecord, error)
}

type source int

const (
	sourceLaunch source = iota
	sourcePoll
	sourceCheck
	sourceInit
	sourceUpload
	sourceAccepted // the status check right after a deferred launch
)

func (s source) String() string {
	switch s {
	case sourceLaunch:
		return "launch"
	case sourcePoll:
		return "poll"
	case sourceCheck:
		return "check"
	case sourceInit:
		return "init"
	case sourceUpload:
		return "upload"
	case sourceAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

type Option func(*Tracker)

// WithInterval sets the polling interval, model.DefaultPollInterval by default.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithLogStream(s *logstream.Stream) Option {
	return func(t *Tracker) {
		t.logs = s
	}
}

func WithSinks(s Sinks) Option {
	return func(t *Tracker) {
		t.sinks = s
	}
}

func WithJournal(j Journal) Option {
	return func(t *Tracker) {
		if j != nil {
			t.journal = j
		}
	}
}

// WithResolver replaces the record cache, which by default looks records
// up through the backend without rate limit.
func WithResolver(c *resolve.Cache) Option {
	return func(t *Tracker) {
		t.resolver = c
	}
}

func withClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker is one operator session: the current run, its log, the record
// cache and the polling timer. All mutation of the run goes through
// Launch, Upload and the status reconciliation.
type Tracker struct {
	backend  Backend
	logs     *logstream.Stream
	resolver *resolve.Cache
	sinks    Sinks
	journal  Journal
	interval time.Duration
	sched    *Scheduler
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mx        sync.Mutex
	run       model.JobRun
	launching bool

	loading   atomic.Bool
	uploading atomic.Bool

	terminal chan model.JobRun
	halted   chan error
}

// New returns a tracker bound to ctx. The polling timer stops when ctx is
// done or Close is called.
func New(ctx context.Context, b Backend, opts ...Option) *Tracker {
	t := &Tracker{
		backend:  b,
		journal:  nopJournal{},
		interval: model.DefaultPollInterval,
		now:      time.Now,
		run:      model.JobRun{Status: model.StatusIdle},
		terminal: make(chan model.JobRun, 1),
		halted:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logs == nil {
		t.logs = logstream.New(logstream.DefaultMax)
	}
	if t.resolver == nil {
		t.resolver = resolve.New(b)
	}
	if t.sinks.Console != nil {
		console := t.sinks.Console
		t.logs.OnChange(console.RenderLogs)
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.sched = NewScheduler(t.interval, func(ctx context.Context) {
		t.Tick(ctx)
	})
	return t
}

// Init announces the session and performs the one silent status check, so
// a run already in progress is picked up without announcing an old one.
func (t *Tracker) Init(ctx context.Context) error {
	t.logs.Append(msgReady, model.SeverityInfo)
	return t.fetchStatus(ctx, sourceInit)
}

// Run returns a copy of the current run.
func (t *Tracker) Run() model.JobRun {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.run.Clone()
}

func (t *Tracker) Stats() Stats {
	return statsOf(t.Run())
}

// Logs returns the ordered operator log.
func (t *Tracker) Logs() []model.LogEntry {
	return t.logs.Entries()
}

// ClearLogs empties the operator log.
func (t *Tracker) ClearLogs() {
	t.logs.Clear()
}

// Processing reports whether a launch, an upload or a server run is in progress.
func (t *Tracker) Processing() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.processingLocked() || t.uploading.Load()
}

func (t *Tracker) processingLocked() bool {
	return t.launching || t.run.Status.Active() || t.run.Awaiting()
}

// Polling reports whether the polling timer is active.
func (t *Tracker) Polling() bool {
	return t.sched.Running()
}

// Resolver is the session's record cache.
func (t *Tracker) Resolver() *resolve.Cache {
	return t.resolver
}

// Terminal delivers a run when it first reaches completed or failed. Only
// the latest undelivered run is kept.
func (t *Tracker) Terminal() <-chan model.JobRun {
	return t.terminal
}

// Halted delivers the error which stopped polling because the credential
// went missing or expired.
func (t *Tracker) Halted() <-chan error {
	return t.halted
}

// Close stops polling and waits for the timer goroutine.
func (t *Tracker) Close() {
	t.cancel()
	t.sched.Stop()
	t.sched.Wait()
}

// beginLocked replaces the run with a fresh launched one. Caller holds mx.
func (t *Tracker) beginLocked() string {
	t.run = model.JobRun{
		ID:        uuid.NewString(),
		Status:    model.StatusIdle,
		StartedAt: t.now(),
		Launched:  true,
	}
	return t.run.ID
}

// startPolling is a no-op once the tracker is closed.
func (t *Tracker) startPolling() {
	if t.ctx.Err() != nil {
		return
	}
	if t.sched.Start(t.ctx) {
		slog.DebugContext(t.ctx, "polling started", slog.Duration("interval", t.interval))
	}
}

func (t *Tracker) stopPolling() {
	if t.sched.Running() {
		t.sched.Stop()
		slog.DebugContext(t.ctx, "polling stopped")
	}
}

func (t *Tracker) publish(run model.JobRun) {
	if t.sinks.Stats != nil {
		t.sinks.Stats.RenderStats(statsOf(run))
	}
	if t.sinks.Records != nil {
		t.sinks.Records.RenderRecords(run.Records)
	}
}

func (t *Tracker) signalTerminal(run model.JobRun) {
	select {
	case <-t.terminal:
	default:
	}
	select {
	case t.terminal <- run:
	default:
	}
}

func (t *Tracker) signalHalted(err error) {
	select {
	case t.halted <- err:
	default:
	}
}

func (t *Tracker) journalStart(ctx context.Context, id string, at time.Time) {
	if err := t.journal.Start(ctx, id, at); err != nil {
		slog.WarnContext(ctx, "journal start failed", slog.String("run", id), slog.String("err", err.Error()))
	}
}

func (t *Tracker) journalFinish(ctx context.Context, run model.JobRun, reason string) {
	at := run.FinishedAt
	if at.IsZero() {
		at = t.now()
	}
	var err error
	if run.Status == model.StatusCompleted {
		err = t.journal.FinishOK(ctx, run.ID, at, run.Summary)
	} else {
		err = t.journal.FinishErr(ctx, run.ID, at, reason)
	}
	if err != nil {
		slog.WarnContext(ctx, "journal finish failed", slog.String("run", run.ID), slog.String("err", err.Error()))
	}
}

// journalRejected records a launch which never got a run on the server.
func (t *Tracker) journalRejected(ctx context.Context, reason string) {
	id := uuid.NewString()
	now := t.now()
	t.journalStart(ctx, id, now)
	if err := t.journal.FinishErr(ctx, id, now, reason); err != nil {
		slog.WarnContext(ctx, "journal finish failed", slog.String("run", id), slog.String("err", err.Error()))
	}
}

func failureText(run model.JobRun, message string) string {
	switch {
	case run.Error != "":
		return run.Error
	case message != "":
		return message
	default:
		return msgFailed
	}
}

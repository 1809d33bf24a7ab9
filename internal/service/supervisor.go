package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/tracker"

	gocron "github.com/go-co-op/gocron/v2"
)

// ErrRunFailed is returned by a oneshot supervisor whose run ended failed.
var ErrRunFailed = errors.New("verification failed")

type Mode int

const (
	// ModeOneshot launches one run and returns once it is terminal.
	ModeOneshot Mode = iota
	// ModeTimer launches a run on every schedule activation until cancelled.
	ModeTimer
)

type Supervisor struct {
	tracker   *tracker.Tracker
	oneshot   bool
	scheduler gocron.Scheduler
	start     chan struct{}
}

// NewSupervisor drives tr. Timer mode requires a schedule.
func NewSupervisor(ctx context.Context, tr *tracker.Tracker, mode Mode, schedule *model.Schedule) (*Supervisor, error) {
	var supervisor = &Supervisor{
		tracker: tr,
		oneshot: mode == ModeOneshot,
		start:   make(chan struct{}, 1),
	}
	if mode == ModeTimer {
		scheduler, err := newScheduler(ctx, schedule, supervisor.Start)
		if err != nil {
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
		supervisor.scheduler = scheduler
	}
	return supervisor, nil
}

// Start asks for a launch. It never blocks: a request made while another
// one is pending is dropped.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// Do runs the supervisor event loop.
//
// Oneshot: the tracker is initialized, a run is launched (or the run found
// in progress is adopted) and Do returns when it is terminal. The error is
// nil for a completed run, wraps ErrRunFailed for a failed one and is the
// launch error or the credential error which halted polling otherwise.
//
// Timer: the tracker is initialized and the scheduler started. Launch
// errors are only logged; Do returns nil once ctx is cancelled.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", slog.Bool("oneshot", s.oneshot))
	if err := s.tracker.Init(ctx); err != nil {
		slog.DebugContext(ctx, "initial status check failed", slog.String("err", err.Error()))
	}
	if s.oneshot {
		return s.oneshotRun(ctx)
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", slog.String("err", err.Error()))
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
			_, err := s.tracker.Launch(ctx)
			switch {
			case errors.Is(err, model.ErrJobInProgress):
				slog.InfoContext(ctx, "launch skipped: a run is in progress")
			case err != nil:
				slog.ErrorContext(ctx, "launch failed", slog.String("err", err.Error()))
			}
		case run := <-s.tracker.Terminal():
			slog.InfoContext(ctx, "run finished", slog.String("run", run.ID), slog.String("status", run.Status.String()))
		case err := <-s.tracker.Halted():
			slog.ErrorContext(ctx, "polling halted", slog.String("err", err.Error()))
		}
	}
}

func (s *Supervisor) oneshotRun(ctx context.Context) error {
	// a run in progress on the server is awaited instead of rejected
	if s.tracker.Processing() {
		run := s.tracker.Run()
		slog.InfoContext(ctx, "following the run in progress", slog.String("status", run.Status.String()))
		return s.await(ctx, run.ID)
	}

	res, err := s.tracker.Launch(ctx)
	if err != nil {
		return err
	}
	return s.result(ctx, res)
}

// Upload matches files against the catalog, uploads those whose key
// resolved and waits for the resulting run like a oneshot launch.
func (s *Supervisor) Upload(ctx context.Context, files []model.FileHandle) error {
	if err := s.tracker.Init(ctx); err != nil {
		slog.DebugContext(ctx, "initial status check failed", slog.String("err", err.Error()))
	}
	batch := s.tracker.Prepare(ctx, files)
	res, err := s.tracker.Upload(ctx, batch)
	if err != nil {
		return err
	}
	return s.result(ctx, res)
}

func (s *Supervisor) result(ctx context.Context, res tracker.LaunchResult) error {
	switch r := res.(type) {
	case tracker.Immediate:
		return outcome(r.Run)
	case tracker.Deferred:
		return s.await(ctx, r.RunID)
	default:
		return fmt.Errorf("unexpected launch result %T", res)
	}
}

func (s *Supervisor) await(ctx context.Context, id string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.tracker.Halted():
			return err
		case run := <-s.tracker.Terminal():
			if run.ID != id {
				slog.DebugContext(ctx, "ignoring terminal run", slog.String("run", run.ID))
				continue
			}
			return outcome(run)
		}
	}
}

func outcome(run model.JobRun) error {
	if run.Status == model.StatusFailed {
		if run.Error != "" {
			return fmt.Errorf("%w: %s", ErrRunFailed, run.Error)
		}
		return ErrRunFailed
	}
	return nil
}

func newScheduler(ctx context.Context, cfgp *model.Schedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, errors.New("schedule is nil")
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		_, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", slog.String("cron", cfg.Cron))
	case cfg.Duration != "":
		d, err := model.ParseInterval(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule.duration: %w", err)
		}
		slog.DebugContext(ctx, "successfully parsed", slog.String("duration", d.String()))
		job = gocron.DurationJob(d)
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/vitrine-ops/imgsync/internal/dropdir"
	"github.com/vitrine-ops/imgsync/internal/log"
	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/render"
	"github.com/vitrine-ops/imgsync/internal/service"
	"github.com/vitrine-ops/imgsync/internal/store"
	"github.com/vitrine-ops/imgsync/internal/tracker"
	"github.com/vitrine-ops/imgsync/internal/walk"

	"github.com/spf13/cobra"
)

var (
	flagFilter render.Filter
	flagMirror bool
	flagWatch  bool
	flagLimit  int
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "start a verification run and wait for its outcome",
	Args:  cobra.NoArgs,
	RunE:  doVerify,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the state of the latest verification run",
	Args:  cobra.NoArgs,
	RunE:  doStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "start verification runs on the configured schedule",
	Args:  cobra.NoArgs,
	RunE:  doWatch,
}

var uploadCmd = &cobra.Command{
	Use:   "upload DIR",
	Short: "upload the images of DIR named <key>-<sequence>.<ext>",
	Args:  cobra.ExactArgs(1),
	RunE:  doUpload,
}

var matchCmd = &cobra.Command{
	Use:   "match DIR",
	Short: "show which images of DIR match a catalog record, without uploading",
	Args:  cobra.ExactArgs(1),
	RunE:  doMatch,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list the journaled verification runs",
	Args:  cobra.NoArgs,
	RunE:  doHistory,
}

// commandContext adds the log attributes of cmd and cancels on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	attrs := slog.Group("imgsync",
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newSession(ctx context.Context, cmd *cobra.Command, sinks tracker.Sinks) (*service.Session, error) {
	out := cmd.OutOrStdout()
	if sinks.Console == nil {
		sinks.Console = render.NewConsole(out)
	}
	if sinks.Stats == nil {
		sinks.Stats = render.NewStats(out)
	}
	return service.NewSession(ctx, config, sinks)
}

func closeSession(ctx context.Context, s *service.Session) {
	if err := s.Close(); err != nil {
		slog.WarnContext(ctx, "closing session failed", slog.String("err", err.Error()))
	}
}

func doVerify(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	session, err := newSession(ctx, cmd, tracker.Sinks{})
	if err != nil {
		return err
	}
	defer closeSession(ctx, session)

	supervisor, err := service.NewSupervisor(ctx, session.Tracker, service.ModeOneshot, nil)
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

func doStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	opts := []render.RecordsOption{render.WithFilter(flagFilter)}
	if flagMirror {
		opts = append(opts, render.WithMirror())
	}
	session, err := newSession(ctx, cmd, tracker.Sinks{
		Records: render.NewRecords(cmd.OutOrStdout(), opts...),
	})
	if err != nil {
		return err
	}
	defer closeSession(ctx, session)

	// a missing history is reported on the console, it is not an error
	return session.Tracker.Check(ctx)
}

func doWatch(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if config.Schedule == nil {
		return errors.New("watch needs a schedule: set schedule.cron or schedule.duration")
	}
	session, err := newSession(ctx, cmd, tracker.Sinks{})
	if err != nil {
		return err
	}
	defer closeSession(ctx, session)

	supervisor, err := service.NewSupervisor(ctx, session.Tracker, service.ModeTimer, config.Schedule)
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

// selectFiles lists the accepted images of dir. The caller closes the root.
func selectFiles(ctx context.Context, dir string) (*os.Root, []model.FileHandle, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, nil, err
	}
	entries, err := walk.Files(ctx, root, config.Extensions())
	if err != nil {
		slog.WarnContext(ctx, "some files could not be listed", slog.String("err", err.Error()))
	}
	files := make([]model.FileHandle, len(entries))
	for i, e := range entries {
		files[i] = e
	}
	return root, files, nil
}

func doUpload(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	root, files, err := selectFiles(ctx, args[0])
	if err != nil {
		return err
	}
	defer root.Close()

	session, err := newSession(ctx, cmd, tracker.Sinks{
		Folders: render.NewFolders(cmd.OutOrStdout()),
	})
	if err != nil {
		return err
	}
	defer closeSession(ctx, session)

	supervisor, err := service.NewSupervisor(ctx, session.Tracker, service.ModeOneshot, nil)
	if err != nil {
		return err
	}
	return supervisor.Upload(ctx, files)
}

func doMatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	dir := args[0]

	session, err := newSession(ctx, cmd, tracker.Sinks{
		Folders: render.NewFolders(cmd.OutOrStdout()),
	})
	if err != nil {
		return err
	}
	defer closeSession(ctx, session)

	prepare := func(ctx context.Context) error {
		root, files, err := selectFiles(ctx, dir)
		if err != nil {
			return err
		}
		defer root.Close()
		session.Tracker.Prepare(ctx, files)
		return nil
	}
	if err := prepare(ctx); err != nil {
		return err
	}
	if !flagWatch {
		return nil
	}
	return dropdir.Watch(ctx, dir, dropdir.DefaultDebounce, func(ctx context.Context) {
		if err := prepare(ctx); err != nil {
			slog.ErrorContext(ctx, "matching failed", slog.String("err", err.Error()))
		}
	})
}

func doHistory(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	path := config.JournalPath()
	if path == "" {
		return errors.New("the journal is disabled: set journal.path")
	}
	j, err := service.OpenJournal(ctx, path)
	if err != nil {
		return err
	}
	defer j.Close()

	rows, err := j.List(ctx, flagLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tFINISHED\tRESULT\tLINKED\tALREADY\tREASON")
	for _, r := range rows {
		fmt.Fprintln(tw, historyLine(r))
	}
	return tw.Flush()
}

func historyLine(r store.RunRow) string {
	finished, result := "-", "in progress"
	if r.FinishedAt != nil {
		finished = r.FinishedAt.Format(time.DateTime)
	}
	if r.Success != nil {
		result = "failed"
		if *r.Success {
			result = "ok"
		}
	}
	var linked, already, reason = "-", "-", ""
	if r.Summary != nil {
		linked = fmt.Sprint(r.Summary.Linked)
		already = fmt.Sprint(r.Summary.Already)
	}
	if r.FailureReason != nil {
		reason = *r.FailureReason
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\t%s",
		r.UUID, r.StartedAt.Format(time.DateTime), finished, result, linked, already, reason)
}

// Package store keeps the local history of verification runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vitrine-ops/imgsync/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Run is one journaled verification run.
type Run struct {
	UUID          string
	InProgress    bool
	Success       *bool
	StartedAt     time.Time
	FinishedAt    *time.Time
	Summary       *model.Summary
	FailureReason *string
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, in_progress: %t", r.UUID, r.InProgress)
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	if r.Summary != nil {
		fmt.Fprintf(&sb, ", linked: %d, already: %d", r.Summary.Linked, r.Summary.Already)
	}
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	}
	return sb.String()
}

// Journal implements tracker.Journal on top of a SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER DEFAULT NULL,
			linked INTEGER DEFAULT NULL,
			already INTEGER DEFAULT NULL,
			products INTEGER DEFAULT NULL,
			images INTEGER DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating runs table: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
	}
}

// Start records that run uuid is in progress. Starting a run which is still
// in progress is a no-op; starting a finished one returns ErrAlreadyFinished.
func (j *Journal) Start(ctx context.Context, uuid string, at time.Time) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil:
		return ErrAlreadyFinished
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, in_progress, started_at) VALUES (?,?,?);`, uuid, true, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// FinishOK marks run uuid as successfully finished with its summary.
func (j *Journal) FinishOK(ctx context.Context, uuid string, at time.Time, s model.Summary) error {
	return j.finish(ctx, uuid,
		`UPDATE runs
		 SET
			in_progress = false,
			success = true,
			finished_at = ?,
			linked = ?,
			already = ?,
			products = ?,
			images = ?
		WHERE uuid = ?;`,
		at.UnixMilli(), s.Linked, s.Already, s.Products, s.Images, uuid,
	)
}

// FinishErr marks run uuid as failed with reason.
func (j *Journal) FinishErr(ctx context.Context, uuid string, at time.Time, reason string) error {
	return j.finish(ctx, uuid,
		`UPDATE runs
		 SET
			in_progress = false,
			success = false,
			finished_at = ?,
			failure_reason = ?
		WHERE uuid = ?;`,
		at.UnixMilli(), reason, uuid,
	)
}

func (j *Journal) finish(ctx context.Context, uuid, update string, args ...any) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case !inProgress:
		return ErrAlreadyFinished
	}

	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const selectRun = `SELECT id, uuid, in_progress, success, started_at, finished_at,
	linked, already, products, images, failure_reason FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (RunRow, error) {
	var (
		row                             RunRow
		started                         int64
		finished                        sql.NullInt64
		linked, already, products, imgs sql.NullInt64
	)
	err := s.Scan(
		&row.ID,
		&row.UUID,
		&row.InProgress,
		&row.Success,
		&started,
		&finished,
		&linked,
		&already,
		&products,
		&imgs,
		&row.FailureReason,
	)
	if err != nil {
		return RunRow{}, err
	}
	row.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		at := time.UnixMilli(finished.Int64)
		row.FinishedAt = &at
	}
	if linked.Valid {
		row.Summary = &model.Summary{
			Linked:   int(linked.Int64),
			Already:  int(already.Int64),
			Products: int(products.Int64),
			Images:   int(imgs.Int64),
		}
	}
	return row, nil
}

// Get returns run uuid or ErrNotFound.
func (j *Journal) Get(ctx context.Context, uuid string) (RunRow, error) {
	row, err := scanRow(j.db.QueryRowContext(ctx, selectRun+` WHERE uuid=?`, uuid))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return row, nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, selectRun+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, row)
	}
	return ret, rows.Err()
}

func (j *Journal) Delete(ctx context.Context, uuid string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE uuid=?`, uuid)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

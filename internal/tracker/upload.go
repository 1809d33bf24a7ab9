package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/match"
	"github.com/vitrine-ops/imgsync/internal/model"
)

// Batch is a selection of files matched against catalog records.
type Batch struct {
	Summary match.Summary
	// Files are the matched files whose key resolved to a record.
	Files []model.MatchedFile
}

// Prepare matches the selected files by name, resolves every distinct key
// and renders the folder summary. Each failed lookup is logged once.
func (t *Tracker) Prepare(ctx context.Context, files []model.FileHandle) Batch {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Path()
	}
	groups := match.Group(match.Parse(names))
	resolved := t.resolver.ResolveAll(ctx, groups.Keys())
	summary := match.Summarize(groups, resolved)

	for _, k := range summary.Keys {
		if k.State != match.KeyFailed {
			continue
		}
		severity := model.SeverityWarning
		if k.Record.Transient {
			severity = model.SeverityError
		}
		t.logs.Append(fmt.Sprintf(msgLookupFailed, k.Key, k.Record.Failure), severity)
	}
	t.logs.Append(fmt.Sprintf(msgPrepared, summary.Recognized, summary.Ignored, summary.Found), model.SeverityInfo)
	if t.sinks.Folders != nil {
		t.sinks.Folders.RenderFolders(summary)
	}

	found := summary.FoundFiles()
	batch := Batch{Summary: summary, Files: make([]model.MatchedFile, 0, len(found))}
	for _, m := range found {
		batch.Files = append(batch.Files, model.MatchedFile{
			Key:      m.Key,
			Sequence: m.Sequence,
			File:     files[m.Index],
		})
	}
	slog.DebugContext(ctx, "batch prepared",
		slog.Int("files", len(files)),
		slog.Int("keys", len(summary.Keys)),
		slog.Int("upload", len(batch.Files)))
	return batch
}

// Upload sends the batch. Its result starts a new run which is reconciled
// like a launch. Only one upload may be in flight.
func (t *Tracker) Upload(ctx context.Context, b Batch) (LaunchResult, error) {
	if len(b.Files) == 0 {
		t.logs.Append(msgNothingToLoad, model.SeverityWarning)
		return nil, model.ErrNothingToUpload
	}
	if !t.uploading.CompareAndSwap(false, true) {
		t.logs.Append(msgUploadBusy, model.SeverityWarning)
		return nil, model.ErrUploadInProgress
	}
	defer t.uploading.Store(false)

	t.mx.Lock()
	busy := t.processingLocked()
	t.mx.Unlock()
	if busy {
		t.logs.Append(msgBusy, model.SeverityWarning)
		return nil, model.ErrJobInProgress
	}

	t.logs.Append(fmt.Sprintf(msgUploading, len(b.Files)), model.SeverityInfo)
	out, err := t.backend.Upload(ctx, b.Files)
	if err != nil {
		msg := backend.Describe(err)
		if errors.Is(err, model.ErrNothingToUpload) {
			msg = msgNothingToLoad
		}
		t.logs.Append(msg, model.SeverityError)
		t.journalRejected(ctx, msg)
		slog.ErrorContext(ctx, "upload failed", slog.String("err", err.Error()))
		return nil, err
	}
	return t.accept(ctx, out, sourceUpload)
}

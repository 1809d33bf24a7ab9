package tracker_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/match"
	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/tracker"
)

type result struct {
	out backend.Outcome
	err error
}

// fakeBackend replays scripted results. The last status result repeats.
type fakeBackend struct {
	mx          sync.Mutex
	start       []result
	status      []result
	upload      []result
	records     map[string]model.ResolvedRecord
	statusBlock chan struct{}
	uploadBlock chan struct{}

	startCalls  int
	statusCalls int
	uploaded    [][]model.MatchedFile
}

func next(rs *[]result, repeat bool) result {
	if len(*rs) == 0 {
		return result{err: &backend.Error{Op: "fake", Kind: backend.KindTransport, Message: "no scripted result"}}
	}
	r := (*rs)[0]
	if len(*rs) > 1 || !repeat {
		*rs = (*rs)[1:]
	}
	return r
}

func (f *fakeBackend) Start(ctx context.Context) (backend.Outcome, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.startCalls++
	r := next(&f.start, false)
	return r.out, r.err
}

func (f *fakeBackend) Status(ctx context.Context) (backend.Outcome, error) {
	if f.statusBlock != nil {
		select {
		case <-f.statusBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	f.statusCalls++
	r := next(&f.status, true)
	return r.out, r.err
}

func (f *fakeBackend) Upload(ctx context.Context, files []model.MatchedFile) (backend.Outcome, error) {
	if f.uploadBlock != nil {
		select {
		case <-f.uploadBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	f.uploaded = append(f.uploaded, files)
	r := next(&f.upload, false)
	return r.out, r.err
}

func (f *fakeBackend) LookupRecord(_ context.Context, key string) (model.ResolvedRecord, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if rec, ok := f.records[key]; ok {
		return rec, nil
	}
	return model.NotFound(key), nil
}

func (f *fakeBackend) StatusCalls() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.statusCalls
}

func (f *fakeBackend) StartCalls() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.startCalls
}

type fakeJournal struct {
	mx       sync.Mutex
	started  []string
	ok       map[string]model.Summary
	failures map[string]string
}

func newJournal() *fakeJournal {
	return &fakeJournal{ok: map[string]model.Summary{}, failures: map[string]string{}}
}

func (j *fakeJournal) Start(_ context.Context, id string, _ time.Time) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.started = append(j.started, id)
	return nil
}

func (j *fakeJournal) FinishOK(_ context.Context, id string, _ time.Time, s model.Summary) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.ok[id] = s
	return nil
}

func (j *fakeJournal) FinishErr(_ context.Context, id string, _ time.Time, reason string) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.failures[id] = reason
	return nil
}

func (j *fakeJournal) Started() []string {
	j.mx.Lock()
	defer j.mx.Unlock()
	return append([]string(nil), j.started...)
}

func (j *fakeJournal) OK(id string) model.Summary {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.ok[id]
}

func (j *fakeJournal) Failure(id string) string {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.failures[id]
}

type fakeFolders struct {
	got []match.Summary
}

func (f *fakeFolders) RenderFolders(s match.Summary) {
	f.got = append(f.got, s)
}

type fakeStats struct {
	mx  sync.Mutex
	got []tracker.Stats
}

func (f *fakeStats) RenderStats(s tracker.Stats) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.got = append(f.got, s)
}

type memFile struct {
	path string
}

func (m memFile) Path() string { return m.path }

func (m memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.path)), nil
}

func completed(p model.Payload) result {
	return result{out: backend.Completed{Payload: p, StatusCode: 200}}
}

func deferred(msg string) result {
	return result{out: backend.Deferred{Ticket: model.Ticket{Message: msg, Status: model.StatusQueued}}}
}

func transportErr(op string) result {
	return result{err: &backend.Error{Op: op, Kind: backend.KindTransport, Message: "connection refused"}}
}

func authErr(op string) result {
	return result{err: &backend.Error{Op: op, Kind: backend.KindAuth, Err: model.ErrNoCredential}}
}

func ptr(i int) *int {
	return &i
}

func patch(linked, already, products, images int) model.SummaryPatch {
	return model.SummaryPatch{Linked: ptr(linked), Already: ptr(already), Products: ptr(products), Images: ptr(images)}
}

func count(entries []model.LogEntry, severity model.Severity) int {
	var n int
	for _, e := range entries {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

func messages(entries []model.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func last(entries []model.LogEntry) model.LogEntry {
	if len(entries) == 0 {
		return model.LogEntry{}
	}
	return entries[len(entries)-1]
}

package tracker_test

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/tracker"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const interval = 4 * time.Second

func TestDeferredRunEndToEnd(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{
			start: []result{deferred("")},
			status: []result{
				completed(model.Payload{Status: model.StatusProcessing}),
				completed(model.Payload{Status: model.StatusCompleted, Summary: patch(3, 1, 4, 4)}),
			},
		}
		journal := newJournal()
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval), tracker.WithJournal(journal))
		defer tr.Close()

		res, err := tr.Launch(t.Context())
		require.NoError(t, err)
		d, ok := res.(tracker.Deferred)
		require.True(t, ok, "got %T", res)
		require.True(t, tr.Polling())
		require.True(t, tr.Processing())
		require.True(t, tr.Run().Awaiting())
		require.Equal(t, "Verification started. Follow the progress in the console.", last(tr.Logs()).Message)

		// checked once right away, without waiting for the timer
		require.Equal(t, 1, fb.StatusCalls())
		require.Equal(t, model.StatusProcessing, tr.Run().Status)
		require.Zero(t, count(tr.Logs(), model.SeveritySuccess))

		time.Sleep(interval)
		synctest.Wait()
		run := tr.Run()
		require.Equal(t, model.StatusCompleted, run.Status)
		require.Equal(t, model.Summary{Linked: 3, Already: 1, Products: 4, Images: 4}, run.Summary)
		require.False(t, run.Awaiting())
		require.False(t, tr.Polling())
		require.False(t, tr.Processing())
		require.Equal(t, 1, count(tr.Logs(), model.SeveritySuccess))
		require.Equal(t, "Verification finished. 3 image(s) linked and 1 already linked.", last(tr.Logs()).Message)

		select {
		case done := <-tr.Terminal():
			require.Equal(t, d.RunID, done.ID)
		default:
			t.Fatal("terminal run not delivered")
		}

		time.Sleep(5 * interval)
		synctest.Wait()
		require.Equal(t, 2, fb.StatusCalls())
		require.Equal(t, 1, count(tr.Logs(), model.SeveritySuccess))

		require.Equal(t, []string{d.RunID}, journal.Started())
		require.Equal(t, model.Summary{Linked: 3, Already: 1, Products: 4, Images: 4}, journal.OK(d.RunID))
	})
}

func TestLaunch_Immediate(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{
			start: []result{completed(model.Payload{
				FinishedAt: time.Now(),
				Summary:    patch(2, 0, 1, 2),
				Logs: []model.LogEntry{
					{ID: "srv-1", Message: "Checking products.", Severity: model.SeverityInfo, Timestamp: time.Now(), Origin: model.OriginServer},
				},
			})},
		}
		stats := &fakeStats{}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval), tracker.WithSinks(tracker.Sinks{Stats: stats}))
		defer tr.Close()

		res, err := tr.Launch(t.Context())
		require.NoError(t, err)
		imm, ok := res.(tracker.Immediate)
		require.True(t, ok, "got %T", res)
		require.Equal(t, model.StatusCompleted, imm.Run.Status)
		require.True(t, imm.Run.Launched)
		require.False(t, tr.Polling())

		require.Equal(t, []string{
			"Sending verification request...",
			"Checking products.",
			"Verification finished. 2 image(s) linked and 0 already linked.",
		}, messages(tr.Logs()))

		time.Sleep(3 * interval)
		synctest.Wait()
		require.Zero(t, fb.StatusCalls())
		require.NotEmpty(t, stats.got)
		require.Equal(t, model.StatusCompleted, stats.got[len(stats.got)-1].Status)
	})
}

func TestLaunch_AnsweredInProgress(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.Payload
	}{
		{"explicit processing", model.Payload{Status: model.StatusProcessing, Summary: patch(1, 0, 1, 1)}},
		{"no status, error or finish time", model.Payload{Summary: patch(1, 0, 1, 1)}},
		{"empty body", model.Payload{}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				fb := &fakeBackend{
					start:  []result{completed(tt.given)},
					status: []result{completed(model.Payload{Status: model.StatusCompleted, Summary: patch(2, 0, 1, 2)})},
				}
				journal := newJournal()
				tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval), tracker.WithJournal(journal))
				defer tr.Close()

				res, err := tr.Launch(t.Context())
				require.NoError(t, err)
				d, ok := res.(tracker.Deferred)
				require.True(t, ok, "got %T", res)
				require.Equal(t, model.StatusProcessing, tr.Run().Status)
				require.True(t, tr.Run().Awaiting())
				require.True(t, tr.Processing())
				require.True(t, tr.Polling())
				require.Zero(t, fb.StatusCalls())

				time.Sleep(interval)
				synctest.Wait()
				require.Equal(t, 1, fb.StatusCalls())
				require.Equal(t, model.StatusCompleted, tr.Run().Status)
				require.False(t, tr.Polling())
				require.Equal(t, 1, count(tr.Logs(), model.SeveritySuccess))

				select {
				case done := <-tr.Terminal():
					require.Equal(t, d.RunID, done.ID)
				default:
					t.Fatal("terminal run not delivered")
				}
				require.Equal(t, model.Summary{Linked: 2, Products: 1, Images: 2}, journal.OK(d.RunID))
			})
		})
	}
}

func TestLaunch_AcceptedNotPublished(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		notFound := result{out: backend.Rejected{StatusCode: 404, Message: "No previous verification was found."}}
		fb := &fakeBackend{
			start:  []result{deferred("")},
			status: []result{notFound, completed(model.Payload{Status: model.StatusCompleted})},
		}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		_, err := tr.Launch(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, fb.StatusCalls())
		require.Zero(t, count(tr.Logs(), model.SeverityWarning))
		require.Equal(t, model.StatusQueued, tr.Run().Status)
		require.True(t, tr.Polling())

		time.Sleep(interval)
		synctest.Wait()
		require.Equal(t, model.StatusCompleted, tr.Run().Status)
		require.False(t, tr.Polling())
	})
}

func TestLaunch_Failure(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    result
		then     string
	}{
		{"transport", transportErr("start"), "connection refused"},
		{"missing credential", authErr("start"), model.ErrNoCredential.Error()},
		{"rejected", result{out: backend.Rejected{StatusCode: 409, Message: "A verification is already running on the server."}}, "A verification is already running on the server."},
		{"malformed", result{err: &backend.Error{Op: "start", Kind: backend.KindMalformed, Message: "body is not a JSON object"}}, "body is not a JSON object"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				fb := &fakeBackend{start: []result{tt.given}}
				journal := newJournal()
				tr := tracker.New(t.Context(), fb, tracker.WithJournal(journal))
				defer tr.Close()

				res, err := tr.Launch(t.Context())
				require.Error(t, err)
				require.Nil(t, res)

				logs := tr.Logs()
				require.Equal(t, 1, count(logs, model.SeverityError))
				require.Equal(t, tt.then, last(logs).Message)
				require.False(t, tr.Processing())
				require.False(t, tr.Polling())
				require.Empty(t, tr.Run().ID)

				started := journal.Started()
				require.Len(t, started, 1)
				require.Equal(t, tt.then, journal.Failure(started[0]))
			})
		})
	}
}

func TestLaunch_Reentrant(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{
			start:  []result{deferred("Verification accepted."), deferred("second")},
			status: []result{completed(model.Payload{Status: model.StatusProcessing})},
		}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		_, err := tr.Launch(t.Context())
		require.NoError(t, err)
		require.Equal(t, "Verification accepted.", last(tr.Logs()).Message)

		_, err = tr.Launch(t.Context())
		require.ErrorIs(t, err, model.ErrJobInProgress)
		require.Equal(t, 1, fb.StartCalls())
		require.Equal(t, model.SeverityWarning, last(tr.Logs()).Severity)
		require.Equal(t, "A verification is already running. Wait for it to finish before starting another one.", last(tr.Logs()).Message)
		require.True(t, tr.Polling())
	})
}

func TestTick_SkipsWhileInFlight(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{
			statusBlock: make(chan struct{}),
			status:      []result{completed(model.Payload{Status: model.StatusCompleted})},
		}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		errc := make(chan error, 1)
		go func() {
			errc <- tr.Check(t.Context())
		}()
		synctest.Wait()

		require.False(t, tr.Tick(t.Context()))
		require.ErrorIs(t, tr.Check(t.Context()), model.ErrStatusInFlight)

		close(fb.statusBlock)
		require.NoError(t, <-errc)
		require.Equal(t, 1, fb.StatusCalls())
		require.True(t, tr.Tick(t.Context()))
		require.Equal(t, 2, fb.StatusCalls())
	})
}

func TestConsume_PartialUpdate(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		first := model.Payload{
			Status:  model.StatusProcessing,
			Summary: patch(1, 2, 3, 4),
			Meta:    model.MetaPatch{TotalRecords: ptr(10), ProcessedRecords: ptr(2)},
			Records: []model.RecordVerificationResult{{Key: "a"}, {Key: "b"}},
		}
		second := model.Payload{
			Status:  model.StatusProcessing,
			Summary: model.SummaryPatch{Linked: ptr(5)},
			Records: []model.RecordVerificationResult{{Key: "c"}},
		}
		regression := model.Payload{Status: model.StatusQueued}
		fb := &fakeBackend{status: []result{completed(first), completed(second), completed(regression)}}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		require.NoError(t, tr.Check(t.Context()))
		require.NoError(t, tr.Check(t.Context()))
		run := tr.Run()
		require.Equal(t, model.Summary{Linked: 5, Already: 2, Products: 3, Images: 4}, run.Summary)
		require.Equal(t, model.Meta{TotalRecords: 10, ProcessedRecords: 2}, run.Meta)
		require.Equal(t, []model.RecordVerificationResult{{Key: "c"}}, run.Records)
		require.Equal(t, "3 (2/10)", tr.Stats().ProductsText())

		require.NoError(t, tr.Check(t.Context()))
		require.Equal(t, model.StatusProcessing, tr.Run().Status)
		require.Empty(t, tr.Run().Records)
		require.True(t, tr.Polling())
	})
}

func TestInit_IsSilent(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		old := model.Payload{Status: model.StatusCompleted, Summary: patch(7, 1, 3, 8)}
		fb := &fakeBackend{
			status: []result{completed(old), completed(old), completed(model.Payload{Status: model.StatusProcessing})},
			start:  []result{deferred("")},
		}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		require.NoError(t, tr.Init(t.Context()))
		require.Equal(t, []string{"Ready to start verification."}, messages(tr.Logs()))
		require.Equal(t, model.StatusCompleted, tr.Run().Status)
		require.False(t, tr.Run().Launched)
		require.False(t, tr.Polling())

		// a manual check of the same terminal run does not announce it either
		require.NoError(t, tr.Check(t.Context()))
		require.Zero(t, count(tr.Logs(), model.SeveritySuccess))

		// a new launch is allowed after a terminal run
		_, err := tr.Launch(t.Context())
		require.NoError(t, err)
		require.Equal(t, model.StatusProcessing, tr.Run().Status)
		require.Equal(t, model.Summary{}, tr.Run().Summary)
		require.Equal(t, 3, fb.StatusCalls())
	})
}

func TestInit_FollowsActiveRun(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{status: []result{
			completed(model.Payload{Status: model.StatusProcessing}),
			completed(model.Payload{Status: model.StatusFailed, Error: "drive unavailable"}),
		}}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		require.NoError(t, tr.Init(t.Context()))
		require.True(t, tr.Polling())
		require.True(t, tr.Processing())

		time.Sleep(interval)
		synctest.Wait()
		require.Equal(t, model.StatusFailed, tr.Run().Status)
		require.False(t, tr.Polling())
		require.Equal(t, "drive unavailable", last(tr.Logs()).Message)
		require.Equal(t, model.SeverityError, last(tr.Logs()).Severity)
	})
}

func TestPolling_TransientFailure(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{
			start: []result{deferred("")},
			status: []result{
				transportErr("status"),
				result{out: backend.Rejected{StatusCode: 502, Message: "request failed: 502 Bad Gateway"}},
				completed(model.Payload{Status: model.StatusCompleted}),
			},
		}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		_, err := tr.Launch(t.Context())
		require.NoError(t, err)
		require.True(t, tr.Polling())
		require.Equal(t, 1, count(tr.Logs(), model.SeverityWarning))

		time.Sleep(interval)
		synctest.Wait()
		require.True(t, tr.Polling())
		require.Equal(t, 2, count(tr.Logs(), model.SeverityWarning))

		time.Sleep(interval)
		synctest.Wait()
		require.False(t, tr.Polling())
		require.Equal(t, model.StatusCompleted, tr.Run().Status)
		require.Equal(t, 1, count(tr.Logs(), model.SeveritySuccess))
	})
}

func TestPolling_CredentialLoss(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		fb := &fakeBackend{
			start:  []result{deferred("")},
			status: []result{authErr("status")},
		}
		tr := tracker.New(t.Context(), fb, tracker.WithInterval(interval))
		defer tr.Close()

		_, err := tr.Launch(t.Context())
		require.NoError(t, err)
		require.False(t, tr.Polling())
		require.Equal(t, 1, count(tr.Logs(), model.SeverityWarning))

		select {
		case err := <-tr.Halted():
			require.ErrorIs(t, err, model.ErrNoCredential)
		default:
			t.Fatal("halt not delivered")
		}

		time.Sleep(3 * interval)
		synctest.Wait()
		require.Equal(t, 1, fb.StatusCalls())
	})
}

func TestNoHistory(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		notFound := result{out: backend.Rejected{StatusCode: 404, Message: "No previous verification was found."}}
		fb := &fakeBackend{status: []result{notFound}}
		tr := tracker.New(t.Context(), fb)
		defer tr.Close()

		require.NoError(t, tr.Init(t.Context()))
		require.Zero(t, count(tr.Logs(), model.SeverityWarning))

		require.NoError(t, tr.Check(t.Context()))
		require.Equal(t, "No verification history was found.", last(tr.Logs()).Message)
		require.Equal(t, model.StatusIdle, tr.Run().Status)
		require.False(t, tr.Polling())
	})
}

func TestStats_ProductsText(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    tracker.Stats
		then     string
	}{
		{"no meta", tracker.Stats{Products: 4}, "4"},
		{"nothing processed yet", tracker.Stats{Products: 0, Meta: model.Meta{TotalRecords: 10}}, "0"},
		{"awaiting", tracker.Stats{Products: 0, Awaiting: true, Meta: model.Meta{TotalRecords: 10}}, "0 (0/10)"},
		{"progress", tracker.Stats{Products: 2, Meta: model.Meta{TotalRecords: 10, ProcessedRecords: 5}}, "2 (5/10)"},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			require.Equal(t, tt.then, tt.given.ProductsText())
		})
	}
}

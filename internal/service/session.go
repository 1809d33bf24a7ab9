package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/resolve"
	"github.com/vitrine-ops/imgsync/internal/store"
	"github.com/vitrine-ops/imgsync/internal/tracker"
)

// Session is a tracker wired to the configured server, record cache and
// journal.
type Session struct {
	Tracker *tracker.Tracker
	Client  *backend.Client
	// Journal is nil when the journal is disabled.
	Journal *store.Journal
}

func NewSession(ctx context.Context, cfg model.Config, sinks tracker.Sinks) (*Session, error) {
	if cfg.Server.URL.URL == nil {
		return nil, errors.New("server.url is not set")
	}
	creds, err := backend.FromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.ServerTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing server.timeout: %w", err)
	}
	interval, err := cfg.PollInterval()
	if err != nil {
		return nil, fmt.Errorf("parsing poll.interval: %w", err)
	}
	client, err := backend.New(cfg.Server.URL.String(), creds, backend.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("initializing client: %w", err)
	}

	s := &Session{Client: client}
	opts := []tracker.Option{
		tracker.WithInterval(interval),
		tracker.WithSinks(sinks),
		tracker.WithResolver(resolve.New(client,
			resolve.WithConcurrency(cfg.ResolveConcurrency()),
			resolve.WithRate(cfg.ResolveRate()),
		)),
	}
	if path := cfg.JournalPath(); path != "" {
		s.Journal, err = OpenJournal(ctx, path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tracker.WithJournal(s.Journal))
	}
	s.Tracker = tracker.New(ctx, client, opts...)
	return s, nil
}

// OpenJournal opens the journal at path, creating its directory.
func OpenJournal(ctx context.Context, path string) (*store.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	j, err := store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return j, nil
}

func (s *Session) Close() error {
	s.Tracker.Close()
	if s.Journal != nil {
		return s.Journal.Close()
	}
	return nil
}

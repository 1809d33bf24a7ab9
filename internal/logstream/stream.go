// Package logstream keeps the bounded, ordered list of messages shown to the
// operator. Local messages and messages forwarded by the server share one
// stream; server messages carry their own ids and are ingested at most once.
package logstream

import (
	"strings"
	"sync"
	"time"

	"github.com/vitrine-ops/imgsync/internal/model"

	"github.com/google/uuid"
)

// DefaultMax is the number of entries kept before the oldest are evicted.
const DefaultMax = 200

type appendOpts struct {
	id             string
	timestamp      time.Time
	fromServer     bool
	skipDuplicates bool
}

type Option func(*appendOpts)

// WithID sets the entry id. Blank ids are ignored.
func WithID(id string) Option {
	return func(o *appendOpts) {
		o.id = strings.TrimSpace(id)
	}
}

// WithTimestamp sets the entry time. A zero time means now.
func WithTimestamp(ts time.Time) Option {
	return func(o *appendOpts) {
		o.timestamp = ts
	}
}

// FromServer marks the entry as forwarded by the server. Its id is
// remembered even after the entry is evicted.
func FromServer() Option {
	return func(o *appendOpts) {
		o.fromServer = true
	}
}

// SkipDuplicates turns an append with an already recorded id into a no-op.
func SkipDuplicates() Option {
	return func(o *appendOpts) {
		o.skipDuplicates = true
	}
}

// Stream is safe for concurrent use.
type Stream struct {
	mx       sync.Mutex
	max      int
	entries  []model.LogEntry
	ids      map[string]model.Origin
	now      func() time.Time
	onChange func([]model.LogEntry)
}

// New returns a stream holding at most max entries, DefaultMax when max < 1.
func New(max int) *Stream {
	if max < 1 {
		max = DefaultMax
	}
	return &Stream{
		max:     max,
		entries: make([]model.LogEntry, 0, max),
		ids:     make(map[string]model.Origin),
		now:     time.Now,
	}
}

// OnChange registers fn to receive the ordered entries after every change.
// fn runs with the stream locked and must not call back into it.
func (s *Stream) OnChange(fn func([]model.LogEntry)) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.onChange = fn
}

// Append adds a message and reports whether an entry was stored. Empty
// messages are dropped.
func (s *Stream) Append(message string, severity model.Severity, opts ...Option) (model.LogEntry, bool) {
	if strings.TrimSpace(message) == "" {
		return model.LogEntry{}, false
	}
	var o appendOpts
	for _, opt := range opts {
		opt(&o)
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	id := o.id
	if id != "" {
		if _, seen := s.ids[id]; seen {
			if o.fromServer || o.skipDuplicates {
				return model.LogEntry{}, false
			}
			// ids stay unique within the stream
			id = ""
		}
	}
	if id == "" {
		id = "local-" + uuid.NewString()
	}

	ts := o.timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	origin := model.OriginLocal
	if o.fromServer {
		origin = model.OriginServer
	}

	entry := model.LogEntry{
		ID:        id,
		Message:   message,
		Severity:  severity,
		Timestamp: ts,
		Origin:    origin,
	}
	s.entries = append(s.entries, entry)
	s.ids[id] = origin
	s.evict()
	s.notify()
	return entry, true
}

// evict drops the oldest entries above the limit. Server ids are kept in
// the dedup set so a later poll can't re-announce an evicted entry.
func (s *Stream) evict() {
	over := len(s.entries) - s.max
	if over <= 0 {
		return
	}
	for _, e := range s.entries[:over] {
		if s.ids[e.ID] == model.OriginLocal {
			delete(s.ids, e.ID)
		}
	}
	n := copy(s.entries, s.entries[over:])
	clear(s.entries[n:])
	s.entries = s.entries[:n]
}

func (s *Stream) notify() {
	if s.onChange != nil {
		s.onChange(s.snapshot())
	}
}

func (s *Stream) snapshot() []model.LogEntry {
	out := make([]model.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Entries returns a copy of the entries, oldest first.
func (s *Stream) Entries() []model.LogEntry {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.snapshot()
}

func (s *Stream) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.entries)
}

// Seen reports whether id was recorded, including evicted server ids.
func (s *Stream) Seen(id string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Clear empties the entries and the dedup set in one step.
func (s *Stream) Clear() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.entries = s.entries[:0]
	s.ids = make(map[string]model.Origin)
	s.notify()
}

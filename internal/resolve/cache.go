// Package resolve memoizes key to catalog record lookups. Concurrent lookups
// of one key share a single request, and every answer, "not found" and
// failures included, is kept for the lifetime of the Cache.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/parallel"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Lookup fetches the record for one key. A key without a record is reported
// as model.NotFound(key) with a nil error.
type Lookup interface {
	LookupRecord(ctx context.Context, key string) (model.ResolvedRecord, error)
}

type LookupFunc func(ctx context.Context, key string) (model.ResolvedRecord, error)

func (f LookupFunc) LookupRecord(ctx context.Context, key string) (model.ResolvedRecord, error) {
	return f(ctx, key)
}

type Option func(*Cache)

// WithRate limits outbound lookups to perSecond. Zero or less means unlimited.
func WithRate(perSecond int) Option {
	return func(c *Cache) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithConcurrency sets the number of parallel lookups made by ResolveAll.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

type Cache struct {
	lookup  Lookup
	group   singleflight.Group
	limiter *rate.Limiter
	workers int

	mx      sync.RWMutex
	records map[string]model.ResolvedRecord
}

func New(lookup Lookup, opts ...Option) *Cache {
	c := &Cache{
		lookup:  lookup,
		workers: model.DefaultResolveWorkers,
		records: make(map[string]model.ResolvedRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the record for key. Lookup failures are cached as a not
// found record carrying the failure, except credential problems and the
// caller's cancellation, which are reported as transient and not cached.
func (c *Cache) Resolve(ctx context.Context, key string) model.ResolvedRecord {
	key = strings.TrimSpace(key)
	if key == "" {
		return model.NotFound(key)
	}
	if rec, ok := c.Cached(key); ok {
		return rec
	}

	// the shared request must not die with the first caller
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if rec, ok := c.Cached(key); ok {
			return rec, nil
		}
		return c.fetch(flightCtx, key), nil
	})

	select {
	case <-ctx.Done():
		rec := model.NotFound(key)
		rec.Failure = ctx.Err().Error()
		rec.Transient = true
		return rec
	case res := <-ch:
		return res.Val.(model.ResolvedRecord)
	}
}

func (c *Cache) fetch(ctx context.Context, key string) model.ResolvedRecord {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			rec := model.NotFound(key)
			rec.Failure = err.Error()
			rec.Transient = true
			return rec
		}
	}

	slog.DebugContext(ctx, "looking up record", slog.String("key", key))
	rec, err := c.lookup.LookupRecord(ctx, key)
	switch {
	case err == nil:
		rec.Key = key
	case errors.Is(err, model.ErrNoCredential), errors.Is(err, model.ErrCredentialExpired):
		rec = model.NotFound(key)
		rec.Failure = err.Error()
		rec.Transient = true
		return rec
	default:
		slog.WarnContext(ctx, "record lookup failed", slog.String("key", key), slog.String("err", err.Error()))
		rec = model.NotFound(key)
		rec.Failure = err.Error()
	}

	c.mx.Lock()
	c.records[key] = rec
	c.mx.Unlock()
	return rec
}

// ResolveAll resolves the distinct keys in parallel.
func (c *Cache) ResolveAll(ctx context.Context, keys []string) map[string]model.ResolvedRecord {
	seen := make(map[string]struct{}, len(keys))
	var distinct []string
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		distinct = append(distinct, k)
	}

	resolve := func(ctx context.Context, key string) (model.ResolvedRecord, error) {
		return c.Resolve(ctx, key), nil
	}
	recs, _ := parallel.Collect(ctx, c.workers, distinct, resolve)
	out := make(map[string]model.ResolvedRecord, len(recs))
	for _, rec := range recs {
		out[rec.Key] = rec
	}
	return out
}

// Cached returns the cached record for key without any lookup.
func (c *Cache) Cached(key string) (model.ResolvedRecord, bool) {
	c.mx.RLock()
	defer c.mx.RUnlock()
	rec, ok := c.records[key]
	return rec, ok
}

// Forget drops key so the next Resolve asks the server again. The cache
// never does this on its own.
func (c *Cache) Forget(key string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	delete(c.records, key)
}

func (c *Cache) Len() int {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return len(c.records)
}

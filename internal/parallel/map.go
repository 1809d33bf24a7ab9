// Package parallel maps iterators with a bounded number of workers.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map is a parallel mapping function, which runs mapFunc for every input
// element with at most limit calls in flight. Results are yielded in
// completion order. Map is context aware, so a canceled context ends the
// processing, and so does breaking out of the loop.
//
//	for result, err := range parallel.NewMap(ctx, 4, fn).Iter(input) {}
//
// A Map is single use.
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
	limit        int
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	if limit < 1 {
		limit = 1
	}
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	// the feeder goroutine takes one slot
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       make(chan result[D], limit),
		mapFunc:      mapFunc,
		limit:        limit,
	}
}

// goWorkers feeds seq to the workers. Input errors are passed through
// unchanged with a zero D.
func (s *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	s.g.Go(func() error {
		for entry, nerr := range seq {
			if s.gctx.Err() != nil {
				return s.gctx.Err()
			}
			if nerr != nil {
				var zero D
				if !s.send(result[D]{d: zero, e: nerr}) {
					return s.gctx.Err()
				}
				continue
			}
			s.g.Go(func() error {
				d, err := s.mapFunc(s.gctx, entry)
				if !s.send(result[D]{d: d, e: err}) {
					return s.gctx.Err()
				}
				return nil
			})
		}
		return nil
	})
}

func (s *Map[E, D]) send(r result[D]) bool {
	select {
	case <-s.gctx.Done():
		return false
	case s.mapped <- r:
		return true
	}
}

func (s *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer func() {
			s.cancelParent()
			go func() {
				for range s.mapped {
				}
			}()
		}()
		s.goWorkers(seq)

		go func() {
			_ = s.g.Wait()
			close(s.mapped)
		}()

		for r := range s.mapped {
			if s.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}

// All adapts a slice to the input of Iter.
func All[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}

// Collect maps every element of in and returns the successful results in
// completion order, together with the first error seen.
func Collect[E, D any](ctx context.Context, limit int, in []E, fn func(context.Context, E) (D, error)) ([]D, error) {
	out := make([]D, 0, len(in))
	var first error
	for d, err := range NewMap(ctx, limit, fn).Iter(All(in)) {
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		out = append(out, d)
	}
	if first == nil {
		first = ctx.Err()
	}
	return out, first
}

package tracker

import (
	"context"
	"sync"
	"time"
)

// Scheduler owns at most one recurring timer. Ticks run on the timer's
// goroutine one after another; a tick slower than the interval swallows the
// ticks it overlaps, nothing is queued.
type Scheduler struct {
	interval time.Duration
	tick     func(context.Context)

	mx   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(interval time.Duration, tick func(context.Context)) *Scheduler {
	if interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{interval: interval, tick: tick}
}

// Start begins the timer unless one is active and reports whether it did.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.stop != nil {
		return false
	}
	stop := make(chan struct{})
	s.stop = stop
	s.wg.Go(func() {
		s.loop(ctx, stop)
	})
	return true
}

func (s *Scheduler) loop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		s.mx.Lock()
		if s.stop == stop {
			s.stop = nil
		}
		s.mx.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// Stop may have raced with the ticker
			select {
			case <-stop:
				return
			default:
			}
			s.tick(ctx)
		}
	}
}

// Stop clears the timer. It does not wait for a running tick, so it is safe
// to call from inside one.
func (s *Scheduler) Stop() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

func (s *Scheduler) Running() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.stop != nil
}

// Wait blocks until every timer goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

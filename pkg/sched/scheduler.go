// Package sched is the timer capability injected into commands.
//
// Commands never hold raw tickers or goroutines; they hold Handles.
// Stopping a handle is idempotent and never interrupts a tick already
// running to completion.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cadencebot/cadence/pkg/logger"
)

// Handle cancels one recurring timer or cron job.
type Handle struct {
	stop chan struct{}
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{stop: make(chan struct{})}
}

// Stop cancels the timer. Safe to call more than once; an in-flight
// tick runs to completion.
func (h *Handle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// Stopped reports whether Stop has been called.
func (h *Handle) Stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Scheduler creates interval timers and cron jobs in one fixed time
// zone.
type Scheduler struct {
	loc  *time.Location
	gron *gronx.Gronx
	wg   sync.WaitGroup
}

// New creates a scheduler in UTC.
func New() *Scheduler {
	return NewInLocation(time.UTC)
}

// NewInLocation creates a scheduler whose cron jobs evaluate in loc.
func NewInLocation(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{loc: loc, gron: gronx.New()}
}

// Every installs a fixed-rate recurring timer. The first tick fires
// after one full interval.
func (s *Scheduler) Every(interval time.Duration, fn func()) *Handle {
	h := newHandle()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				invoke(fn)
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

// Cron installs a cron job for the expression, evaluated in the
// scheduler's location. The expression is validated up front.
func (s *Scheduler) Cron(expr string, fn func()) (*Handle, error) {
	if !s.gron.IsValid(expr) {
		return nil, fmt.Errorf("sched: invalid cron expression %q", expr)
	}
	h := newHandle()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next, err := gronx.NextTickAfter(expr, time.Now().In(s.loc), false)
			if err != nil {
				logger.ErrorCF("sched", "cron next-tick failed, job stopped", map[string]interface{}{
					"expr": expr, "error": err.Error(),
				})
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				invoke(fn)
			case <-h.stop:
				timer.Stop()
				return
			}
		}
	}()
	return h, nil
}

// IsValidCron reports whether expr parses as a cron expression.
func (s *Scheduler) IsValidCron(expr string) bool {
	return s.gron.IsValid(expr)
}

// Wait blocks until every stopped timer goroutine has exited. Used on
// shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// invoke runs one tick, containing handler panics so a failing periodic
// command keeps retrying on its own schedule.
func invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("sched", "tick panicked", map[string]interface{}{"panic": r})
		}
	}()
	fn()
}

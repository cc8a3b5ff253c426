// Package bulk repeatedly posts one message at a fixed interval.
//
// A run is a small state machine (Idle, Running, Stopped) driven by tick
// and stop events. Each tick sends once and schedules the next tick only if
// work remains. Only one run is active at a time: starting a new run cancels
// the previous one, and ticks left over from a cancelled run are dropped.
package bulk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrEmptyMessage is returned by Start when there is nothing to send.
var ErrEmptyMessage = errors.New("bulk message is empty")

type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SendFunc posts one message. Its error is logged and otherwise ignored.
type SendFunc func(ctx context.Context, text string) error

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Status is a snapshot of the scheduler.
type Status struct {
	State     string `json:"state"`
	Remaining int    `json:"remaining"`
	Sent      int64  `json:"sent"`
}

type event int

const (
	evTick event = iota
	evStop
)

type job struct {
	state     State
	remaining int
	gen       uint64
}

// transition applies ev to j. send reports whether the tick should post a
// message.
func transition(j job, ev event) (next job, send bool) {
	switch ev {
	case evStop:
		if j.state == Running {
			j.state = Stopped
		}
		j.remaining = 0
		return j, false
	case evTick:
		if j.state != Running {
			return j, false
		}
		if j.remaining <= 0 {
			j.state = Idle
			return j, false
		}
		j.remaining--
		if j.remaining == 0 {
			j.state = Idle
		}
		return j, true
	}
	return j, false
}

// Scheduler runs bulk jobs. It is safe for concurrent use.
type Scheduler struct {
	send  SendFunc
	clock Clock

	mu     sync.Mutex
	job    job
	params Params
	timer  Timer
	done   chan struct{}

	sent atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New creates an idle Scheduler that posts through send.
func New(send SendFunc, opts ...Option) *Scheduler {
	s := &Scheduler{send: send, clock: realClock{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start cancels any active run and begins a new one. The first message is
// sent right away; the rest follow every p.Interval. Sends use ctx.
func (s *Scheduler) Start(ctx context.Context, p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	p = NewParams(p.Text, p.Count, int(p.Interval/time.Millisecond))
	if p.Text == "" {
		return ErrEmptyMessage
	}

	s.job = job{state: Running, remaining: p.Count, gen: s.job.gen + 1}
	s.params = p
	s.done = make(chan struct{})
	gen := s.job.gen
	s.timer = s.clock.AfterFunc(0, func() { s.tick(ctx, gen) })
	log.Info().Int("count", p.Count).Dur("interval", p.Interval).Msg("[bulk] run started")
	return nil
}

// Stop cancels the pending send and zeroes the remaining count. It is a
// no-op when no run is active.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.state == Running {
		log.Info().Int("remaining", s.job.remaining).Msg("[bulk] run stopped")
	}
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.job, _ = transition(s.job, evStop)
	s.finishLocked()
}

func (s *Scheduler) finishLocked() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

func (s *Scheduler) tick(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.job.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	next, send := transition(s.job, evTick)
	s.job = next
	p := s.params
	s.mu.Unlock()

	if send {
		if err := s.send(ctx, p.Text); err != nil {
			log.Debug().Err(err).Msg("[bulk] send failed")
		}
		s.sent.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.job.gen {
		return
	}
	switch s.job.state {
	case Running:
		s.timer = s.clock.AfterFunc(p.Interval, func() { s.tick(ctx, gen) })
	case Idle:
		log.Info().Int64("sent", s.sent.Load()).Msg("[bulk] run finished")
		s.finishLocked()
	}
}

// Status reports the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.job.state.String(), Remaining: s.job.remaining, Sent: s.sent.Load()}
}

// Wait blocks until the active run finishes or is cancelled, or ctx is
// done. It returns immediately when no run is active.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

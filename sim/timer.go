package sim

import "sort"

// Token references a scheduled callback. Cancelling an already-fired or
// already-cancelled token is a no-op.
type Token uint64

// Scheduler is the host-provided timer boundary. The core never spins its
// own clock; it asks the scheduler for delayed callbacks and cancels them
// by token. Callbacks must capture unit ids, never live unit pointers.
type Scheduler interface {
	Schedule(delayMs float64, fn func()) Token
	Cancel(token Token)
}

type pendingTimer struct {
	token     Token
	remaining float64 // ms
	fn        func()
}

// TickScheduler is a Scheduler driven by the host's tick loop. Advance is
// called once per frame with the elapsed milliseconds; due callbacks fire
// synchronously in scheduling order.
type TickScheduler struct {
	next    Token
	pending map[Token]*pendingTimer
}

// NewTickScheduler returns an empty tick-driven scheduler.
func NewTickScheduler() *TickScheduler {
	return &TickScheduler{pending: make(map[Token]*pendingTimer)}
}

// Schedule registers fn to run after delayMs of Advance time.
func (s *TickScheduler) Schedule(delayMs float64, fn func()) Token {
	s.next++
	t := s.next
	s.pending[t] = &pendingTimer{token: t, remaining: delayMs, fn: fn}
	return t
}

// Cancel drops a pending timer. Unknown tokens are ignored.
func (s *TickScheduler) Cancel(token Token) {
	delete(s.pending, token)
}

// Pending returns the number of timers not yet fired.
func (s *TickScheduler) Pending() int { return len(s.pending) }

// Advance moves time forward by dtMs and fires every timer that came due,
// oldest first.
func (s *TickScheduler) Advance(dtMs float64) {
	var due []*pendingTimer
	for _, p := range s.pending {
		p.remaining -= dtMs
		if p.remaining <= 0 {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].token < due[j].token })
	for _, p := range due {
		delete(s.pending, p.token)
		p.fn()
	}
}

// Package sim provides the discrete-event substrate xpass connections run on:
// a virtual clock with an event queue and a lossless store-and-forward
// network.
package sim

import (
	"container/heap"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var log = logging.MustGetLogger("sim")

// TimerFunc runs a connection timer that came due.
type TimerFunc func(id xpass.TimerID)

type event struct {
	at    time.Duration
	seq   uint64
	index int

	timer   xpass.TimerID
	isTimer bool
	fn      func()
}

// eventQueue orders events by time, then by insertion.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Scheduler is a single-threaded discrete-event clock. It implements
// xpass.Scheduler and also runs plain callbacks such as packet deliveries.
type Scheduler struct {
	now     time.Duration
	seq     uint64
	queue   eventQueue
	timers  map[xpass.TimerID]*event
	onTimer TimerFunc

	executed int
}

// NewScheduler returns a scheduler at time zero. onTimer receives every
// connection timer that fires.
func NewScheduler(onTimer TimerFunc) *Scheduler {
	return &Scheduler{
		timers:  make(map[xpass.TimerID]*event),
		onTimer: onTimer,
	}
}

// OnTimer replaces the function receiving fired timers.
func (s *Scheduler) OnTimer(fn TimerFunc) { s.onTimer = fn }

// Now returns the current virtual time.
func (s *Scheduler) Now() time.Duration { return s.now }

// Schedule arms the timer id to fire after delay. A timer that is already
// armed is moved.
func (s *Scheduler) Schedule(delay time.Duration, id xpass.TimerID) {
	if old, ok := s.timers[id]; ok {
		log.Warnf("timer %v rescheduled without cancel", id)
		heap.Remove(&s.queue, old.index)
	}
	e := s.push(delay)
	e.timer = id
	e.isTimer = true
	s.timers[id] = e
}

// Cancel disarms the timer id. Cancelling a timer that is not armed does
// nothing.
func (s *Scheduler) Cancel(id xpass.TimerID) {
	e, ok := s.timers[id]
	if !ok {
		return
	}
	delete(s.timers, id)
	heap.Remove(&s.queue, e.index)
}

// After runs fn once delay has passed.
func (s *Scheduler) After(delay time.Duration, fn func()) {
	s.push(delay).fn = fn
}

func (s *Scheduler) push(delay time.Duration) *event {
	if delay < 0 {
		log.Warnf("negative delay %v clamped to zero", delay)
		delay = 0
	}
	s.seq++
	e := &event{at: s.now + delay, seq: s.seq}
	heap.Push(&s.queue, e)
	return e
}

// Step runs the earliest event. It returns false when the queue is empty.
func (s *Scheduler) Step() bool {
	if len(s.queue) == 0 {
		return false
	}
	e := heap.Pop(&s.queue).(*event)
	s.now = e.at
	s.executed++

	if e.isTimer {
		delete(s.timers, e.timer)
		if s.onTimer != nil {
			s.onTimer(e.timer)
		}
		return true
	}
	e.fn()
	return true
}

// RunUntil runs every event due at or before deadline and leaves the clock at
// deadline. It returns the number of events run.
func (s *Scheduler) RunUntil(deadline time.Duration) int {
	n := 0
	for len(s.queue) > 0 && s.queue[0].at <= deadline {
		s.Step()
		n++
	}
	if s.now < deadline {
		s.now = deadline
	}
	return n
}

// Run runs events until the queue drains.
func (s *Scheduler) Run() int {
	n := 0
	for s.Step() {
		n++
	}
	return n
}

// Pending returns the number of queued events.
func (s *Scheduler) Pending() int { return len(s.queue) }

// Armed reports whether the timer id is scheduled.
func (s *Scheduler) Armed(id xpass.TimerID) bool {
	_, ok := s.timers[id]
	return ok
}

// Executed returns the number of events run so far.
func (s *Scheduler) Executed() int { return s.executed }

package xpass

import (
	"fmt"
	"time"
)

// TimerKind names one of the single-shot timers of a connection.
type TimerKind uint8

// Timer kinds.
const (
	TimerCreditCadence TimerKind = iota
	TimerCreditStop
	TimerSenderRetransmit
	TimerReceiverRetransmit
	TimerFlowCompletion

	numTimerKinds
)

func (k TimerKind) String() string {
	switch k {
	case TimerCreditCadence:
		return "credit-cadence"
	case TimerCreditStop:
		return "credit-stop"
	case TimerSenderRetransmit:
		return "sender-retransmit"
	case TimerReceiverRetransmit:
		return "receiver-retransmit"
	case TimerFlowCompletion:
		return "flow-completion"
	default:
		return fmt.Sprintf("TimerKind(%d)", uint8(k))
	}
}

// timerHandlers dispatches a fired timer to its handler.
var timerHandlers = [numTimerKinds]func(*Conn){
	TimerCreditCadence:      (*Conn).onCreditCadence,
	TimerCreditStop:         (*Conn).onCreditStopTimer,
	TimerSenderRetransmit:   (*Conn).onSenderRetransmit,
	TimerReceiverRetransmit: (*Conn).onReceiverRetransmit,
	TimerFlowCompletion:     (*Conn).onFlowCompletion,
}

// Fire runs the handler of a timer the scheduler found due.
func (c *Conn) Fire(kind TimerKind) {
	if kind >= numTimerKinds {
		c.violation("fire", "unknown timer %s", kind)
	}
	if !c.pending[kind] {
		c.violation("fire", "timer %s fired while not pending", kind)
	}
	c.pending[kind] = false
	timerHandlers[kind](c)
}

// Pending reports whether the timer of the given kind is armed.
func (c *Conn) Pending(kind TimerKind) bool {
	return kind < numTimerKinds && c.pending[kind]
}

func (c *Conn) timerID(kind TimerKind) TimerID {
	return TimerID{Conn: c.id, Kind: kind}
}

// schedule arms a timer that must not be pending.
func (c *Conn) schedule(kind TimerKind, delay time.Duration) {
	if c.pending[kind] {
		c.violation("schedule", "timer %s is already pending", kind)
	}
	c.pending[kind] = true
	c.sched.Schedule(delay, c.timerID(kind))
}

// cancel disarms a timer. Cancelling an idle timer does nothing.
func (c *Conn) cancel(kind TimerKind) {
	if !c.pending[kind] {
		return
	}
	c.pending[kind] = false
	c.sched.Cancel(c.timerID(kind))
}

// reschedule cancels the timer, then arms it again.
func (c *Conn) reschedule(kind TimerKind, delay time.Duration) {
	c.cancel(kind)
	c.schedule(kind, delay)
}

// armCreditStop schedules an immediate credit-stop. Only one of the
// credit-stop and sender-retransmit timers may be pending at a time.
func (c *Conn) armCreditStop() {
	if c.pending[TimerCreditStop] {
		c.violation("credit-stop", "credit-stop is already scheduled")
	}
	if c.pending[TimerSenderRetransmit] {
		c.violation("credit-stop", "sender-retransmit is pending")
	}
	c.schedule(TimerCreditStop, 0)
}

func (c *Conn) anyPending() bool {
	for _, p := range c.pending {
		if p {
			return true
		}
	}
	return false
}

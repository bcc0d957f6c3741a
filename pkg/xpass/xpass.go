// Package xpass implements a receiver-driven, credit-based transport in the
// style of ExpressPass. A receiver grants credits at a rate adapted to the
// credit loss it observes, and a sender spends exactly one credit per data
// segment.
//
// Every Conn runs two independent state machines. The issuer grants credits to
// the peer and the consumer spends the peer's credits on its outbound message.
// The package never blocks or spawns goroutines. All progress is driven by
// packet arrivals (Conn.Receive) and timer firings (Conn.Fire) delivered by a
// discrete-event Scheduler.
package xpass

import (
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("xpass")

// Addr identifies a simulated host.
type Addr int32

// ConnID indexes a connection in the simulation's connection arena.
type ConnID uint32

// TimerID identifies a single-shot timer slot of a connection.
type TimerID struct {
	Conn ConnID
	Kind TimerKind
}

// Scheduler is the discrete-event clock a Conn runs against.
// Cancel must be a no-op for timers that are not pending.
type Scheduler interface {
	Now() time.Duration
	Schedule(delay time.Duration, id TimerID)
	Cancel(id TimerID)
}

// PacketSink transmits packets emitted by a connection.
type PacketSink interface {
	Send(p *Packet)
}

// Application is notified about message boundaries.
type Application interface {
	// OnMessageReceived is called once the final segment of an inbound
	// message has arrived.
	OnMessageReceived(bytes int, msg *Message)

	// OnMessageRetired is called when the consumer returns to Closed and a new
	// message may be armed with Advance.
	OnMessageRetired(msg *Message)
}

// FlowRecorder observes finished flows.
type FlowRecorder interface {
	RecordFlow(rec FlowRecord)
}

// FlowEvent tells which side of a flow produced a FlowRecord.
type FlowEvent string

const (
	// FlowCompleted is recorded by the issuer when the completion timer
	// retires an inbound flow.
	FlowCompleted = FlowEvent("fct")

	// FlowRetired is recorded by the consumer when an outbound message is
	// fully retired.
	FlowRetired = FlowEvent("retired")
)

// FlowRecord describes one finished flow.
type FlowRecord struct {
	Event         FlowEvent
	Local         Addr
	Peer          Addr
	Msg           *Message
	Bytes         int64
	Start         time.Duration
	End           time.Duration
	CreditsWasted int
}

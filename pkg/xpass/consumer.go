package xpass

import (
	"fmt"
	"time"
)

// ConsumerState is the state of the credit consumer.
type ConsumerState uint8

// Consumer states.
const (
	ConsumerClosed ConsumerState = iota
	ConsumerCreditRequestSent
	ConsumerCreditReceiving
	ConsumerCreditStopSent
	ConsumerCloseWait
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerClosed:
		return "Closed"
	case ConsumerCreditRequestSent:
		return "CreditRequestSent"
	case ConsumerCreditReceiving:
		return "CreditReceiving"
	case ConsumerCreditStopSent:
		return "CreditStopSent"
	case ConsumerCloseWait:
		return "CloseWait"
	default:
		return fmt.Sprintf("ConsumerState(%d)", uint8(s))
	}
}

type consumer struct {
	state ConsumerState

	msg           *Message
	msgStart      time.Duration
	requestSentAt time.Duration

	// Early credit-stop window.
	windowStart       time.Duration
	creditsThisWindow int

	closeWaitWasted int // credits wasted since entering CloseWait
	msgWasted       int // credits wasted by the current message
	wastedTotal     int

	creditsReceived int
	lastCreditSeq   uint32
}

// ConsumerState returns the state of the credit consumer.
func (c *Conn) ConsumerState() ConsumerState { return c.cons.state }

// Advance arms bytes of msg for transmission and asks the peer for credit.
// The consumer must be Closed.
func (c *Conn) Advance(bytes int, msg *Message) {
	if c.cons.state != ConsumerClosed {
		c.violation("advance", "advance while consumer is %s", c.cons.state)
	}
	if bytes <= 0 {
		c.violation("advance", "advance of %d bytes", bytes)
	}
	c.curSeq += int64(bytes)
	c.cons.msg = msg
	c.cons.msgStart = c.now()
	c.cons.msgWasted = 0

	c.sendCreditRequest()
	c.schedule(TimerSenderRetransmit, c.cfg.RetransmitTimeout.Duration())
	c.cons.state = ConsumerCreditRequestSent
	c.log.Debugf("consumer -> %s (%d bytes)", c.cons.state, bytes)
}

func (c *Conn) remaining() int64 {
	return c.curSeq - c.tSeqno
}

func (c *Conn) packetsRemaining() int {
	return c.cfg.Segments(c.remaining())
}

func (c *Conn) sendCreditRequest() {
	p := c.newPacket(KindCreditRequest)
	p.Size = c.cfg.MinEthernetSize
	p.CreditSentAt = c.now()
	p.BufferHint = c.packetsRemaining()
	c.cons.requestSentAt = c.now()
	c.send(p)
}

// sendCreditStop emits CREDIT_STOP and waits two RTTs for late credits.
func (c *Conn) sendCreditStop() {
	p := c.newPacket(KindCreditStop)
	p.Size = c.cfg.MinEthernetSize
	c.send(p)
	c.reschedule(TimerSenderRetransmit, c.rtt.Or(2, c.cfg.DefaultCreditStopTimeout.Duration()))
}

func (c *Conn) sendData(credit *Packet) {
	n := c.remaining()
	if seg := int64(c.cfg.MaxSegment()); n > seg {
		n = seg
	}
	if n <= 0 {
		c.violation("data", "data segment of %d bytes", n)
	}
	p := c.newPacket(KindData)
	p.Size = c.cfg.FrameSize(int(n))
	p.CreditSeq = credit.CreditSeq
	p.CreditSentAt = credit.CreditSentAt
	p.Msg = c.cons.msg
	c.tSeqno += n
	c.send(p)
}

func (c *Conn) checkCreditSeq(seq uint32) {
	want := nextCreditSeq(c.cons.lastCreditSeq)
	if seq != want && c.cfg.Recovery == RecoveryNone {
		c.violation("credit", "credit sequence gap: got %d, expected %d", seq, want)
	}
	c.cons.lastCreditSeq = seq
}

func (c *Conn) wasteCredit() {
	c.cons.msgWasted++
	c.cons.wastedTotal++
}

func (c *Conn) onCredit(p *Packet) {
	c.checkCreditSeq(p.CreditSeq)
	c.cons.creditsReceived++
	c.cons.creditsThisWindow++

	switch c.cons.state {
	case ConsumerCreditRequestSent:
		c.cancel(TimerSenderRetransmit)
		c.rtt.Reset(c.now() - c.cons.requestSentAt)
		// The window count keeps credits seen before the request was answered.
		c.cons.windowStart = c.now()
		c.cons.state = ConsumerCreditReceiving
		c.log.Debugf("consumer -> %s (rtt %v)", c.cons.state, c.rtt.Value())
		fallthrough
	case ConsumerCreditReceiving:
		if c.remaining() > 0 {
			c.sendData(p)
		}
		if c.remaining() == 0 {
			c.armCreditStop()
		} else if c.now()-c.cons.windowStart >= c.rtt.Value() {
			if c.cons.creditsThisWindow >= c.packetsRemaining() {
				c.log.Debugf("early credit stop: %d credits in window, %d segments left",
					c.cons.creditsThisWindow, c.packetsRemaining())
				c.armCreditStop()
			}
			c.cons.creditsThisWindow = 0
			c.cons.windowStart = c.now()
		}
	case ConsumerCreditStopSent:
		if c.remaining() > 0 {
			c.sendData(p)
		} else {
			c.wasteCredit()
		}
	case ConsumerCloseWait:
		c.cons.closeWaitWasted++
		c.wasteCredit()
	case ConsumerClosed:
		c.cons.wastedTotal++
	}
}

func (c *Conn) onCreditStopTimer() {
	c.sendCreditStop()
	c.cons.state = ConsumerCreditStopSent
	c.log.Debugf("consumer -> %s", c.cons.state)
}

func (c *Conn) onSenderRetransmit() {
	switch c.cons.state {
	case ConsumerCreditRequestSent:
		c.sendCreditRequest()
		c.schedule(TimerSenderRetransmit, c.cfg.RetransmitTimeout.Duration())
	case ConsumerCreditStopSent:
		if c.remaining() > 0 {
			c.cons.state = ConsumerCreditRequestSent
			c.sendCreditRequest()
			c.schedule(TimerSenderRetransmit, c.cfg.RetransmitTimeout.Duration())
		} else {
			c.cons.state = ConsumerCloseWait
			c.cons.closeWaitWasted = 0
			c.schedule(TimerSenderRetransmit, c.rtt.Or(1, c.cfg.DefaultCreditStopTimeout.Duration()))
		}
		c.log.Debugf("consumer -> %s", c.cons.state)
	case ConsumerCloseWait:
		if c.cons.closeWaitWasted == 0 {
			c.retire()
			return
		}
		c.log.Debugf("%d credits wasted in close wait, resending credit stop", c.cons.closeWaitWasted)
		c.cons.closeWaitWasted = 0
		c.sendCreditStop()
	default:
		c.violation("sender-retransmit", "sender retransmit fired while consumer is %s", c.cons.state)
	}
}

// retire closes the consumer and hands the message back to the application.
func (c *Conn) retire() {
	c.cons.state = ConsumerClosed
	c.log.Debugf("consumer -> %s (%d credits wasted)", c.cons.state, c.cons.msgWasted)

	msg := c.cons.msg
	rec := FlowRecord{
		Event:         FlowRetired,
		Msg:           msg,
		Start:         c.cons.msgStart,
		End:           c.now(),
		CreditsWasted: c.cons.msgWasted,
	}
	if msg != nil {
		rec.Bytes = int64(msg.Bytes())
	}
	c.record(rec)
	c.app.OnMessageRetired(msg)
}

// onNack rewinds the send sequence to the peer's cumulative ack and asks for
// credit again if the consumer had already given up its credits.
func (c *Conn) onNack(p *Packet) {
	if c.cfg.Recovery != RecoveryNack {
		c.violation("nack", "nack for seq %d without loss recovery", p.Ack)
	}
	c.tSeqno = p.Ack
	switch c.cons.state {
	case ConsumerCreditStopSent, ConsumerCloseWait, ConsumerClosed:
		c.sendCreditRequest()
		c.cancel(TimerCreditStop)
		c.reschedule(TimerSenderRetransmit, c.cfg.RetransmitTimeout.Duration())
		c.cons.state = ConsumerCreditRequestSent
		c.log.Debugf("consumer -> %s after nack", c.cons.state)
	}
}

package xpass

import (
	"fmt"
	"time"
)

// IssuerState is the state of the credit issuer.
type IssuerState uint8

// Issuer states.
const (
	IssuerClosed IssuerState = iota
	IssuerCreditSending
	IssuerCloseWait
)

func (s IssuerState) String() string {
	switch s {
	case IssuerClosed:
		return "Closed"
	case IssuerCreditSending:
		return "CreditSending"
	case IssuerCloseWait:
		return "CloseWait"
	default:
		return fmt.Sprintf("IssuerState(%d)", uint8(s))
	}
}

type issuer struct {
	state IssuerState

	flowStart      time.Duration
	stoppedAt      time.Duration
	lastFCT        time.Duration
	lastMsg        *Message
	creditsIssued  int
	flowsCompleted int
}

// IssuerState returns the state of the credit issuer.
func (c *Conn) IssuerState() IssuerState { return c.iss.state }

// Rate returns the current credit rate in bytes per second.
func (c *Conn) Rate() float64 { return c.rate.Rate() }

func (c *Conn) onCreditRequest(p *Packet) {
	switch c.iss.state {
	case IssuerCloseWait:
		c.cancel(TimerFlowCompletion)
		if c.inboundPending() {
			// The peer stopped early or lost data and resumes the same
			// message, so the flow keeps its start time.
			c.startCredits(p)
			return
		}
		// The previous flow is done even though its completion timer has
		// not fired yet.
		c.completeFlow()
		c.iss.flowStart = p.CreditSentAt
		c.startCredits(p)
	case IssuerClosed:
		if !c.inboundPending() {
			c.iss.flowStart = p.CreditSentAt
		}
		c.startCredits(p)
	case IssuerCreditSending:
		// The requester retransmitted before our first credit reached it.
		c.log.Debugf("duplicate credit request ignored")
	}
}

func (c *Conn) startCredits(p *Packet) {
	c.rate.Start(c.now(), c.cfg.Alpha, p.BufferHint)
	c.iss.state = IssuerCreditSending
	c.log.Debugf("issuer -> %s (hint %d, rate %.0f B/s)", c.iss.state, p.BufferHint, c.rate.Rate())
	c.sendCredit()
}

func (c *Conn) onCreditStop(_ *Packet) {
	if c.iss.state != IssuerCreditSending {
		// A stop resent by the peer's close wait.
		c.log.Debugf("duplicate credit stop ignored in %s", c.iss.state)
		return
	}
	c.iss.stoppedAt = c.now()
	c.iss.lastFCT = c.iss.stoppedAt - c.iss.flowStart
	c.cancel(TimerCreditCadence)
	c.schedule(TimerFlowCompletion, c.cfg.DefaultCreditStopTimeout.Duration())
	c.iss.state = IssuerCloseWait
	c.log.Debugf("issuer -> %s (fct %v)", c.iss.state, c.iss.lastFCT)
}

func (c *Conn) onFlowCompletion() {
	c.iss.state = IssuerClosed
	c.log.Debugf("issuer -> %s", c.iss.state)
	if c.inboundPending() {
		// Stopped early. The flow completes once the peer resumes it.
		c.log.Debugf("inbound message incomplete (%d bytes), completion deferred", c.inbound.got)
		return
	}
	c.completeFlow()
}

// inboundPending reports whether a partially received message is waiting for
// more data.
func (c *Conn) inboundPending() bool {
	return c.inbound.msg != nil && !c.inbound.done
}

func (c *Conn) completeFlow() {
	c.iss.flowsCompleted++
	rec := FlowRecord{
		Event: FlowCompleted,
		Msg:   c.iss.lastMsg,
		Start: c.iss.flowStart,
		End:   c.iss.stoppedAt,
	}
	if c.iss.lastMsg != nil {
		rec.Bytes = int64(c.iss.lastMsg.Bytes())
	}
	c.record(rec)
}

func (c *Conn) onCreditCadence() {
	c.sendCredit()
}

// sendCredit runs the rate controller, emits one credit and arms the cadence
// timer for the next one.
func (c *Conn) sendCredit() {
	c.rate.Update(c.now(), c.rtt.Value())

	p := c.newPacket(KindCredit)
	size := c.creditSize()
	p.HeaderLen = size
	p.Size = size
	p.CreditSeq = c.cSeqno
	p.CreditSentAt = c.now()
	c.cSeqno = nextCreditSeq(c.cSeqno)
	c.iss.creditsIssued++
	c.send(p)

	rate := c.rate.Rate()
	if rate <= 0 {
		c.violation("credit", "credit rate %v is not positive", rate)
	}
	delay := c.cfg.AvgCreditSize() / rate
	if c.cfg.MaxJitter > c.cfg.MinJitter {
		jitter := c.cfg.MinJitter + c.rng.Float64()*(c.cfg.MaxJitter-c.cfg.MinJitter)
		delay *= 1 + jitter
	}
	c.reschedule(TimerCreditCadence, time.Duration(delay*float64(time.Second)))
}

func (c *Conn) creditSize() int {
	size := c.cfg.MinCreditSize
	if c.cfg.MaxCreditSize > c.cfg.MinCreditSize {
		size += c.rng.Intn(c.cfg.MaxCreditSize - c.cfg.MinCreditSize + 1)
	}
	return size
}

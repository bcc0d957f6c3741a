package xpass

import (
	"fmt"
	"time"
)

// ProtocolViolation is the panic value raised when a connection breaks one of
// its invariants, e.g. arming a pending timer or a sequence regression. It is
// never recovered inside this package.
type ProtocolViolation struct {
	Op       string
	Conn     ConnID
	Local    Addr
	Peer     Addr
	Issuer   IssuerState
	Consumer ConsumerState
	At       time.Duration
	Detail   string
}

func (v *ProtocolViolation) Error() string {
	return fmt.Sprintf("xpass: protocol violation in %s at %v (conn %d, %d->%d, issuer %s, consumer %s): %s",
		v.Op, v.At, v.Conn, v.Local, v.Peer, v.Issuer, v.Consumer, v.Detail)
}

func (c *Conn) violation(op, format string, args ...interface{}) {
	v := &ProtocolViolation{
		Op:       op,
		Conn:     c.id,
		Local:    c.local,
		Peer:     c.peer,
		Issuer:   c.iss.state,
		Consumer: c.cons.state,
		At:       c.sched.Now(),
		Detail:   fmt.Sprintf(format, args...),
	}
	c.log.Error(v.Error())
	panic(v)
}

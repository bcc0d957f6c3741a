package xpass

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of an xpass packet.
type Kind uint8

// Packet kinds.
const (
	KindCreditRequest Kind = iota
	KindCredit
	KindCreditStop
	KindData
	KindNack
)

func (k Kind) String() string {
	switch k {
	case KindCreditRequest:
		return "CREDIT_REQUEST"
	case KindCredit:
		return "CREDIT"
	case KindCreditStop:
		return "CREDIT_STOP"
	case KindData:
		return "DATA"
	case KindNack:
		return "NACK"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Packet is the logical form of every xpass packet. Only the fields relevant
// to Kind are set.
type Packet struct {
	Kind Kind
	Src  Addr
	Dst  Addr

	// Seq is the byte sequence of the first payload byte, Ack the next byte
	// the sender of the packet expects.
	Seq int64
	Ack int64

	// HeaderLen and Size are the header and frame lengths in bytes. Size
	// excludes the inter-frame gap, see Config.WireSize.
	HeaderLen int
	Size      int

	// CreditSeq is the sequence number of a credit, echoed in the data
	// segment that spends it. Zero for packets that carry no credit.
	CreditSeq uint32

	// CreditSentAt is the issue time of a credit (echoed by data) or the send
	// time of a credit request.
	CreditSentAt time.Duration

	// BufferHint is the number of segments the requester still has to send.
	BufferHint int

	// Msg describes the message a data segment belongs to.
	Msg *Message
}

// Payload returns the raw payload length carried by the frame.
func (p *Packet) Payload() int {
	return p.Size - p.HeaderLen
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s{%d->%d seq=%d ack=%d size=%d cseq=%d}",
		p.Kind, p.Src, p.Dst, p.Seq, p.Ack, p.Size, p.CreditSeq)
}

// Message describes one application message carried by a flow.
type Message struct {
	ID            uuid.UUID
	Source        Addr
	Target        Addr
	RequestLength int
	ReplyLength   int
	IsIncast      bool
	IsRequest     bool
	CreatedAt     time.Duration
}

// Bytes returns the number of bytes this message occupies on the wire
// direction it travels: the request length for requests, the reply length
// for replies.
func (m *Message) Bytes() int {
	if m.IsRequest {
		return m.RequestLength
	}
	return m.ReplyLength
}

// Reply returns the reply message travelling back from Target to Source.
func (m *Message) Reply(now time.Duration) *Message {
	r := *m
	r.Source, r.Target = m.Target, m.Source
	r.IsRequest = false
	r.CreatedAt = now
	return &r
}

// nextCreditSeq returns the credit sequence following seq. Zero is reserved
// for packets that carry no credit and is skipped on wrap-around.
func nextCreditSeq(seq uint32) uint32 {
	seq++
	if seq == 0 {
		seq = 1
	}
	return seq
}

// creditDistance returns how many credits lie between want and got using
// serial number arithmetic. Negative values mean got is older than want.
func creditDistance(got, want uint32) int {
	d := int(int32(got - want))
	// The wrap-around skips zero.
	switch {
	case d > 0 && got < want:
		d--
	case d < 0 && got > want:
		d++
	}
	return d
}

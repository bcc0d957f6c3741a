package xpass

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(bytes int) *Message {
	return &Message{
		ID:            uuid.New(),
		Source:        1,
		Target:        2,
		RequestLength: bytes,
		ReplyLength:   64,
		IsRequest:     true,
	}
}

// startFlow advances a 1000 byte message and spends the first credit on it.
func startFlow(t *testing.T, tc *testConn) *Message {
	t.Helper()

	msg := testMessage(1000)
	tc.Advance(1000, msg)
	tc.sent.take()

	tc.clock.now = 10 * time.Microsecond
	tc.credit(5 * time.Microsecond)
	return msg
}

func TestConn_Advance(t *testing.T) {
	tc := newTestConn(t, testConfig())

	msg := testMessage(1000)
	tc.Advance(1000, msg)

	assert.Equal(t, ConsumerCreditRequestSent, tc.ConsumerState())
	pkts := tc.sent.take()
	require.Len(t, pkts, 1)
	req := pkts[0]
	assert.Equal(t, KindCreditRequest, req.Kind)
	assert.Equal(t, 1, req.BufferHint)
	assert.Equal(t, 84, req.Size)
	assert.True(t, tc.Pending(TimerSenderRetransmit))
	assert.Equal(t, 10*time.Millisecond, tc.clock.pending[TimerID{Conn: tc.ID(), Kind: TimerSenderRetransmit}])

	tc.clock.now = 10 * time.Microsecond
	tc.credit(5 * time.Microsecond)

	assert.Equal(t, ConsumerCreditReceiving, tc.ConsumerState())
	assert.Equal(t, 10*time.Microsecond, tc.rtt.Value())
	assert.False(t, tc.Pending(TimerSenderRetransmit))

	pkts = tc.sent.take()
	require.Len(t, pkts, 1)
	data := pkts[0]
	assert.Equal(t, KindData, data.Kind)
	assert.Equal(t, uint32(1), data.CreditSeq)
	assert.Equal(t, 5*time.Microsecond, data.CreditSentAt)
	assert.True(t, data.Payload() <= tc.cfg.MaxSegment())
	assert.Equal(t, 1000, data.Payload())
	assert.Equal(t, msg, data.Msg)

	// Nothing left, so a credit-stop goes out right away.
	assert.True(t, tc.Pending(TimerCreditStop))
}

func TestConn_AdvanceLargeMessage(t *testing.T) {
	tc := newTestConn(t, testConfig())

	tc.Advance(100000, testMessage(100000))
	pkts := tc.sent.take()
	require.Len(t, pkts, 1)
	assert.Equal(t, 69, pkts[0].BufferHint)

	tc.clock.now = 10 * time.Microsecond
	for i := 0; i < 3; i++ {
		tc.credit(0)
	}
	pkts = tc.sent.take()
	require.Len(t, pkts, 3)
	for i, p := range pkts {
		assert.Equal(t, KindData, p.Kind)
		assert.Equal(t, int64(i*1460), p.Seq)
		assert.Equal(t, 1538, p.Size)
	}
	assert.False(t, tc.Pending(TimerCreditStop))
}

func TestConn_AdvanceMisuse(t *testing.T) {
	t.Run("zero bytes", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		v := requireViolation(t, func() { tc.Advance(0, testMessage(0)) })
		assert.Equal(t, "advance", v.Op)
	})

	t.Run("not closed", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		tc.Advance(10, testMessage(10))
		v := requireViolation(t, func() { tc.Advance(10, testMessage(10)) })
		assert.Equal(t, ConsumerCreditRequestSent, v.Consumer)
	})
}

func TestConn_CreditStop(t *testing.T) {
	tc := newTestConn(t, testConfig())
	startFlow(t, tc)
	tc.sent.take()

	// A second credit-stop while the first is armed is fatal.
	requireViolation(t, tc.armCreditStop)

	tc.fire(t, TimerCreditStop)
	pkts := tc.sent.take()
	require.Len(t, pkts, 1)
	assert.Equal(t, KindCreditStop, pkts[0].Kind)
	assert.Equal(t, ConsumerCreditStopSent, tc.ConsumerState())
	assert.True(t, tc.Pending(TimerSenderRetransmit))
	assert.Equal(t, tc.clock.now+20*time.Microsecond,
		tc.clock.pending[TimerID{Conn: tc.ID(), Kind: TimerSenderRetransmit}])

	// So is arming it while the sender retransmit timer runs.
	requireViolation(t, tc.armCreditStop)
}

func TestConn_CloseWithoutWaste(t *testing.T) {
	tc := newTestConn(t, testConfig())
	msg := startFlow(t, tc)
	tc.fire(t, TimerCreditStop)
	tc.sent.take()

	tc.fire(t, TimerSenderRetransmit)
	assert.Equal(t, ConsumerCloseWait, tc.ConsumerState())
	tc.fire(t, TimerSenderRetransmit)
	assert.Equal(t, ConsumerClosed, tc.ConsumerState())

	assert.Empty(t, tc.sent.take())
	assert.False(t, tc.anyPending())
	require.Len(t, tc.app.retired, 1)
	assert.Equal(t, msg, tc.app.retired[0])

	require.Len(t, *tc.flows, 1)
	rec := (*tc.flows)[0]
	assert.Equal(t, FlowRetired, rec.Event)
	assert.Equal(t, int64(1000), rec.Bytes)
	assert.Equal(t, 0, rec.CreditsWasted)

	// A new message may be armed once Closed.
	tc.Advance(10, testMessage(10))
	assert.Equal(t, ConsumerCreditRequestSent, tc.ConsumerState())
}

func TestConn_CloseWaitWaste(t *testing.T) {
	tc := newTestConn(t, testConfig())
	startFlow(t, tc)
	tc.fire(t, TimerCreditStop)

	// Late credit in CreditStopSent with nothing left to send.
	tc.credit(0)
	tc.fire(t, TimerSenderRetransmit)
	require.Equal(t, ConsumerCloseWait, tc.ConsumerState())
	tc.sent.take()

	tc.credit(0)
	tc.fire(t, TimerSenderRetransmit)
	pkts := tc.sent.take()
	require.Len(t, pkts, 1)
	assert.Equal(t, KindCreditStop, pkts[0].Kind)
	assert.Equal(t, ConsumerCloseWait, tc.ConsumerState())

	tc.fire(t, TimerSenderRetransmit)
	assert.Equal(t, ConsumerClosed, tc.ConsumerState())
	require.Len(t, *tc.flows, 1)
	assert.Equal(t, 2, (*tc.flows)[0].CreditsWasted)

	// Credits reaching a closed consumer are still counted.
	tc.credit(0)
	assert.Equal(t, 3, tc.Stats().CreditsWasted)
	assert.Equal(t, ConsumerClosed, tc.ConsumerState())
}

func TestConn_EarlyCreditStop(t *testing.T) {
	tc := newTestConn(t, testConfig())
	tc.Advance(5*1460, testMessage(5*1460))
	tc.clock.now = 10 * time.Microsecond
	tc.credit(0) // rtt = 10us, window opens

	tc.clock.now = 12 * time.Microsecond
	tc.credit(0)
	tc.credit(0)
	assert.False(t, tc.Pending(TimerCreditStop))

	// One RTT after the window opened four credits were seen and one
	// segment remains.
	tc.clock.now = 20 * time.Microsecond
	tc.credit(0)
	assert.True(t, tc.Pending(TimerCreditStop))
	assert.Equal(t, int64(1460), tc.remaining())

	tc.fire(t, TimerCreditStop)
	assert.Equal(t, ConsumerCreditStopSent, tc.ConsumerState())

	// In-flight credits finish the message.
	tc.credit(0)
	assert.Equal(t, int64(0), tc.remaining())
}

func TestConn_EarlyCreditStopCountsStrayCredits(t *testing.T) {
	tc := newTestConn(t, testConfig())
	tc.credit(0)
	tc.credit(0)
	require.Equal(t, ConsumerClosed, tc.ConsumerState())

	tc.Advance(5*1460, testMessage(5*1460))
	tc.clock.now = 10 * time.Microsecond
	tc.credit(0) // rtt = 10us, window opens
	assert.False(t, tc.Pending(TimerCreditStop))

	// Four credits counted against three segments left.
	tc.clock.now = 20 * time.Microsecond
	tc.credit(0)
	assert.True(t, tc.Pending(TimerCreditStop))
	assert.Equal(t, int64(3*1460), tc.remaining())
}

func TestConn_CreditStopSentWithBytesLeft(t *testing.T) {
	tc := newTestConn(t, testConfig())
	tc.Advance(5*1460, testMessage(5*1460))
	tc.clock.now = 10 * time.Microsecond
	tc.credit(0)
	tc.clock.now = 15 * time.Microsecond
	tc.credit(0)
	tc.credit(0)
	tc.clock.now = 20 * time.Microsecond
	tc.credit(0)
	require.True(t, tc.Pending(TimerCreditStop))
	tc.fire(t, TimerCreditStop)
	tc.sent.take()

	tc.fire(t, TimerSenderRetransmit)
	assert.Equal(t, ConsumerCreditRequestSent, tc.ConsumerState())
	pkts := tc.sent.take()
	require.Len(t, pkts, 1)
	assert.Equal(t, KindCreditRequest, pkts[0].Kind)
	assert.Equal(t, 1, pkts[0].BufferHint)
}

func TestConn_SenderRetransmit(t *testing.T) {
	t.Run("request resent", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		tc.Advance(10, testMessage(10))
		tc.sent.take()

		tc.fire(t, TimerSenderRetransmit)
		assert.Equal(t, []Kind{KindCreditRequest}, kinds(tc.sent.take()))
		assert.Equal(t, ConsumerCreditRequestSent, tc.ConsumerState())
		assert.True(t, tc.Pending(TimerSenderRetransmit))
	})

	t.Run("closed", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		tc.pending[TimerSenderRetransmit] = true
		v := requireViolation(t, func() { tc.Fire(TimerSenderRetransmit) })
		assert.Equal(t, ConsumerClosed, v.Consumer)
	})
}

func TestConn_CreditSequence(t *testing.T) {
	t.Run("gap is fatal without recovery", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		tc.Advance(100000, testMessage(100000))
		tc.credit(0)
		tc.credits++
		requireViolation(t, func() { tc.credit(0) })
	})

	t.Run("gap tolerated with nack recovery", func(t *testing.T) {
		cfg := testConfig()
		cfg.Recovery = RecoveryNack
		tc := newTestConn(t, cfg)
		tc.Advance(100000, testMessage(100000))
		tc.credit(0)
		tc.credits++
		tc.credit(0)
		assert.Equal(t, 2, tc.Stats().CreditsReceived)
	})

	t.Run("wrap skips zero", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		tc.cons.lastCreditSeq = ^uint32(0)
		tc.credits = ^uint32(0)
		tc.credit(0)
		assert.Equal(t, uint32(1), tc.cons.lastCreditSeq)
	})
}

func TestConn_Nack(t *testing.T) {
	t.Run("fatal without recovery", func(t *testing.T) {
		tc := newTestConn(t, testConfig())
		requireViolation(t, func() { tc.Receive(&Packet{Kind: KindNack, Ack: 0}) })
	})

	t.Run("rewinds after credit stop", func(t *testing.T) {
		cfg := testConfig()
		cfg.Recovery = RecoveryNack
		tc := newTestConn(t, cfg)
		startFlow(t, tc)
		tc.fire(t, TimerCreditStop)
		tc.sent.take()

		tc.Receive(&Packet{Kind: KindNack, Ack: 0})
		assert.Equal(t, ConsumerCreditRequestSent, tc.ConsumerState())
		assert.Equal(t, int64(1000), tc.remaining())
		pkts := tc.sent.take()
		require.Len(t, pkts, 1)
		assert.Equal(t, KindCreditRequest, pkts[0].Kind)
		assert.True(t, tc.Pending(TimerSenderRetransmit))
	})

	t.Run("rewinds while receiving", func(t *testing.T) {
		cfg := testConfig()
		cfg.Recovery = RecoveryNack
		tc := newTestConn(t, cfg)
		tc.Advance(3*1460, testMessage(3*1460))
		tc.credit(0)
		tc.credit(0)
		require.Equal(t, int64(1460), tc.remaining())

		tc.Receive(&Packet{Kind: KindNack, Ack: 1460})
		assert.Equal(t, ConsumerCreditReceiving, tc.ConsumerState())
		assert.Equal(t, int64(2*1460), tc.remaining())
	})
}

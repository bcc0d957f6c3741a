package node

import (
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/sim"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/workload"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

type appLog struct {
	received []*xpass.Message
	bytes    []int
	retired  []*xpass.Message
}

func (a *appLog) OnMessageReceived(bytes int, msg *xpass.Message) {
	a.received = append(a.received, msg)
	a.bytes = append(a.bytes, bytes)
}

func (a *appLog) OnMessageRetired(msg *xpass.Message) {
	a.retired = append(a.retired, msg)
}

type flowLog []xpass.FlowRecord

func (l *flowLog) RecordFlow(rec xpass.FlowRecord) { *l = append(*l, rec) }

type testNet struct {
	sched *sim.Scheduler
	net   *sim.Network
	arena *Arena
	ctx   *workload.Context
	nodes map[xpass.Addr]*Node
	apps  map[xpass.Addr]*appLog
	flows flowLog
}

func newTestNet(t *testing.T, addrs ...xpass.Addr) *testNet {
	return newBoundedTestNet(t, 0, addrs...)
}

// newBoundedTestNet builds a network whose arena holds at most capacity
// connections and reclaims idle pairs when full.
func newBoundedTestNet(t *testing.T, capacity int, addrs ...xpass.Addr) *testNet {
	params := xpass.DefaultConfig()

	tn := &testNet{
		arena: NewArena(capacity),
		ctx:   workload.NewContext(1),
		nodes: make(map[xpass.Addr]*Node),
		apps:  make(map[xpass.Addr]*appLog),
	}
	tn.sched = sim.NewScheduler(tn.arena.Fire)

	var err error
	tn.net, err = sim.NewNetwork(tn.sched, params, sim.LinkConfig{Bandwidth: 10e9, Delay: time.Microsecond})
	require.NoError(t, err)

	for _, addr := range addrs {
		app := new(appLog)
		n, err := NewNode(Config{
			Addr:     addr,
			Params:   params,
			Sched:    tn.sched,
			Sink:     tn.net,
			Arena:    tn.arena,
			Context:  tn.ctx,
			App:      app,
			Recorder: &tn.flows,
			Reclaim:  tn.reclaim,
		})
		require.NoError(t, err)
		require.NoError(t, tn.net.Attach(addr, n))
		tn.nodes[addr] = n
		tn.apps[addr] = app
	}
	return tn
}

func (tn *testNet) reclaim() int {
	n := 0
	for _, a := range tn.nodes {
		for _, b := range tn.nodes {
			if a.Addr() < b.Addr() && a.Reap(b) {
				n++
			}
		}
	}
	return n
}

func (tn *testNet) message(src, dst xpass.Addr, n uint64, size int) *xpass.Message {
	return &xpass.Message{
		ID:            tn.ctx.MessageID(src, dst, n),
		Source:        src,
		Target:        dst,
		RequestLength: size,
		IsRequest:     true,
		CreatedAt:     tn.sched.Now(),
	}
}

func TestNode_Send(t *testing.T) {
	tn := newTestNet(t, 1, 2)
	a, b := tn.nodes[1], tn.nodes[2]

	msg := tn.message(1, 2, 0, 5000)
	require.NoError(t, a.Send(2, 5000, msg))

	err := a.Send(2, 100, tn.message(1, 2, 1, 100))
	require.Error(t, err)
	assert.Equal(t, ErrConnBusy, errors.Cause(err))

	_, ok := b.Conn(1)
	assert.False(t, ok, "receiver opens its connection on the credit request")

	tn.sched.RunUntil(50 * time.Millisecond)

	require.Len(t, tn.apps[2].received, 1)
	assert.Equal(t, msg.ID, tn.apps[2].received[0].ID)
	assert.Equal(t, 5000, tn.apps[2].bytes[0])
	require.Len(t, tn.apps[1].retired, 1)
	assert.Equal(t, msg.ID, tn.apps[1].retired[0].ID)

	var events []xpass.FlowEvent
	for _, f := range tn.flows {
		events = append(events, f.Event)
	}
	assert.ElementsMatch(t, []xpass.FlowEvent{xpass.FlowCompleted, xpass.FlowRetired}, events)

	ca, ok := a.Conn(2)
	require.True(t, ok)
	cb, ok := b.Conn(1)
	require.True(t, ok)
	assert.True(t, ca.Idle())
	assert.True(t, cb.Idle())
	assert.Equal(t, int64(5000), a.Stats().BytesSent)
	assert.Equal(t, int64(5000), b.Stats().BytesReceived)
	assert.Equal(t, 1, b.Stats().FlowsCompleted)
	assert.Equal(t, 0, tn.sched.Pending())

	// The connection is reused for the next message.
	require.NoError(t, a.Send(2, 100, tn.message(1, 2, 1, 100)))
	tn.sched.RunUntil(100 * time.Millisecond)
	assert.Len(t, tn.apps[2].received, 2)
	assert.Equal(t, 2, tn.arena.Len())
}

func TestNode_Reap(t *testing.T) {
	tn := newTestNet(t, 1, 2)
	a, b := tn.nodes[1], tn.nodes[2]

	assert.False(t, a.Reap(b), "no connections yet")
	require.NoError(t, a.Send(2, 5000, tn.message(1, 2, 0, 5000)))
	assert.False(t, a.Reap(b), "busy pairs are kept")

	tn.sched.RunUntil(50 * time.Millisecond)
	require.Len(t, tn.apps[2].received, 1)
	assert.True(t, a.Reap(b))
	assert.False(t, b.Reap(a))
	assert.Equal(t, 0, tn.arena.Len())
	assert.Empty(t, a.Conns())
	assert.Empty(t, b.Conns())

	// Both ends start over, so the next flow of the pair runs cleanly.
	require.NoError(t, a.Send(2, 5000, tn.message(1, 2, 1, 5000)))
	tn.sched.RunUntil(100 * time.Millisecond)
	require.Len(t, tn.apps[2].received, 2)
	assert.Equal(t, 5000, tn.apps[2].bytes[1])
	require.Len(t, tn.apps[1].retired, 2)
	assert.Equal(t, 2, b.Stats().FlowsCompleted, "released connections keep counting")
	assert.Equal(t, int64(10000), b.Stats().BytesReceived)
	assert.Len(t, tn.flows, 4)
}

func TestNode_Reclaim(t *testing.T) {
	t.Run("idle pair released", func(t *testing.T) {
		tn := newBoundedTestNet(t, 2, 1, 2, 3)
		a := tn.nodes[1]

		require.NoError(t, a.Send(2, 5000, tn.message(1, 2, 0, 5000)))
		tn.sched.RunUntil(50 * time.Millisecond)
		require.Equal(t, 2, tn.arena.Len())

		require.NoError(t, a.Send(3, 5000, tn.message(1, 3, 0, 5000)))
		tn.sched.RunUntil(100 * time.Millisecond)

		require.Len(t, tn.apps[3].received, 1)
		_, ok := a.Conn(2)
		assert.False(t, ok)
		_, ok = a.Conn(3)
		assert.True(t, ok)
		assert.Equal(t, 2, tn.arena.Len())
	})

	t.Run("busy pair kept", func(t *testing.T) {
		tn := newBoundedTestNet(t, 1, 1, 2, 3)
		a := tn.nodes[1]

		require.NoError(t, a.Send(2, 5000, tn.message(1, 2, 0, 5000)))
		err := a.Send(3, 5000, tn.message(1, 3, 0, 5000))
		require.Error(t, err)
		assert.Equal(t, ErrNoConnSlot, errors.Cause(err))
		_, ok := a.Conn(2)
		assert.True(t, ok)
	})
}

func TestNode_Deliver(t *testing.T) {
	tn := newTestNet(t, 1, 2)
	b := tn.nodes[2]

	err := b.Deliver(&xpass.Packet{Kind: xpass.KindCredit, Src: 1, Dst: 2, CreditSeq: 1})
	require.Error(t, err)
	assert.Equal(t, ErrNoConn, errors.Cause(err))

	err = b.Deliver(&xpass.Packet{Kind: xpass.KindCreditRequest, Src: 1, Dst: 3})
	require.Error(t, err)
	assert.Equal(t, ErrWrongHost, errors.Cause(err))

	b.Receive(&xpass.Packet{Kind: xpass.KindData, Src: 1, Dst: 2})
	assert.Equal(t, 1, b.Unknown())

	p := &xpass.Packet{Kind: xpass.KindCreditRequest, Src: 1, Dst: 2, Size: 84, HeaderLen: 78, BufferHint: 1}
	require.NoError(t, b.Deliver(p))
	c, ok := b.Conn(1)
	require.True(t, ok)
	assert.Equal(t, xpass.IssuerCreditSending, c.IssuerState())
	assert.Len(t, b.Conns(), 1)

	_, err = b.Dial(2)
	assert.Error(t, err)
	require.NoError(t, b.Close())
	assert.Equal(t, 0, tn.arena.Len())
}

func TestNode_Incast(t *testing.T) {
	tn := newTestNet(t, 1, 2, 3, 4, 5)
	for src := xpass.Addr(2); src <= 5; src++ {
		require.NoError(t, tn.nodes[src].Send(1, 20000, tn.message(src, 1, 0, 20000)))
	}
	tn.sched.RunUntil(100 * time.Millisecond)

	assert.Len(t, tn.apps[1].received, 4)
	assert.Len(t, tn.nodes[1].Conns(), 4)
	assert.Equal(t, int64(80000), tn.nodes[1].Stats().BytesReceived)
	assert.Equal(t, 4, tn.nodes[1].Stats().FlowsCompleted)
}

func TestNewNode(t *testing.T) {
	_, err := NewNode(Config{Addr: 1, Params: xpass.DefaultConfig()})
	assert.Error(t, err)

	params := xpass.DefaultConfig()
	params.Alpha = 0
	_, err = NewNode(Config{Addr: 1, Params: params})
	require.Error(t, err)
	assert.Equal(t, xpass.ErrInvalidConfig, errors.Cause(err))
}

func TestArena(t *testing.T) {
	a := NewArena(2)

	id1, free1, err := a.Reserve()
	require.NoError(t, err)
	id2, free2, err := a.Reserve()
	require.NoError(t, err)
	assert.Equal(t, xpass.ConnID(1), id1)
	assert.Equal(t, xpass.ConnID(2), id2)

	_, _, err = a.Reserve()
	assert.Equal(t, ErrNoConnSlot, err)

	_, ok := a.Get(id1)
	assert.False(t, ok, "reserved slots hold no connection")

	free1()
	id3, _, err := a.Reserve()
	require.NoError(t, err)
	assert.Equal(t, id1, id3, "freed slot is reused after wrap")

	assert.Error(t, a.Set(7, nil))

	c := &xpass.Conn{}
	require.NoError(t, a.Set(id2, c))
	assert.Error(t, a.Set(id2, c))
	got, ok := a.Get(id2)
	require.True(t, ok)
	assert.True(t, got == c)

	free2()
	_, ok = a.Get(id2)
	assert.False(t, ok)
	assert.Equal(t, 1, a.Len())

	// Timers of unknown connections are dropped.
	a.Fire(xpass.TimerID{Conn: 42, Kind: xpass.TimerCreditCadence})
}

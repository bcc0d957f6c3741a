package sim

import (
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestScheduler_Order(t *testing.T) {
	var fired []string
	s := NewScheduler(func(id xpass.TimerID) {
		fired = append(fired, id.Kind.String())
	})

	s.After(2*time.Microsecond, func() { fired = append(fired, "b") })
	s.After(time.Microsecond, func() { fired = append(fired, "a") })
	s.After(2*time.Microsecond, func() { fired = append(fired, "c") })
	s.Schedule(2*time.Microsecond, xpass.TimerID{Conn: 1, Kind: xpass.TimerCreditCadence})

	assert.Equal(t, 4, s.Pending())
	assert.Equal(t, 4, s.Run())
	assert.Equal(t, []string{"a", "b", "c", "credit-cadence"}, fired)
	assert.Equal(t, 2*time.Microsecond, s.Now())
	assert.Equal(t, 4, s.Executed())
}

func TestScheduler_Cancel(t *testing.T) {
	var fired []xpass.TimerID
	s := NewScheduler(func(id xpass.TimerID) { fired = append(fired, id) })

	a := xpass.TimerID{Conn: 1, Kind: xpass.TimerSenderRetransmit}
	b := xpass.TimerID{Conn: 2, Kind: xpass.TimerSenderRetransmit}
	s.Schedule(time.Millisecond, a)
	s.Schedule(time.Millisecond, b)
	assert.True(t, s.Armed(a))

	s.Cancel(a)
	s.Cancel(a)
	assert.False(t, s.Armed(a))
	assert.Equal(t, 1, s.Pending())

	s.Run()
	assert.Equal(t, []xpass.TimerID{b}, fired)
	assert.False(t, s.Armed(b))

	// Moving an armed timer keeps a single instance.
	s.Schedule(time.Millisecond, a)
	s.Schedule(3*time.Millisecond, a)
	assert.Equal(t, 1, s.Pending())
	s.Run()
	assert.Equal(t, 4*time.Millisecond, s.Now())
}

func TestScheduler_RunUntil(t *testing.T) {
	s := NewScheduler(nil)
	count := 0
	var tick func()
	tick = func() {
		count++
		s.After(time.Microsecond, tick)
	}
	s.After(0, tick)

	n := s.RunUntil(10 * time.Microsecond)
	assert.Equal(t, 11, n)
	assert.Equal(t, 11, count)
	assert.Equal(t, 10*time.Microsecond, s.Now())
	assert.Equal(t, 1, s.Pending())

	// The clock moves to the deadline even without events.
	empty := NewScheduler(nil)
	assert.Zero(t, empty.RunUntil(time.Second))
	assert.Equal(t, time.Second, empty.Now())
}

type inbox struct {
	sched *Scheduler
	got   []*xpass.Packet
	at    []time.Duration
}

func (i *inbox) Receive(p *xpass.Packet) {
	i.got = append(i.got, p)
	i.at = append(i.at, i.sched.Now())
}

func newTestNetwork(t *testing.T) (*Network, *Scheduler, map[xpass.Addr]*inbox) {
	t.Helper()

	s := NewScheduler(nil)
	params := xpass.DefaultConfig()
	n, err := NewNetwork(s, params, LinkConfig{Bandwidth: 10e9, Delay: time.Microsecond})
	require.NoError(t, err)

	boxes := make(map[xpass.Addr]*inbox)
	for _, addr := range []xpass.Addr{1, 2, 3} {
		boxes[addr] = &inbox{sched: s}
		require.NoError(t, n.Attach(addr, boxes[addr]))
	}
	return n, s, boxes
}

func TestNetwork_Delivery(t *testing.T) {
	n, s, boxes := newTestNetwork(t)

	// 1250 bytes take 1us on a 10Gbps link.
	p := &xpass.Packet{Kind: xpass.KindData, Src: 1, Dst: 2, Size: 1250}
	require.NoError(t, n.Transmit(p))
	s.Run()

	require.Len(t, boxes[2].got, 1)
	assert.Equal(t, p, boxes[2].got[0])
	assert.Equal(t, 4*time.Microsecond, boxes[2].at[0])

	stats := n.Stats()
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, int64(1250), stats.Bytes)
	assert.Equal(t, 1, stats.ByKind[xpass.KindData])
}

func TestNetwork_FIFO(t *testing.T) {
	n, s, boxes := newTestNetwork(t)

	for i := 0; i < 10; i++ {
		size := 84
		if i%2 == 0 {
			size = 1538
		}
		n.Send(&xpass.Packet{Kind: xpass.KindData, Src: 1, Dst: 2, Seq: int64(i), Size: size})
	}
	// Competing traffic for the same downlink.
	for i := 0; i < 5; i++ {
		n.Send(&xpass.Packet{Kind: xpass.KindData, Src: 3, Dst: 2, Seq: int64(100 + i), Size: 1538})
	}
	s.Run()

	var fromOne []int64
	for _, p := range boxes[2].got {
		if p.Src == 1 {
			fromOne = append(fromOne, p.Seq)
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, fromOne)
	assert.Len(t, boxes[2].got, 15)
	for i := 1; i < len(boxes[2].at); i++ {
		assert.True(t, boxes[2].at[i] > boxes[2].at[i-1], "downlink serializes frames")
	}
}

func TestNetwork_Errors(t *testing.T) {
	n, _, boxes := newTestNetwork(t)

	err := n.Transmit(&xpass.Packet{Src: 1, Dst: 9})
	assert.Equal(t, ErrNoRoute, errors.Cause(err))
	err = n.Transmit(&xpass.Packet{Src: 9, Dst: 1})
	assert.Equal(t, ErrNoRoute, errors.Cause(err))
	assert.Equal(t, 2, n.Stats().Dropped)
	assert.Equal(t, 2, n.Stats().Unroutable)

	err = n.Attach(1, boxes[1])
	assert.Equal(t, ErrHostExists, errors.Cause(err))

	_, err = NewNetwork(NewScheduler(nil), xpass.DefaultConfig(), LinkConfig{})
	assert.Error(t, err)
}

func TestNetwork_Filter(t *testing.T) {
	n, s, boxes := newTestNetwork(t)
	n.SetFilter(func(p *xpass.Packet) bool { return p.Seq != 1 })

	for i := 0; i < 3; i++ {
		n.Send(&xpass.Packet{Kind: xpass.KindData, Src: 1, Dst: 2, Seq: int64(i), Size: 84})
	}
	s.Run()

	require.Len(t, boxes[2].got, 2)
	assert.Equal(t, int64(2), boxes[2].got[1].Seq)
	assert.Equal(t, 1, n.Stats().Dropped)
	assert.Equal(t, 0, n.Stats().Unroutable)
}

func TestNetwork_BaseRTT(t *testing.T) {
	n, _, _ := newTestNetwork(t)
	bw := 10e9
	small := time.Duration(84 * 8 / bw * float64(time.Second))
	large := time.Duration(1538 * 8 / bw * float64(time.Second))
	assert.Equal(t, 2*small+2*large+4*time.Microsecond, n.BaseRTT())
}

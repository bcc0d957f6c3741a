package node

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var (
	// ErrNoConnSlot is returned when every arena slot is reserved.
	ErrNoConnSlot = errors.New("no free connection slot")

	errNotReserved = errors.New("id is not reserved")
	errSlotTaken   = errors.New("connection already set")
)

// Arena owns the connections of a simulation and hands out the ConnIDs that
// timers carry. A fired timer finds its connection here, so connections
// never need a back-pointer from the scheduler. Zero is never handed out.
type Arena struct {
	conns map[xpass.ConnID]*xpass.Conn
	mx    sync.RWMutex
	lstID xpass.ConnID
	max   xpass.ConnID
}

// NewArena returns an arena of capacity slots. Zero means as many as ConnID
// can address.
func NewArena(capacity int) *Arena {
	max := xpass.ConnID(math.MaxUint32)
	if capacity > 0 && uint64(capacity) < math.MaxUint32 {
		max = xpass.ConnID(capacity)
	}
	return &Arena{
		conns: make(map[xpass.ConnID]*xpass.Conn),
		max:   max,
	}
}

// Reserve reserves the next free slot and returns its id together with a
// function releasing it.
func (a *Arena) Reserve() (xpass.ConnID, func(), error) {
	a.mx.Lock()
	defer a.mx.Unlock()

	if len(a.conns) >= int(a.max) {
		return 0, nil, ErrNoConnSlot
	}

	id := a.lstID
	for {
		if id >= a.max {
			id = 1
		} else {
			id++
		}
		if _, ok := a.conns[id]; !ok {
			break
		}
	}

	a.conns[id] = nil
	a.lstID = id
	return id, a.freeFunc(id), nil
}

// Set stores c in the reserved slot id.
func (a *Arena) Set(id xpass.ConnID, c *xpass.Conn) error {
	a.mx.Lock()
	defer a.mx.Unlock()

	cur, ok := a.conns[id]
	if !ok {
		return errors.Wrapf(errNotReserved, "conn %d", id)
	}
	if cur != nil {
		return errors.Wrapf(errSlotTaken, "conn %d", id)
	}
	a.conns[id] = c
	return nil
}

// Get returns the connection stored at id.
func (a *Arena) Get(id xpass.ConnID) (*xpass.Conn, bool) {
	a.mx.RLock()
	c := a.conns[id]
	a.mx.RUnlock()
	return c, c != nil
}

// Len returns the number of reserved slots.
func (a *Arena) Len() int {
	a.mx.RLock()
	defer a.mx.RUnlock()
	return len(a.conns)
}

// Fire delivers a timer fired by the scheduler to its connection. It is the
// scheduler's sim.TimerFunc.
func (a *Arena) Fire(id xpass.TimerID) {
	c, ok := a.Get(id.Conn)
	if !ok {
		log.Warnf("timer %s fired for unknown conn %d", id.Kind, id.Conn)
		return
	}
	c.Fire(id.Kind)
}

func (a *Arena) freeFunc(id xpass.ConnID) func() {
	return func() {
		a.mx.Lock()
		delete(a.conns, id)
		a.mx.Unlock()
	}
}

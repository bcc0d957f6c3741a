package simulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/node"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

// AppStats counts the messages of one host.
type AppStats struct {
	RequestsSent     int           `json:"requests_sent"`
	RequestsReceived int           `json:"requests_received"`
	RepliesSent      int           `json:"replies_sent"`
	RepliesReceived  int           `json:"replies_received"`
	Queued           int           `json:"queued"`    // Messages that waited for a busy connection.
	MaxQueue         int           `json:"max_queue"` // Longest per-peer queue seen.
	TotalLatency     time.Duration `json:"total_rpc"` // Sum of request to reply times.
	MaxLatency       time.Duration `json:"max_rpc"`
}

// App is the request/reply application of a host. A host serving requests
// answers every request that asks for a reply as soon as the request is
// fully received. Messages to a peer whose connection is busy wait in a FIFO
// queue until the connection retires its message.
type App struct {
	addr   xpass.Addr
	sched  xpass.Scheduler
	node   *node.Node
	logger *logging.Logger

	queues      map[xpass.Addr][]*xpass.Message
	outstanding map[uuid.UUID]time.Duration
	stats       AppStats
}

// NewApp returns the application of host addr. Bind must be called before
// the app sends.
func NewApp(addr xpass.Addr, sched xpass.Scheduler, logger *logging.Logger) *App {
	return &App{
		addr:        addr,
		sched:       sched,
		logger:      logger,
		queues:      make(map[xpass.Addr][]*xpass.Message),
		outstanding: make(map[uuid.UUID]time.Duration),
	}
}

// Bind attaches the node the app sends through.
func (a *App) Bind(n *node.Node) { a.node = n }

// Request sends a request message.
func (a *App) Request(msg *xpass.Message) error {
	if msg.ReplyLength > 0 {
		a.outstanding[msg.ID] = msg.CreatedAt
	}
	a.stats.RequestsSent++
	return a.send(msg)
}

func (a *App) send(msg *xpass.Message) error {
	peer := msg.Target
	if len(a.queues[peer]) > 0 {
		a.enqueue(msg)
		return nil
	}
	err := a.node.Send(peer, msg.Bytes(), msg)
	if errors.Cause(err) == node.ErrConnBusy {
		a.enqueue(msg)
		return nil
	}
	return err
}

func (a *App) enqueue(msg *xpass.Message) {
	q := append(a.queues[msg.Target], msg)
	a.queues[msg.Target] = q
	a.stats.Queued++
	if len(q) > a.stats.MaxQueue {
		a.stats.MaxQueue = len(q)
	}
}

// OnMessageReceived implements xpass.Application.
func (a *App) OnMessageReceived(bytes int, msg *xpass.Message) {
	now := a.sched.Now()
	if !msg.IsRequest {
		a.stats.RepliesReceived++
		if start, ok := a.outstanding[msg.ID]; ok {
			delete(a.outstanding, msg.ID)
			rpc := now - start
			a.stats.TotalLatency += rpc
			if rpc > a.stats.MaxLatency {
				a.stats.MaxLatency = rpc
			}
		}
		return
	}

	a.stats.RequestsReceived++
	if msg.ReplyLength <= 0 {
		return
	}
	reply := msg.Reply(now)
	a.stats.RepliesSent++
	if err := a.send(reply); err != nil {
		a.logger.WithError(err).Warnf("failed to reply to %d", msg.Source)
	}
}

// OnMessageRetired implements xpass.Application.
func (a *App) OnMessageRetired(msg *xpass.Message) {
	if msg == nil {
		return
	}
	peer := msg.Target
	q := a.queues[peer]
	if len(q) == 0 {
		return
	}
	next := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(a.queues, peer)
	} else {
		a.queues[peer] = q[1:]
	}
	if err := a.node.Send(peer, next.Bytes(), next); err != nil {
		a.logger.WithError(err).Warnf("failed to send queued message to %d", peer)
	}
}

// Backlog returns the number of messages waiting for a connection.
func (a *App) Backlog() int {
	n := 0
	for _, q := range a.queues {
		n += len(q)
	}
	return n
}

// Outstanding returns the number of requests still waiting for a reply.
func (a *App) Outstanding() int { return len(a.outstanding) }

// Stats returns the counters of the app.
func (a *App) Stats() AppStats { return a.stats }

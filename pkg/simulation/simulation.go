// Package simulation wires xpass hosts onto the discrete-event network and
// runs a workload against them.
package simulation

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/flowlog"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/node"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/sim"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/workload"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var (
	// ErrAlreadyRan is returned by Run on a simulation that already ran.
	ErrAlreadyRan = errors.New("simulation already ran")

	// ErrUndeliverable is returned by Run when packets had no route or no
	// connection to deliver them to.
	ErrUndeliverable = errors.New("undeliverable packets")
)

// Version of the simulator.
const Version = "0.1.0"

type pair struct {
	src, dst xpass.Addr
}

// Simulation is one run: a scheduler, a network, a node and an app per host
// and the flow log.
type Simulation struct {
	config Config

	Logger *logging.MasterLogger
	logger *logging.Logger

	sched    *sim.Scheduler
	net      *sim.Network
	arena    *node.Arena
	ctx      *workload.Context
	nodes    []*node.Node
	apps     []*App
	store    flowlog.Store
	recorder *flowlog.Recorder

	replies    workload.Distribution
	replyRands map[xpass.Addr]*rand.Rand
	msgSeq     map[pair]uint64
	incast     *workload.Incast
	failed     int
	ran        bool
}

// New constructs a simulation from a validated config.
func New(config Config) (*Simulation, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		config:     config,
		Logger:     logging.NewMasterLogger(),
		arena:      node.NewArena(config.MaxConns),
		ctx:        workload.NewContext(config.Seed),
		replyRands: make(map[xpass.Addr]*rand.Rand),
		msgSeq:     make(map[pair]uint64),
	}
	if lvl, err := logging.LevelFromString(config.LogLevel); err == nil {
		s.Logger.SetLevel(lvl)
	}
	s.logger = s.Logger.PackageLogger("simulation")

	s.sched = sim.NewScheduler(s.arena.Fire)
	s.Logger.AddHook(clockHook{now: s.sched.Now})
	var err error
	s.net, err = sim.NewNetwork(s.sched, config.XPass, sim.LinkConfig{
		Bandwidth: config.Link.Bandwidth,
		Delay:     config.Link.Delay.Duration(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "network")
	}

	if s.store, err = flowlog.NewStore(config.FlowLog); err != nil {
		return nil, errors.Wrap(err, "flow log")
	}
	s.recorder = flowlog.NewRecorder(s.store, s.Logger.PackageLogger("flowlog"))

	if config.Workload.ReplySize != nil {
		if s.replies, err = config.Workload.ReplySize.Build(); err != nil {
			return nil, errors.Wrap(err, "reply_size")
		}
	}

	nodeLogger := s.Logger.PackageLogger("node")
	appLogger := s.Logger.PackageLogger("app")
	for i := 0; i < config.Hosts.Count; i++ {
		addr := xpass.Addr(i)
		app := NewApp(addr, s.sched, appLogger)
		n, err := node.NewNode(node.Config{
			Addr:     addr,
			Params:   config.XPass,
			Sched:    s.sched,
			Sink:     s.net,
			Arena:    s.arena,
			Context:  s.ctx,
			App:      app,
			Recorder: s.recorder,
			Logger:   nodeLogger,
			Reclaim:  s.reapIdle,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "host %d", addr)
		}
		app.Bind(n)
		if err := s.net.Attach(addr, n); err != nil {
			return nil, err
		}
		s.nodes = append(s.nodes, n)
		s.apps = append(s.apps, app)
	}
	return s, nil
}

// Network returns the simulated network.
func (s *Simulation) Network() *sim.Network { return s.net }

// Scheduler returns the clock of the run.
func (s *Simulation) Scheduler() *sim.Scheduler { return s.sched }

// Node returns the node of host addr.
func (s *Simulation) Node(addr xpass.Addr) (*node.Node, bool) {
	if addr < 0 || int(addr) >= len(s.nodes) {
		return nil, false
	}
	return s.nodes[addr], true
}

// App returns the application of host addr.
func (s *Simulation) App(addr xpass.Addr) (*App, bool) {
	if addr < 0 || int(addr) >= len(s.apps) {
		return nil, false
	}
	return s.apps[addr], true
}

// FlowLog returns the flow log store.
func (s *Simulation) FlowLog() flowlog.Store { return s.store }

// Run generates traffic for the configured duration, lets in-flight flows
// drain and returns the report of the run. A protocol violation aborts the
// run and is returned as the cause of the error. Packets without a route or a
// connection fail the run with ErrUndeliverable once it has finished; the
// report is returned along with that error.
func (s *Simulation) Run() (report *Report, err error) {
	if s.ran {
		return nil, ErrAlreadyRan
	}
	s.ran = true

	defer func() {
		if r := recover(); r != nil {
			v, ok := r.(*xpass.ProtocolViolation)
			if !ok {
				panic(r)
			}
			report, err = nil, errors.Wrap(v, "simulation aborted")
		}
	}()

	if err := s.start(); err != nil {
		return nil, err
	}

	end := s.config.Duration.Duration() + s.config.Drain.Duration()
	s.logger.Infof("running %d hosts until %v (seed %d)", len(s.nodes), end, s.config.Seed)
	start := time.Now()
	s.sched.RunUntil(end)
	s.logger.Infof("%d events in %v", s.sched.Executed(), time.Since(start))

	if report, err = s.report(); err != nil {
		return nil, err
	}
	if report.Undelivered > 0 || report.Network.Unroutable > 0 {
		return report, errors.Wrapf(ErrUndeliverable, "%d without connection, %d without route",
			report.Undelivered, report.Network.Unroutable)
	}
	return report, nil
}

// Close releases the flow log and the connection slots.
func (s *Simulation) Close() error {
	for _, n := range s.nodes {
		if err := n.Close(); err != nil {
			return err
		}
	}
	return s.store.Close()
}

// reapIdle releases every idle connection pair. It backs node dials when the
// arena is full.
func (s *Simulation) reapIdle() int {
	n := 0
	for i, a := range s.nodes {
		for _, b := range s.nodes[i+1:] {
			if a.Reap(b) {
				n++
			}
		}
	}
	if n > 0 {
		s.logger.Debugf("reaped %d idle connection pairs", n)
	}
	return n
}

func (s *Simulation) start() error {
	clients := s.config.Clients()
	servers := s.config.Servers()

	if s.config.Workload.Load > 0 {
		sizes, err := s.config.Workload.RequestSize.Build()
		if err != nil {
			return errors.Wrap(err, "request_size")
		}
		for _, c := range clients {
			g, err := workload.NewGenerator(c, sizes, servers, s.config.Workload.Load,
				s.config.Link.Bandwidth, s.ctx.HostRand("requests", c))
			if err != nil {
				return errors.Wrapf(err, "client %d", c)
			}
			s.logger.Debugf("client %d: mean gap %v", c, g.MeanGap())
			s.nextRequest(c, g)
		}
	}

	if ic := s.config.Workload.Incast; ic != nil {
		var err error
		s.incast, err = workload.NewIncast(clients, servers, ic.Size, ic.RequestSize, s.ctx.HostRand("incast", 0))
		if err != nil {
			return errors.Wrap(err, "incast")
		}
		s.nextIncast(ic.Period.Duration())
	}
	return nil
}

func (s *Simulation) nextRequest(client xpass.Addr, g *workload.Generator) {
	req := g.Next()
	if s.sched.Now()+req.Gap > s.config.Duration.Duration() {
		return
	}
	s.sched.After(req.Gap, func() {
		s.request(client, req.Target, req.Size, s.replySize(client), false)
		s.nextRequest(client, g)
	})
}

func (s *Simulation) nextIncast(period time.Duration) {
	if s.sched.Now()+period > s.config.Duration.Duration() {
		return
	}
	s.sched.After(period, func() {
		for _, c := range s.config.Clients() {
			b := s.incast.ShouldSend(c)
			if b.Send {
				s.request(c, b.Target, b.RequestSize, s.config.Workload.Incast.ReplySize, true)
			}
		}
		s.nextIncast(period)
	})
}

func (s *Simulation) replySize(client xpass.Addr) int {
	if s.replies == nil {
		return 0
	}
	rng, ok := s.replyRands[client]
	if !ok {
		rng = s.ctx.HostRand("replies", client)
		s.replyRands[client] = rng
	}
	size := int(s.replies.Next(rng) + 0.5)
	if size < 1 {
		size = 1
	}
	return size
}

func (s *Simulation) request(src, dst xpass.Addr, size, reply int, incast bool) {
	key := pair{src, dst}
	n := s.msgSeq[key]
	s.msgSeq[key]++

	msg := &xpass.Message{
		ID:            s.ctx.MessageID(src, dst, n),
		Source:        src,
		Target:        dst,
		RequestLength: size,
		ReplyLength:   reply,
		IsIncast:      incast,
		IsRequest:     true,
		CreatedAt:     s.sched.Now(),
	}
	if err := s.apps[src].Request(msg); err != nil {
		s.failed++
		s.logger.WithError(err).Warnf("request %d->%d failed", src, dst)
	}
}

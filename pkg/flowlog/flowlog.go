// Package flowlog keeps the flow completion and credit waste records of a
// simulation run.
package flowlog

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var log = logging.MustGetLogger("flowlog")

// ErrUnknownStore is returned for a store type NewStore does not know.
var ErrUnknownStore = errors.New("unknown flow log store")

// Entry is one stored flow record.
type Entry struct {
	ID            uint64          `json:"id"`
	Event         xpass.FlowEvent `json:"event"`
	Local         xpass.Addr      `json:"local"`
	Peer          xpass.Addr      `json:"peer"`
	MsgID         uuid.UUID       `json:"msg_id"`
	IsRequest     bool            `json:"is_request"`
	IsIncast      bool            `json:"is_incast"`
	Bytes         int64           `json:"bytes"`
	Start         time.Duration   `json:"start"`
	End           time.Duration   `json:"end"`
	CreditsWasted int             `json:"credits_wasted"`
}

// NewEntry converts a record emitted by a connection.
func NewEntry(rec xpass.FlowRecord) *Entry {
	e := &Entry{
		Event:         rec.Event,
		Local:         rec.Local,
		Peer:          rec.Peer,
		Bytes:         rec.Bytes,
		Start:         rec.Start,
		End:           rec.End,
		CreditsWasted: rec.CreditsWasted,
	}
	if rec.Msg != nil {
		e.MsgID = rec.Msg.ID
		e.IsRequest = rec.Msg.IsRequest
		e.IsIncast = rec.Msg.IsIncast
	}
	return e
}

// Duration returns the flow completion time.
func (e *Entry) Duration() time.Duration { return e.End - e.Start }

// RangeFunc is called for every entry in ID order until it returns false.
type RangeFunc func(e *Entry) (next bool)

// Store stores flow log entries.
type Store interface {
	// Record assigns the next ID to e and stores it.
	Record(e *Entry) error
	Range(fn RangeFunc) error
	Count() int
	Close() error
}

// Entries returns every entry of s.
func Entries(s Store) ([]*Entry, error) {
	var out []*Entry
	err := s.Range(func(e *Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

type inMemoryStore struct {
	entries []*Entry
	mu      sync.Mutex
}

// InMemoryStore implements Store in memory.
func InMemoryStore() Store {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Record(e *Entry) error {
	s.mu.Lock()
	e.ID = uint64(len(s.entries) + 1)
	cp := *e
	s.entries = append(s.entries, &cp)
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) Range(fn RangeFunc) error {
	s.mu.Lock()
	entries := make([]*Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	for _, e := range entries {
		cp := *e
		if !fn(&cp) {
			break
		}
	}
	return nil
}

func (s *inMemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *inMemoryStore) Close() error { return nil }

// Store types.
const (
	StoreMemory = "memory"
	StoreBoltDB = "boltdb"
)

// StoreConfig selects a Store.
type StoreConfig struct {
	Type     string `json:"type" toml:"type"`
	Location string `json:"location,omitempty" toml:"location"`
}

// NewStore opens the store c describes. An empty type means memory.
func NewStore(c StoreConfig) (Store, error) {
	switch c.Type {
	case "", StoreMemory:
		return InMemoryStore(), nil
	case StoreBoltDB:
		path, err := homedir.Expand(c.Location)
		if err != nil {
			return nil, errors.Wrap(err, "flow log location")
		}
		return BoltDBStore(path)
	default:
		return nil, errors.Wrapf(ErrUnknownStore, "type %q", c.Type)
	}
}

// Recorder stores the records of connections. It implements
// xpass.FlowRecorder, which cannot fail, so store errors are logged and
// counted.
type Recorder struct {
	store  Store
	log    *logging.Logger
	failed int
}

// NewRecorder returns a recorder writing to s. logger may be nil.
func NewRecorder(s Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = log
	}
	return &Recorder{store: s, log: logger}
}

// RecordFlow implements xpass.FlowRecorder.
func (r *Recorder) RecordFlow(rec xpass.FlowRecord) {
	e := NewEntry(rec)
	if err := r.store.Record(e); err != nil {
		r.failed++
		r.log.WithError(err).Warnf("failed to record %s flow %d->%d", rec.Event, rec.Peer, rec.Local)
		return
	}
	if rec.Event == xpass.FlowCompleted {
		r.log.Infof("flow %d->%d completed: %d bytes in %v", e.Peer, e.Local, e.Bytes, e.Duration())
	}
}

// Failed returns the number of records the store refused.
func (r *Recorder) Failed() int { return r.failed }

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Summary aggregates entries of one event type.
type Summary struct {
	Event         xpass.FlowEvent `json:"event"`
	Flows         int             `json:"flows"`
	Bytes         int64           `json:"bytes"`
	CreditsWasted int             `json:"credits_wasted"`
	MeanFCT       time.Duration   `json:"mean_fct"`
	P50FCT        time.Duration   `json:"p50_fct"`
	P99FCT        time.Duration   `json:"p99_fct"`
	MaxFCT        time.Duration   `json:"max_fct"`
}

// Summarize aggregates the entries of s recorded for event.
func Summarize(s Store, event xpass.FlowEvent) (Summary, error) {
	sum := Summary{Event: event}
	var fcts []time.Duration
	var total time.Duration
	err := s.Range(func(e *Entry) bool {
		if e.Event != event {
			return true
		}
		sum.Flows++
		sum.Bytes += e.Bytes
		sum.CreditsWasted += e.CreditsWasted
		d := e.Duration()
		total += d
		fcts = append(fcts, d)
		return true
	})
	if err != nil || len(fcts) == 0 {
		return sum, err
	}

	sort.Slice(fcts, func(i, j int) bool { return fcts[i] < fcts[j] })
	sum.MeanFCT = total / time.Duration(len(fcts))
	sum.P50FCT = percentile(fcts, 0.5)
	sum.P99FCT = percentile(fcts, 0.99)
	sum.MaxFCT = fcts[len(fcts)-1]
	return sum, nil
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	i := int(p*float64(len(sorted))+0.999999) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

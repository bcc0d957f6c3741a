package simulation

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/flowlog"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/sim"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

// Report summarizes a run.
type Report struct {
	SimTime     time.Duration    `json:"sim_time"`
	Events      int              `json:"events"`
	Network     sim.NetworkStats `json:"network"`
	Completed   flowlog.Summary  `json:"completed"`
	Retired     flowlog.Summary  `json:"retired"`
	Apps        AppStats         `json:"apps"`
	Conns       int              `json:"conns"`
	OpenConns   int              `json:"open_conns"` // Connections still busy at the end of the run.
	Backlog     int              `json:"backlog"`
	Outstanding int              `json:"outstanding"`
	Failed      int              `json:"failed"`
	Undelivered int              `json:"undelivered"`
	Credits     CreditStats      `json:"credits"`
}

// CreditStats sums the credit counters of every connection.
type CreditStats struct {
	Issued   int `json:"issued"`
	Received int `json:"received"`
	Wasted   int `json:"wasted"`
}

// MeanRPC returns the mean time from request to reply.
func (r *Report) MeanRPC() time.Duration {
	if r.Apps.RepliesReceived == 0 {
		return 0
	}
	return r.Apps.TotalLatency / time.Duration(r.Apps.RepliesReceived)
}

func (s *Simulation) report() (*Report, error) {
	r := &Report{
		SimTime: s.sched.Now(),
		Events:  s.sched.Executed(),
		Network: s.net.Stats(),
		Failed:  s.failed + s.recorder.Failed(),
	}

	var err error
	if r.Completed, err = flowlog.Summarize(s.store, xpass.FlowCompleted); err != nil {
		return nil, err
	}
	if r.Retired, err = flowlog.Summarize(s.store, xpass.FlowRetired); err != nil {
		return nil, err
	}

	for i, n := range s.nodes {
		for _, c := range n.Conns() {
			r.Conns++
			if !c.Idle() {
				r.OpenConns++
			}
		}
		ns := n.Stats()
		r.Credits.Issued += ns.CreditsIssued
		r.Credits.Received += ns.CreditsReceived
		r.Credits.Wasted += ns.CreditsWasted
		r.Undelivered += n.Unknown()

		app := s.apps[i]
		st := app.Stats()
		r.Apps.RequestsSent += st.RequestsSent
		r.Apps.RequestsReceived += st.RequestsReceived
		r.Apps.RepliesSent += st.RepliesSent
		r.Apps.RepliesReceived += st.RepliesReceived
		r.Apps.Queued += st.Queued
		r.Apps.TotalLatency += st.TotalLatency
		if st.MaxQueue > r.Apps.MaxQueue {
			r.Apps.MaxQueue = st.MaxQueue
		}
		if st.MaxLatency > r.Apps.MaxLatency {
			r.Apps.MaxLatency = st.MaxLatency
		}
		r.Backlog += app.Backlog()
		r.Outstanding += app.Outstanding()
	}
	return r, nil
}

// Print writes the report as a table.
func (r *Report) Print(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.TabIndent)

	rows := [][2]string{
		{"sim time", r.SimTime.String()},
		{"events", fmt.Sprint(r.Events)},
		{"requests sent/received", fmt.Sprintf("%d/%d", r.Apps.RequestsSent, r.Apps.RequestsReceived)},
		{"replies sent/received", fmt.Sprintf("%d/%d", r.Apps.RepliesSent, r.Apps.RepliesReceived)},
		{"mean/max rpc", fmt.Sprintf("%v/%v", r.MeanRPC(), r.Apps.MaxLatency)},
		{"flows completed", fmt.Sprint(r.Completed.Flows)},
		{"fct mean/p50/p99/max", fmt.Sprintf("%v/%v/%v/%v",
			r.Completed.MeanFCT, r.Completed.P50FCT, r.Completed.P99FCT, r.Completed.MaxFCT)},
		{"bytes completed", fmt.Sprint(r.Completed.Bytes)},
		{"credits issued/received/wasted", fmt.Sprintf("%d/%d/%d",
			r.Credits.Issued, r.Credits.Received, r.Credits.Wasted)},
		{"conns open/total", fmt.Sprintf("%d/%d", r.OpenConns, r.Conns)},
		{"backlog/outstanding", fmt.Sprintf("%d/%d", r.Backlog, r.Outstanding)},
		{"packets sent/delivered/dropped", fmt.Sprintf("%d/%d/%d",
			r.Network.Sent, r.Network.Delivered, r.Network.Dropped)},
		{"packets unroutable/undelivered", fmt.Sprintf("%d/%d", r.Network.Unroutable, r.Undelivered)},
	}

	kinds := make([]xpass.Kind, 0, len(r.Network.ByKind))
	for k := range r.Network.ByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		rows = append(rows, [2]string{"  " + k.String(), fmt.Sprint(r.Network.ByKind[k])})
	}

	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return w.Flush()
}

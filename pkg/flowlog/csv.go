package flowlog

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var csvHeader = []string{
	"id", "event", "src", "dst", "msg_id", "is_request", "is_incast",
	"bytes", "start_ns", "end_ns", "fct_ns", "credits_wasted",
}

// WriteCSV writes every entry of s as one CSV row. Times are in nanoseconds
// of simulated time. src is the sender of the flow's data, so it is Peer for
// completed flows and Local for retired ones.
func WriteCSV(w io.Writer, s Store) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	var werr error
	err := s.Range(func(e *Entry) bool {
		src, dst := e.Local, e.Peer
		if e.Event == xpass.FlowCompleted {
			src, dst = e.Peer, e.Local
		}
		werr = cw.Write([]string{
			strconv.FormatUint(e.ID, 10),
			string(e.Event),
			strconv.Itoa(int(src)),
			strconv.Itoa(int(dst)),
			e.MsgID.String(),
			strconv.FormatBool(e.IsRequest),
			strconv.FormatBool(e.IsIncast),
			strconv.FormatInt(e.Bytes, 10),
			strconv.FormatInt(int64(e.Start), 10),
			strconv.FormatInt(int64(e.End), 10),
			strconv.FormatInt(int64(e.Duration()), 10),
			strconv.Itoa(e.CreditsWasted),
		})
		return werr == nil
	})
	if err != nil {
		return err
	}
	if werr != nil {
		return werr
	}

	cw.Flush()
	return cw.Error()
}

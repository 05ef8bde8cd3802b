package core

import (
	"fmt"
	"io"
	"strconv"

	"github.com/encodeous/orpl/state"
	"github.com/olekukonko/tablewriter"
)

// Dump prints the neighbour table, the rank and the deployment nodes found in the routing set.
func (n *Node) Dump(w io.Writer) error {
	var err error
	n.exec(func(s *state.State, r Router) {
		err = dumpState(w, s)
	})
	return err
}

func dumpState(w io.Writer, s *state.State) error {
	snap := snapshot(s)
	_, err := fmt.Fprintf(w, "node %s rank %s (%d) hbh %d, %d/%d forwarders, %d broadcasts\n",
		snap.Id, snap.Rank, uint16(snap.Rank), snap.HopByHop, len(snap.Forwarders), snap.NeighborSet, snap.BroadcastCount)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Neighbour", "Rank", "Acks", "PRR", "Forwarder", "In Set"})
	for _, p := range s.Parents {
		prr := "-"
		if s.BroadcastCount > 0 {
			prr = fmt.Sprintf("%d%%", 100*int(p.AckCount)/int(s.BroadcastCount))
		}
		table.Append([]string{
			p.Id.String(),
			p.Rank.String(),
			strconv.Itoa(int(p.AckCount)),
			prr,
			strconv.FormatBool(s.Rank.ForwarderSet.Contains(p.Id)),
			strconv.FormatBool(s.RoutingSet.Contains(s.AddrOfParent(p))),
		})
	}
	table.Render()

	if err := s.RoutingSet.Dump(w); err != nil {
		return err
	}
	contained := make([]state.NodeId, 0)
	for _, id := range s.Deployment.Nodes() {
		if id != s.Id && s.RoutingSet.Contains(s.Deployment.AddrOf(id)) {
			contained = append(contained, id)
		}
	}
	_, err = fmt.Fprintf(w, "routing set contains %d nodes: %v\n", len(contained), contained)
	return err
}

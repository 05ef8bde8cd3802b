package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"github.com/encodeous/orpl/state"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var bloomCmd = &cobra.Command{
	Use:   "bloom [node ids...]",
	Short: "Print routing set false positive rates, or the filter built from a set of nodes",
	Long: `Without arguments, prints the expected false positive rate of the routing set for a
range of subtree sizes. With node ids, inserts them into a routing set and prints its bits
together with the membership of every other node up to --upto.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bits, _ := cmd.Flags().GetInt("bits")
		hashes, _ := cmd.Flags().GetInt("hashes")
		if err := state.ValidateFilter(bits, hashes); err != nil {
			return err
		}
		if len(args) == 0 {
			printFalsePositiveTable(bits, hashes)
			return nil
		}

		prefixStr, _ := cmd.Flags().GetString("prefix")
		prefix, err := netip.ParsePrefix(prefixStr)
		if err != nil {
			return err
		}
		dep := state.NewDeployment(prefix)
		rs, err := state.NewRoutingSet(bits, hashes)
		if err != nil {
			return err
		}
		inserted := make(map[state.NodeId]bool)
		for _, arg := range args {
			id, err := strconv.ParseUint(arg, 0, 16)
			if err != nil {
				return fmt.Errorf("invalid node id %q: %w", arg, err)
			}
			rs.Insert(dep.Add(state.NodeId(id)))
			inserted[state.NodeId(id)] = true
		}
		if err := rs.Dump(os.Stdout); err != nil {
			return err
		}

		upto, _ := cmd.Flags().GetUint16("upto")
		falsePositives := make([]state.NodeId, 0)
		for id := state.NodeId(1); id <= state.NodeId(upto) && id != 0; id++ {
			if inserted[id] {
				continue
			}
			if rs.Contains(state.AddrFromInterfaceId(prefix, id.LinkAddr().InterfaceId())) {
				falsePositives = append(falsePositives, id)
			}
		}
		fmt.Printf("%d false positives among nodes 1..%d: %v (expected rate %.5f)\n",
			len(falsePositives), upto, falsePositives, state.FalsePositiveRate(bits, hashes, len(inserted)))
		return nil
	},
	GroupID: "tools",
}

func printFalsePositiveTable(bits, hashes int) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Entries", "False Positive Rate"})
	for _, n := range []int{1, 5, 10, 20, 50, 100, 200, 500} {
		table.Append([]string{strconv.Itoa(n), fmt.Sprintf("%.6f", state.FalsePositiveRate(bits, hashes, n))})
	}
	table.Render()
}

func init() {
	rootCmd.AddCommand(bloomCmd)
	bloomCmd.Flags().IntP("bits", "b", state.DefaultFilterBits, "Routing set size in bits")
	bloomCmd.Flags().IntP("hashes", "k", state.DefaultFilterHashes, "Hash positions per entry")
	bloomCmd.Flags().StringP("prefix", "p", state.DefaultMeshPrefix, "Mesh prefix")
	bloomCmd.Flags().Uint16("upto", 1000, "Check node ids up to this for false positives")
}

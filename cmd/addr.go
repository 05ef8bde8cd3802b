package cmd

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
	"github.com/spf13/cobra"
)

var addrCmd = &cobra.Command{
	Use:     "addr",
	Short:   "Encode and decode anycast and node link addresses",
	GroupID: "tools",
}

var addrEncodeCmd = &cobra.Command{
	Use:   "encode <up|down|nbr|recover> <rank> <seqno>",
	Short: "Print the anycast link address for a direction, sender rank and sequence number",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := protocol.ParseDirection(args[0])
		if err != nil {
			return err
		}
		rank, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid rank: %w", err)
		}
		seqno, err := strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid seqno: %w", err)
		}
		fmt.Println(protocol.EncodeAnycast(dir, state.Rank(rank), uint32(seqno)))
		return nil
	},
}

var addrDecodeCmd = &cobra.Command{
	Use:   "decode <lladdr|ipv6>",
	Short: "Describe a link or mesh address: anycast fields or the node it belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAnyAddr(args[0])
		if err != nil {
			return err
		}
		if info, ok := protocol.DecodeAnycast(addr); ok {
			fmt.Printf("anycast %s (rank %d)\n", info, uint16(info.Rank))
			return nil
		}
		if id, ok := addr.NodeId(); ok {
			fmt.Printf("node %s\n", id)
			return nil
		}
		fmt.Println("unicast address outside the deployment")
		return nil
	},
}

// parseAnyAddr accepts a link address, or a mesh address whose interface id maps back to one.
// Eight two-digit groups also parse as ipv6, so the link form is tried first.
func parseAnyAddr(s string) (state.LinkAddr, error) {
	if addr, err := state.ParseLinkAddr(s); err == nil {
		return addr, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return state.LinkAddr{}, fmt.Errorf("%q is neither a link nor a mesh address", s)
	}
	if !ip.Is6() {
		return state.LinkAddr{}, fmt.Errorf("%s is not an ipv6 address", ip)
	}
	b := ip.As16()
	return state.LinkAddrFromInterfaceId([8]byte(b[8:])), nil
}

var addrNodeCmd = &cobra.Command{
	Use:   "node <id>",
	Short: "Print the link and mesh addresses of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid node id: %w", err)
		}
		prefixStr, _ := cmd.Flags().GetString("prefix")
		prefix, err := netip.ParsePrefix(prefixStr)
		if err != nil {
			return err
		}
		lladdr := state.NodeId(id).LinkAddr()
		fmt.Printf("lladdr %s\n", lladdr)
		fmt.Printf("addr   %s\n", state.AddrFromInterfaceId(prefix, lladdr.InterfaceId()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addrCmd)
	addrCmd.AddCommand(addrEncodeCmd, addrDecodeCmd, addrNodeCmd)
	addrNodeCmd.Flags().StringP("prefix", "p", state.DefaultMeshPrefix, "Mesh prefix")
}

package state

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/gaissmai/bart"
)

// Rank is an expected-duty-cycle distance to the sink, in units of EdcDivisor per wakeup interval.
type Rank uint16

func (r Rank) Known() bool {
	return r != RankInfinite
}

func (r Rank) String() string {
	if r == RankInfinite {
		return "inf"
	}
	return fmt.Sprintf("%d.%d", r/EdcDivisor, (10*(r%EdcDivisor))/EdcDivisor)
}

type NodeId uint16

func (n NodeId) String() string {
	return fmt.Sprintf("%d", uint16(n))
}

// LinkAddr is a 64-bit link-layer address, most significant byte first.
type LinkAddr [8]byte

var linkAddrOui = [3]byte{0x00, 0x12, 0x74}

// LinkAddr returns the deployment link address of the node.
func (n NodeId) LinkAddr() LinkAddr {
	hi, lo := byte(n>>8), byte(n)
	return LinkAddr{linkAddrOui[0], linkAddrOui[1], linkAddrOui[2], hi, lo, 0x00, hi, lo}
}

// NodeId recovers the node id from a deployment link address.
func (a LinkAddr) NodeId() (NodeId, bool) {
	if a[0] != linkAddrOui[0] || a[1] != linkAddrOui[1] || a[2] != linkAddrOui[2] || a[5] != 0 {
		return 0, false
	}
	if a[3] != a[6] || a[4] != a[7] {
		return 0, false
	}
	return NodeId(a[6])<<8 | NodeId(a[7]), true
}

// Reversed returns the address in over-the-air byte order.
func (a LinkAddr) Reversed() LinkAddr {
	var r LinkAddr
	for i := range a {
		r[i] = a[len(a)-1-i]
	}
	return r
}

// InterfaceId returns the EUI-64 interface identifier, with the universal/local bit flipped.
func (a LinkAddr) InterfaceId() [8]byte {
	iid := a
	iid[0] ^= 0x02
	return iid
}

func LinkAddrFromInterfaceId(iid [8]byte) LinkAddr {
	a := LinkAddr(iid)
	a[0] ^= 0x02
	return a
}

func (a LinkAddr) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// ParseLinkAddr accepts the colon, hyphen or dotted forms of a 64-bit address.
func ParseLinkAddr(s string) (LinkAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return LinkAddr{}, err
	}
	if len(hw) != len(LinkAddr{}) {
		return LinkAddr{}, fmt.Errorf("%q is not a 64-bit link address", s)
	}
	return LinkAddr(hw), nil
}

// AddrFromInterfaceId joins a /64 mesh prefix with an interface identifier.
func AddrFromInterfaceId(prefix netip.Prefix, iid [8]byte) netip.Addr {
	b := prefix.Masked().Addr().As16()
	copy(b[8:], iid[:])
	return netip.AddrFrom16(b)
}

// Deployment maps node ids to their mesh addresses.
type Deployment struct {
	Prefix netip.Prefix
	table  bart.Table[NodeId]
	nodes  []NodeId
}

func NewDeployment(prefix netip.Prefix) *Deployment {
	return &Deployment{
		Prefix: prefix.Masked(),
		table:  bart.Table[NodeId]{},
	}
}

// Add registers a node and returns its mesh address.
func (d *Deployment) Add(id NodeId) netip.Addr {
	addr := d.AddrOf(id)
	d.table.Insert(netip.PrefixFrom(addr, 128), id)
	if !slices.Contains(d.nodes, id) {
		d.nodes = append(d.nodes, id)
		slices.Sort(d.nodes)
	}
	return addr
}

func (d *Deployment) Remove(id NodeId) {
	d.table.Delete(netip.PrefixFrom(d.AddrOf(id), 128))
	d.nodes = slices.DeleteFunc(d.nodes, func(n NodeId) bool {
		return n == id
	})
}

func (d *Deployment) AddrOf(id NodeId) netip.Addr {
	return AddrFromInterfaceId(d.Prefix, id.LinkAddr().InterfaceId())
}

func (d *Deployment) AddrOfLink(addr LinkAddr) netip.Addr {
	return AddrFromInterfaceId(d.Prefix, addr.InterfaceId())
}

// IdOf looks up the node owning a mesh address.
func (d *Deployment) IdOf(addr netip.Addr) (NodeId, bool) {
	return d.table.Lookup(addr)
}

func (d *Deployment) Nodes() []NodeId {
	return slices.Clone(d.nodes)
}

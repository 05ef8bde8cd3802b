package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	mathbits "math/bits"
	"net/netip"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

var ErrFilterSize = errors.New("filter size mismatch")

// RoutingSet is a double-buffered Bloom filter of the addresses reachable through this node.
// Every insert and merge goes to both buffers; lookups use the active one. Swap drops
// anything that was not refreshed since the previous swap.
type RoutingSet struct {
	bits   int
	hashes int
	shift  uint

	active *bitset.BitSet
	aging  *bitset.BitSet

	InsertsCurrent int
	InsertsWarmup  int
}

// HashShift is the number of hash bits consumed per position for a filter of the given size.
func HashShift(bits int) uint {
	if bits <= 1 {
		return 0
	}
	return uint(mathbits.Len(uint(bits - 1)))
}

func ValidateFilter(bits, hashes int) error {
	if bits < 8 || bits%8 != 0 {
		return fmt.Errorf("filter size %d must be a positive multiple of 8", bits)
	}
	if bits > MaxFilterBits {
		return fmt.Errorf("filter size %d exceeds %d", bits, MaxFilterBits)
	}
	if hashes < 1 {
		return fmt.Errorf("filter needs at least one hash, got %d", hashes)
	}
	if uint(hashes)*HashShift(bits) > 64 {
		return fmt.Errorf("%d hashes of %d bits do not fit in a 64-bit seed", hashes, HashShift(bits))
	}
	return nil
}

func NewRoutingSet(bits, hashes int) (*RoutingSet, error) {
	if err := ValidateFilter(bits, hashes); err != nil {
		return nil, err
	}
	return &RoutingSet{
		bits:   bits,
		hashes: hashes,
		shift:  HashShift(bits),
		active: bitset.New(uint(bits)),
		aging:  bitset.New(uint(bits)),
	}, nil
}

func (rs *RoutingSet) Bits() int {
	return rs.bits
}

func (rs *RoutingSet) Hashes() int {
	return rs.hashes
}

// SizeBytes is the length of the serialized filter.
func (rs *RoutingSet) SizeBytes() int {
	return rs.bits / 8
}

func (rs *RoutingSet) positions(addr netip.Addr) []uint {
	b := addr.As16()
	h := binary.LittleEndian.Uint64(b[8:])
	for _, c := range b {
		h ^= (h << 5) + (h >> 2) + uint64(c)
	}
	pos := make([]uint, rs.hashes)
	for i := range pos {
		pos[i] = uint(uint16(h)) % uint(rs.bits)
		h >>= rs.shift
	}
	return pos
}

func (rs *RoutingSet) Insert(addr netip.Addr) {
	for _, p := range rs.positions(addr) {
		rs.active.Set(p)
		rs.aging.Set(p)
	}
	rs.InsertsCurrent++
	rs.InsertsWarmup++
}

// Contains reports whether every position of addr is set in the active buffer.
// False positives are possible, false negatives are not.
func (rs *RoutingSet) Contains(addr netip.Addr) bool {
	for _, p := range rs.positions(addr) {
		if !rs.active.Test(p) {
			return false
		}
	}
	return true
}

// Merge ORs a serialized remote filter into both buffers.
func (rs *RoutingSet) Merge(remote []byte) error {
	if len(remote) != rs.SizeBytes() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFilterSize, len(remote), rs.SizeBytes())
	}
	other := rs.decode(remote)
	rs.active.InPlaceUnion(other)
	rs.aging.InPlaceUnion(other)
	return nil
}

// Swap promotes the aging buffer and starts a fresh one.
func (rs *RoutingSet) Swap() {
	rs.active, rs.aging = rs.aging, rs.active
	rs.aging.ClearAll()
	rs.InsertsCurrent = rs.InsertsWarmup
	rs.InsertsWarmup = 0
}

func (rs *RoutingSet) Clear() {
	rs.active.ClearAll()
	rs.aging.ClearAll()
	rs.InsertsCurrent = 0
	rs.InsertsWarmup = 0
}

func (rs *RoutingSet) CountBits() int {
	return int(rs.active.Count())
}

// Active serializes the active buffer. Bit i lives in byte i/8 under mask 1<<(i%8).
func (rs *RoutingSet) Active() []byte {
	out := make([]byte, rs.SizeBytes())
	for i, ok := rs.active.NextSet(0); ok && i < uint(rs.bits); i, ok = rs.active.NextSet(i + 1) {
		out[i/8] |= 1 << (i % 8)
	}
	return out
}

func (rs *RoutingSet) decode(raw []byte) *bitset.BitSet {
	b := bitset.New(uint(rs.bits))
	for i, v := range raw {
		for j := range 8 {
			if v&(1<<j) != 0 {
				b.Set(uint(i*8 + j))
			}
		}
	}
	return b
}

func (rs *RoutingSet) Dump(w io.Writer) error {
	raw := rs.Active()
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "routing set: %d/%d bits set, %d inserts (%d warming up)\n",
		rs.CountBits(), rs.bits, rs.InsertsCurrent, rs.InsertsWarmup)
	for i := 0; i < len(raw); i += 16 {
		end := min(i+16, len(raw))
		fmt.Fprintf(&sb, "  %04x: % x\n", i*8, raw[i:end])
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// FalsePositiveRate estimates the lookup false-positive probability after n distinct inserts.
func FalsePositiveRate(bits, hashes, n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Pow(1-math.Exp(-float64(hashes*n)/float64(bits)), float64(hashes))
}

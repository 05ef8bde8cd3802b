package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/encodeous/orpl/state"
)

// BroadcastMagic tells a routing set broadcast apart from ordinary traffic.
const BroadcastMagic uint16 = 0x83d9

const broadcastHeaderLen = 4

var (
	ErrBadMagic  = errors.New("bad routing set magic")
	ErrBadLength = errors.New("bad routing set length")
)

// RoutingSetBroadcast is the periodic {rank, filter} advertisement.
type RoutingSetBroadcast struct {
	Rank   state.Rank
	Filter []byte
}

func BroadcastLen(filterBytes int) int {
	return broadcastHeaderLen + filterBytes
}

func (b RoutingSetBroadcast) Marshal() []byte {
	out := make([]byte, BroadcastLen(len(b.Filter)))
	binary.BigEndian.PutUint16(out[0:], BroadcastMagic)
	binary.BigEndian.PutUint16(out[2:], uint16(b.Rank))
	copy(out[broadcastHeaderLen:], b.Filter)
	return out
}

// ParseRoutingSetBroadcast checks the magic and the filter size agreed on by the deployment.
func ParseRoutingSetBroadcast(pkt []byte, filterBytes int) (RoutingSetBroadcast, error) {
	if len(pkt) < 2 {
		return RoutingSetBroadcast{}, fmt.Errorf("%w: %d bytes", ErrBadLength, len(pkt))
	}
	if m := binary.BigEndian.Uint16(pkt[0:]); m != BroadcastMagic {
		return RoutingSetBroadcast{}, fmt.Errorf("%w: %#04x", ErrBadMagic, m)
	}
	if len(pkt) != BroadcastLen(filterBytes) {
		return RoutingSetBroadcast{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadLength, len(pkt), BroadcastLen(filterBytes))
	}
	return RoutingSetBroadcast{
		Rank:   state.Rank(binary.BigEndian.Uint16(pkt[2:])),
		Filter: slices.Clone(pkt[broadcastHeaderLen:]),
	}, nil
}

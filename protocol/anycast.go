package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/encodeous/orpl/state"
)

// Direction is the routing intent carried in an anycast destination address.
type Direction uint8

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
	DirectionNeighbor
	DirectionRecover
)

// Address prefixes identifying each anycast direction
const (
	MagicUp       uint16 = 0xfafa
	MagicDown     uint16 = 0xfbfb
	MagicNeighbor uint16 = 0xfcfc
	MagicRecover  uint16 = 0xfdfd
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	case DirectionNeighbor:
		return "nbr"
	case DirectionRecover:
		return "recover"
	default:
		return "none"
	}
}

// ParseDirection is the inverse of Direction.String for the anycast directions.
func ParseDirection(s string) (Direction, error) {
	for d := DirectionUp; d <= DirectionRecover; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return DirectionNone, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) magic() uint16 {
	switch d {
	case DirectionUp:
		return MagicUp
	case DirectionDown:
		return MagicDown
	case DirectionNeighbor:
		return MagicNeighbor
	case DirectionRecover:
		return MagicRecover
	default:
		return 0
	}
}

func directionOf(magic uint16) Direction {
	switch magic {
	case MagicUp:
		return DirectionUp
	case MagicDown:
		return DirectionDown
	case MagicNeighbor:
		return DirectionNeighbor
	case MagicRecover:
		return DirectionRecover
	default:
		return DirectionNone
	}
}

type AnycastInfo struct {
	Direction Direction
	Rank      state.Rank
	Seqno     uint32
}

func (a AnycastInfo) String() string {
	return fmt.Sprintf("%s rank=%s seqno=%d", a.Direction, a.Rank, a.Seqno)
}

// EncodeAnycast packs the direction, sender rank and sequence number into a link address.
// DirectionNone has no anycast form and yields the zero address.
func EncodeAnycast(dir Direction, rank state.Rank, seqno uint32) state.LinkAddr {
	var addr state.LinkAddr
	m := dir.magic()
	if m == 0 {
		return addr
	}
	binary.BigEndian.PutUint16(addr[0:2], m)
	binary.BigEndian.PutUint16(addr[2:4], uint16(rank))
	binary.BigEndian.PutUint32(addr[4:8], seqno)
	return addr
}

// DecodeAnycast returns false for any address that does not start with a known direction prefix.
func DecodeAnycast(addr state.LinkAddr) (AnycastInfo, bool) {
	dir := directionOf(binary.BigEndian.Uint16(addr[0:2]))
	if dir == DirectionNone {
		return AnycastInfo{}, false
	}
	return AnycastInfo{
		Direction: dir,
		Rank:      state.Rank(binary.BigEndian.Uint16(addr[2:4])),
		Seqno:     binary.BigEndian.Uint32(addr[4:8]),
	}, true
}

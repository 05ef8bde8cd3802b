package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/encodeous/orpl/state"
)

// Flags is the outcome of the acknowledgment-time decision.
type Flags uint8

const (
	FlagDoAck Flags = 1 << iota
	FlagIsAnycast
	FlagFromSubtree
	FlagIsRecovery
)

func (f Flags) Has(x Flags) bool {
	return f&x == x
}

func (f Flags) String() string {
	out := ""
	for _, v := range []struct {
		f    Flags
		name string
	}{{FlagDoAck, "ack"}, {FlagIsAnycast, "anycast"}, {FlagFromSubtree, "subtree"}, {FlagIsRecovery, "recovery"}} {
		if f.Has(v.f) {
			if out != "" {
				out += "|"
			}
			out += v.name
		}
	}
	if out == "" {
		return "-"
	}
	return out
}

const (
	FrameTypeData = 1
	addrModeLong  = 3

	offsetFcf    = 0
	offsetSeq    = 2
	offsetDstPan = 3
	offsetDst    = 5
	offsetSrc    = 13
	offsetIphc   = 21
	offsetDstIid = 34

	// HeaderLen covers the mac header, the compressed ip header and the destination interface id.
	HeaderLen = offsetDstIid + 8
	IphcLen   = offsetDstIid - offsetIphc
)

var (
	ErrShortFrame  = errors.New("frame too short")
	ErrNotData     = errors.New("not a data frame")
	ErrAddressMode = errors.New("unsupported addressing mode")
)

// Frame is the subset of an 802.15.4 data frame carrying a compressed ipv6 packet that
// the forwarding decision looks at. Addresses are in host order.
type Frame struct {
	Seq        uint8
	Pan        uint16
	AckRequest bool
	Dst        state.LinkAddr
	Src        state.LinkAddr
	Iphc       [IphcLen]byte
	DstIid     [8]byte
	Payload    []byte
}

func frameType(b []byte) uint8 {
	return b[offsetFcf] & 0x07
}

func ackRequested(b []byte) bool {
	return (b[offsetFcf]>>5)&1 == 1
}

func readAddr(b []byte, off int) state.LinkAddr {
	var wire state.LinkAddr
	copy(wire[:], b[off:off+8])
	return wire.Reversed()
}

func writeAddr(b []byte, off int, addr state.LinkAddr) {
	wire := addr.Reversed()
	copy(b[off:off+8], wire[:])
}

// CheckHeader validates the parts of the header the decision relies on.
func CheckHeader(b []byte) error {
	if len(b) < HeaderLen {
		return fmt.Errorf("%w: %d < %d", ErrShortFrame, len(b), HeaderLen)
	}
	if frameType(b) != FrameTypeData {
		return ErrNotData
	}
	dstMode := (b[offsetFcf+1] >> 2) & 0x03
	srcMode := (b[offsetFcf+1] >> 6) & 0x03
	if dstMode != addrModeLong || srcMode != addrModeLong {
		return fmt.Errorf("%w: dst %d src %d", ErrAddressMode, dstMode, srcMode)
	}
	return nil
}

func ParseFrame(b []byte) (Frame, error) {
	if err := CheckHeader(b); err != nil {
		return Frame{}, err
	}
	f := Frame{
		Seq:        b[offsetSeq],
		Pan:        binary.LittleEndian.Uint16(b[offsetDstPan:]),
		AckRequest: ackRequested(b),
		Dst:        readAddr(b, offsetDst),
		Src:        readAddr(b, offsetSrc),
		Payload:    b[HeaderLen:],
	}
	copy(f.Iphc[:], b[offsetIphc:offsetDstIid])
	copy(f.DstIid[:], b[offsetDstIid:HeaderLen])
	return f, nil
}

func (f *Frame) Marshal() []byte {
	b := make([]byte, HeaderLen+len(f.Payload))
	fcf := uint16(FrameTypeData) | 1<<6 | addrModeLong<<10 | addrModeLong<<14
	if f.AckRequest {
		fcf |= 1 << 5
	}
	binary.LittleEndian.PutUint16(b[offsetFcf:], fcf)
	b[offsetSeq] = f.Seq
	binary.LittleEndian.PutUint16(b[offsetDstPan:], f.Pan)
	writeAddr(b, offsetDst, f.Dst)
	writeAddr(b, offsetSrc, f.Src)
	copy(b[offsetIphc:], f.Iphc[:])
	copy(b[offsetDstIid:], f.DstIid[:])
	copy(b[HeaderLen:], f.Payload)
	return b
}

// FrameDst reads the destination address without parsing the rest of the frame.
func FrameDst(b []byte) state.LinkAddr {
	return readAddr(b, offsetDst)
}

func FrameSrc(b []byte) state.LinkAddr {
	return readAddr(b, offsetSrc)
}

func FrameDstIid(b []byte) [8]byte {
	var iid [8]byte
	copy(iid[:], b[offsetDstIid:HeaderLen])
	return iid
}

func FrameAckRequested(b []byte) bool {
	return ackRequested(b)
}

// StampDst overwrites the destination address in place, marking the frame as taken by addr.
func StampDst(b []byte, addr state.LinkAddr) {
	writeAddr(b, offsetDst, addr)
}

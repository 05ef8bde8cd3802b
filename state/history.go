package state

import (
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Blacklist remembers the sequence numbers of packets that hit a routing set false positive
// on the way down. Once full, the oldest entry is evicted.
type Blacklist struct {
	ring *circularbuffer.Queue
}

func NewBlacklist(size int) *Blacklist {
	return &Blacklist{ring: circularbuffer.New(max(size, 1))}
}

func (b *Blacklist) Insert(seqno uint32) {
	if b.Contains(seqno) {
		return
	}
	b.ring.Enqueue(seqno)
}

func (b *Blacklist) Contains(seqno uint32) bool {
	for _, v := range b.ring.Values() {
		if v.(uint32) == seqno {
			return true
		}
	}
	return false
}

func (b *Blacklist) Len() int {
	return b.ring.Size()
}

func (b *Blacklist) Values() []uint32 {
	vals := b.ring.Values()
	out := make([]uint32, len(vals))
	for i, v := range vals {
		out[i] = v.(uint32)
	}
	return out
}

type AckedDownEntry struct {
	Seqno uint32
	Id    NodeId
}

type ackedDownSlot struct {
	AckedDownEntry
	consumed bool
}

// AckedDownHistory records which neighbour acknowledged each packet we forwarded downwards,
// so a recovery frame coming back from that neighbour can be taken back.
type AckedDownHistory struct {
	ring *circularbuffer.Queue
}

func NewAckedDownHistory(size int) *AckedDownHistory {
	return &AckedDownHistory{ring: circularbuffer.New(max(size, 1))}
}

func (h *AckedDownHistory) Insert(seqno uint32, id NodeId) {
	h.ring.Enqueue(&ackedDownSlot{AckedDownEntry: AckedDownEntry{Seqno: seqno, Id: id}})
}

func (h *AckedDownHistory) find(seqno uint32, id NodeId) *ackedDownSlot {
	vals := h.ring.Values()
	for i := len(vals) - 1; i >= 0; i-- {
		slot := vals[i].(*ackedDownSlot)
		if !slot.consumed && slot.Seqno == seqno && slot.Id == id {
			return slot
		}
	}
	return nil
}

func (h *AckedDownHistory) Contains(seqno uint32, id NodeId) bool {
	return h.find(seqno, id) != nil
}

// Take consumes a matching entry. Each insert admits at most one recovery.
func (h *AckedDownHistory) Take(seqno uint32, id NodeId) bool {
	slot := h.find(seqno, id)
	if slot == nil {
		return false
	}
	slot.consumed = true
	return true
}

func (h *AckedDownHistory) Len() int {
	return h.ring.Size()
}

func (h *AckedDownHistory) Entries() []AckedDownEntry {
	out := make([]AckedDownEntry, 0, h.ring.Size())
	for _, v := range h.ring.Values() {
		slot := v.(*ackedDownSlot)
		if !slot.consumed {
			out = append(out, slot.AckedDownEntry)
		}
	}
	return out
}

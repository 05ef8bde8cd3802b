package core

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

type RouterHarness struct {
	actions []HarnessEvent
}

func (h *RouterHarness) ResetDioTimer() {
	h.actions = append(h.actions, MakeEvent("RESET_DIO"))
}

func (h *RouterHarness) SendBroadcast(pkt []byte) {
	h.actions = append(h.actions, MakeEvent("BROADCAST", pkt))
}

func (h *RouterHarness) ChannelCheckInterval() time.Duration {
	return 125 * time.Millisecond
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions returns and clears the recorded actions, excluding logs
func (h *RouterHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}
	h.actions = make([]HarnessEvent, 0)
	return x
}

// GetEvents returns and clears everything recorded, logs included
func (h *RouterHarness) GetEvents() HarnessEvents {
	x := h.actions
	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

var testPrefix = netip.MustParsePrefix("fd00::/64")

// MakeState builds a node on a fresh scheduler, with every id in the deployment.
func MakeState(t *testing.T, id state.NodeId, sink bool, cfg state.OrplCfg, ids ...state.NodeId) *state.State {
	ctx, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() {
		cancel(nil)
	})
	dep := state.NewDeployment(testPrefix)
	dep.Add(id)
	for _, n := range ids {
		dep.Add(n)
	}
	env := &state.Env{
		OrplCfg:    cfg,
		NodeCfg:    state.NodeCfg{Id: id, Sink: sink},
		Deployment: dep,
		Sched:      state.NewScheduler(),
		Context:    ctx,
		Cancel:     cancel,
	}
	s, err := state.NewState(env)
	require.NoError(t, err)
	return s
}

// AddParent adds a neighbour with a known rank and ack count.
func AddParent(s *state.State, id state.NodeId, rank state.Rank, acks uint16) *state.Parent {
	p := s.AddParent(id)
	p.Rank = rank
	p.AckCount = acks
	return p
}

// MakeFrame builds an anycast data frame from src towards dst.
func MakeFrame(dir protocol.Direction, senderRank state.Rank, seqno uint32, src, dst state.NodeId) []byte {
	f := protocol.Frame{
		Seq:        uint8(seqno),
		Pan:        0xabcd,
		AckRequest: true,
		Dst:        protocol.EncodeAnycast(dir, senderRank, seqno),
		Src:        src.LinkAddr(),
		DstIid:     dst.LinkAddr().InterfaceId(),
		Payload:    []byte{0x01},
	}
	return f.Marshal()
}

func MakeUnicastFrame(src, dst state.NodeId) []byte {
	f := protocol.Frame{
		AckRequest: true,
		Dst:        dst.LinkAddr(),
		Src:        src.LinkAddr(),
		DstIid:     dst.LinkAddr().InterfaceId(),
	}
	return f.Marshal()
}

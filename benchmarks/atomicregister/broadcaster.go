package atomicregister

import (
	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/actor"
)

// CacheNodes hands the broadcaster the iteration's membership together with
// the identity it must stamp on outgoing fan-outs. Local-only message.
type CacheNodes struct {
	Sender actor.Path
	Nodes  []actor.Path
}

// CacheNodesAck confirms the membership is cached; the register node defers
// its InitAck until this arrives so that no broadcast can observe a stale
// membership. Local-only message.
type CacheNodesAck struct{}

// BroadcastRequest asks the broadcaster to fan a protocol message out to the
// cached membership. Local-only message.
type BroadcastRequest struct {
	Msg any
}

// Broadcaster performs fan-out on behalf of one register node, transmitting
// with the node's identity as the wire-level sender so that replies route to
// the node and the two dispatch variants stay indistinguishable on the wire.
type Broadcaster struct {
	sender actor.Path
	nodes  []actor.Path
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (m *Broadcaster) Receive(ctx *actor.Context, msg actor.Message) {
	switch v := msg.Payload.(type) {
	case CacheNodes:
		m.sender = v.Sender
		m.nodes = v.Nodes
		ctx.Reply(msg, CacheNodesAck{}, nil)
	case BroadcastRequest:
		if m.sender.IsZero() {
			ctx.Log().Errorw("broadcast requested before membership was cached")
			return
		}
		for _, node := range m.nodes {
			ctx.TellAs(m.sender, node, v.Msg, Codec{})
		}
	default:
		ctx.Log().Warnw("unexpected message", zap.Any("payload", msg.Payload))
	}
}

package partitioning

import (
	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/common/xsync"
)

// Start kicks off an iteration: the coordinator partitions the key space and
// sends every peer its Init. Local-only message, sent by the owning adapter
// right after the coordinator is spawned.
type Start struct{}

// Coordinator drives one benchmark iteration: it assigns each peer a rank
// and the whole key range [0, numKeys-1], collects InitAcks into the prepare
// latch, fans out Run on command and collects Dones into the finished latch.
// It is transient; the adapter spawns a fresh one per iteration.
type Coordinator struct {
	initID   uint32
	nodes    []actor.Path
	numKeys  uint64
	prepare  *xsync.Latch
	finished *xsync.Latch

	initAcks int
	dones    int
}

func NewCoordinator(initID uint32, nodes []actor.Path, numKeys uint64, prepare, finished *xsync.Latch) *Coordinator {
	return &Coordinator{
		initID:   initID,
		nodes:    nodes,
		numKeys:  numKeys,
		prepare:  prepare,
		finished: finished,
	}
}

func (m *Coordinator) Receive(ctx *actor.Context, msg actor.Message) {
	switch v := msg.Payload.(type) {
	case Start:
		m.sendInits(ctx)
	case Run:
		// External run command: relay to every peer.
		for _, node := range m.nodes {
			ctx.Tell(node, Run{}, Codec{})
		}
	case InitAck:
		if v.RunID != m.initID || m.prepare.Released() {
			ctx.Log().Debugw("dropping stale InitAck",
				zap.Uint32("run_id", v.RunID),
				zap.Uint32("current", m.initID),
			)
			return
		}
		m.initAcks++
		if m.initAcks == len(m.nodes) {
			ctx.Log().Debugw("all peers prepared", zap.Uint32("run_id", m.initID))
			m.prepare.Release()
		}
	case Done:
		if m.finished.Released() {
			ctx.Log().Debugw("dropping stale Done", zap.Stringer("sender", msg.Sender))
			return
		}
		m.dones++
		if m.dones == len(m.nodes) {
			ctx.Log().Debugw("all peers done", zap.Uint32("run_id", m.initID))
			m.finished.Release()
		}
	default:
		ctx.Log().Warnw("unexpected message", zap.Any("payload", msg.Payload))
	}
}

// sendInits assigns ranks in membership order and hands every peer the
// iteration's key range [0, numKeys-1]. All peers replicate all keys; a
// divergent partition map would make majority quorums unreachable.
// numKeys == 0 yields an inverted (empty) range.
func (m *Coordinator) sendInits(ctx *actor.Context) {
	// Inverted bounds encode the empty range.
	minKey := uint64(1)
	maxKey := uint64(0)
	if m.numKeys > 0 {
		minKey = 0
		maxKey = m.numKeys - 1
	}

	for i, node := range m.nodes {
		ctx.Tell(node, Init{
			InitID: m.initID,
			Rank:   uint32(i),
			MinKey: minKey,
			MaxKey: maxKey,
			Nodes:  m.nodes,
		}, Codec{})
	}
}

package atomicregister

import (
	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/benchmarks/partitioning"
)

// Node is the replicated-register state machine of one peer. It is an actor:
// every handler runs single-threaded, so the per-key maps need no locking
// and must never leak across the actor boundary.
//
// A node is re-initialized by each incoming Init: protocol messages carrying
// any other run id are stale and leave the state untouched. A stale Write is
// still acked, with its own run id echoed back.
type Node struct {
	readWorkload  float32
	writeWorkload float32

	// bcastComp, when set, receives fan-out requests instead of the node
	// broadcasting directly. Either way the node itself is part of the
	// audience, which closes quorums already at n = 1.
	bcastComp actor.Path

	master actor.Path
	nodes  []actor.Path
	n      uint32
	rank   uint32
	minKey uint64
	maxKey uint64

	readCount  uint64
	writeCount uint64

	currentRunID uint32
	registers    map[uint64]*registerState
	readLists    map[uint64]readList
}

// NewNode creates a register node that broadcasts directly to its peers.
func NewNode(readWorkload, writeWorkload float32) *Node {
	return &Node{
		readWorkload:  readWorkload,
		writeWorkload: writeWorkload,
		registers:     map[uint64]*registerState{},
		readLists:     map[uint64]readList{},
	}
}

// NewNodeWithBroadcaster creates a register node that delegates fan-out to
// the broadcaster at bcast. The broadcaster stamps this node as the sender,
// so replies come straight back here.
func NewNodeWithBroadcaster(readWorkload, writeWorkload float32, bcast actor.Path) *Node {
	node := NewNode(readWorkload, writeWorkload)
	node.bcastComp = bcast
	return node
}

func (m *Node) Receive(ctx *actor.Context, msg actor.Message) {
	switch v := msg.Payload.(type) {
	case partitioning.Init:
		m.onInit(ctx, msg.Sender, v)
	case CacheNodesAck:
		// Membership is cached downstream; only now is it safe to tell the
		// coordinator we are ready for broadcasts.
		ctx.Tell(m.master, partitioning.InitAck{RunID: m.currentRunID}, partitioning.Codec{})
	case partitioning.Run:
		m.invokeOperations(ctx)
	case Read:
		m.onRead(ctx, msg.Sender, v)
	case Value:
		m.onValue(ctx, v)
	case Write:
		m.onWrite(ctx, msg.Sender, v)
	case Ack:
		m.onAck(ctx, v)
	default:
		ctx.Log().Warnw("unexpected message", zap.Any("payload", msg.Payload))
	}
}

// onInit adopts the new epoch and rebuilds the per-key state for the
// assigned range. Register values do not survive re-initialization.
func (m *Node) onInit(ctx *actor.Context, sender actor.Path, init partitioning.Init) {
	m.currentRunID = init.InitID
	m.nodes = init.Nodes
	m.n = uint32(len(init.Nodes))
	m.rank = init.Rank
	m.minKey = init.MinKey
	m.maxKey = init.MaxKey
	m.master = sender

	numKeys := m.numKeys()
	m.registers = make(map[uint64]*registerState, numKeys)
	m.readLists = make(map[uint64]readList, numKeys)
	if numKeys > 0 {
		for key := m.minKey; ; key++ {
			m.registers[key] = newRegisterState()
			m.readLists[key] = readList{}
			if key == m.maxKey {
				break
			}
		}
	}

	if m.bcastComp.IsZero() {
		ctx.Tell(m.master, partitioning.InitAck{RunID: m.currentRunID}, partitioning.Codec{})
		return
	}
	ctx.Tell(m.bcastComp, CacheNodes{Sender: ctx.Self(), Nodes: init.Nodes}, nil)
}

func (m *Node) numKeys() uint64 {
	if m.maxKey < m.minKey {
		return 0
	}
	return m.maxKey - m.minKey + 1
}

// invokeOperations issues the configured share of reads and writes over the
// assigned key range. Even ranks read first, odd ranks write first, so
// concurrent phases overlap across peers.
func (m *Node) invokeOperations(ctx *actor.Context) {
	numKeys := m.numKeys()
	numReads := uint64(float32(numKeys) * m.readWorkload)
	numWrites := uint64(float32(numKeys) * m.writeWorkload)
	m.readCount = numReads
	m.writeCount = numWrites

	if m.rank%2 == 0 {
		for i := range numReads {
			m.invokeRead(ctx, m.minKey+i)
		}
		for i := range numWrites {
			m.invokeWrite(ctx, m.minKey+numReads+i)
		}
	} else {
		for i := range numWrites {
			m.invokeWrite(ctx, m.minKey+i)
		}
		for i := range numReads {
			m.invokeRead(ctx, m.minKey+numWrites+i)
		}
	}

	if numReads == 0 && numWrites == 0 {
		m.sendDone(ctx)
	}
}

// invokeRead opens a read: both reads and writes start with a Read
// broadcast; the rid ties every reply to this operation.
func (m *Node) invokeRead(ctx *actor.Context, key uint64) {
	register := m.registers[key]
	register.rid++
	register.acks = 0
	register.reading = true
	m.readLists[key].clear()

	m.broadcast(ctx, Read{
		RunID: m.currentRunID,
		Key:   key,
		Rid:   register.rid,
	})
}

func (m *Node) invokeWrite(ctx *actor.Context, key uint64) {
	register := m.registers[key]
	register.rid++
	register.writeval = m.rank
	register.acks = 0
	register.reading = false
	m.readLists[key].clear()

	m.broadcast(ctx, Read{
		RunID: m.currentRunID,
		Key:   key,
		Rid:   register.rid,
	})
}

func (m *Node) onRead(ctx *actor.Context, sender actor.Path, read Read) {
	if read.RunID != m.currentRunID {
		return
	}
	register, ok := m.lookup(ctx, read.Key)
	if !ok {
		return
	}

	ctx.Tell(sender, Value{
		RunID:      m.currentRunID,
		Key:        read.Key,
		Rid:        read.Rid,
		Ts:         register.ts,
		Wr:         register.wr,
		Value:      register.value,
		SenderRank: m.rank,
	}, Codec{})
}

func (m *Node) onValue(ctx *actor.Context, v Value) {
	if v.RunID != m.currentRunID {
		return
	}
	register, ok := m.lookup(ctx, v.Key)
	if !ok {
		return
	}
	if v.Rid != register.rid {
		return
	}
	list := m.readLists[v.Key]

	if register.reading {
		if len(list) == 0 {
			register.firstReceivedTs = v.Ts
			register.readval = v.Value
		} else if register.skipImpose && register.firstReceivedTs != v.Ts {
			register.skipImpose = false
		}
	}

	list[v.SenderRank] = taggedValue{ts: v.Ts, wr: v.Wr, value: v.Value}
	if uint32(len(list)) <= m.n/2 {
		return
	}

	if register.reading && register.skipImpose {
		// Unanimous timestamps: the value is already stable on a majority,
		// no write-back needed.
		register.value = register.readval
		list.clear()
		m.readResponse(ctx)
		return
	}

	max := list.max()
	register.readval = max.value

	var write Write
	if register.reading {
		write = Write{
			RunID: v.RunID,
			Key:   v.Key,
			Rid:   v.Rid,
			Ts:    max.ts,
			Wr:    max.wr,
			Value: max.value,
		}
	} else {
		write = Write{
			RunID: v.RunID,
			Key:   v.Key,
			Rid:   v.Rid,
			Ts:    max.ts + 1,
			Wr:    m.rank,
			Value: register.writeval,
		}
	}
	list.clear()
	m.broadcast(ctx, write)
}

func (m *Node) onWrite(ctx *actor.Context, sender actor.Path, w Write) {
	if w.RunID == m.currentRunID {
		register, ok := m.lookup(ctx, w.Key)
		if !ok {
			return
		}
		if w.Ts > register.ts || (w.Ts == register.ts && w.Wr > register.wr) {
			register.ts = w.Ts
			register.wr = w.Wr
			register.value = w.Value
		}
	}

	// Acked regardless of adoption: the writer only counts acks, the
	// stored tag already reflects a newer write.
	ctx.Tell(sender, Ack{
		RunID: w.RunID,
		Key:   w.Key,
		Rid:   w.Rid,
	}, Codec{})
}

func (m *Node) onAck(ctx *actor.Context, a Ack) {
	if a.RunID != m.currentRunID {
		return
	}
	register, ok := m.lookup(ctx, a.Key)
	if !ok {
		return
	}
	if a.Rid != register.rid {
		return
	}

	register.acks++
	if register.acks <= m.n/2 {
		return
	}
	register.acks = 0

	if register.reading {
		m.readResponse(ctx)
	} else {
		m.writeResponse(ctx)
	}
}

func (m *Node) readResponse(ctx *actor.Context) {
	m.readCount--
	m.maybeDone(ctx)
}

func (m *Node) writeResponse(ctx *actor.Context) {
	m.writeCount--
	m.maybeDone(ctx)
}

func (m *Node) maybeDone(ctx *actor.Context) {
	if m.readCount == 0 && m.writeCount == 0 {
		m.sendDone(ctx)
	}
}

func (m *Node) sendDone(ctx *actor.Context) {
	ctx.Tell(m.master, partitioning.Done{}, partitioning.Codec{})
}

// lookup resolves the register of key; a miss means a peer disagrees about
// the partition map, which is logged and treated as message loss.
func (m *Node) lookup(ctx *actor.Context, key uint64) (*registerState, bool) {
	register, ok := m.registers[key]
	if !ok {
		ctx.Log().Errorw("message references a key outside the assigned range",
			zap.Uint64("key", key),
			zap.Uint64("min_key", m.minKey),
			zap.Uint64("max_key", m.maxKey),
		)
		return nil, false
	}
	return register, true
}

func (m *Node) broadcast(ctx *actor.Context, msg any) {
	if !m.bcastComp.IsZero() {
		ctx.Tell(m.bcastComp, BroadcastRequest{Msg: msg}, nil)
		return
	}
	for _, node := range m.nodes {
		ctx.Tell(node, msg, Codec{})
	}
}

package atomicregister

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/benchmarks/partitioning"
	"github.com/distbench-platform/distbench/common/xsync"
)

const e2eRunID = 7

// cluster is a full in-process deployment: n register nodes plus a
// partitioning coordinator, all on one actor system over the local codecs.
type cluster struct {
	system *actor.System
	nodes  []actor.Path
	probe  *capture
	probeP actor.Path
}

func newCluster(t *testing.T, n int, read, write float32, broadcasters bool) *cluster {
	t.Helper()

	system, err := newRegisterSystem(actor.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })

	c := &cluster{system: system, probe: newCapture()}

	for i := range n {
		var node *Node
		if broadcasters {
			bcastPath, err := system.Spawn(fmt.Sprintf("bcast%d", i), NewBroadcaster())
			require.NoError(t, err)
			node = NewNodeWithBroadcaster(read, write, bcastPath)
		} else {
			node = NewNode(read, write)
		}

		path, err := system.Spawn(fmt.Sprintf("atomicreg%d", i), node)
		require.NoError(t, err)
		c.nodes = append(c.nodes, path)
	}

	c.probeP, err = system.Spawn("probe", c.probe)
	require.NoError(t, err)

	return c
}

// runIteration drives one full iteration through a fresh coordinator and
// returns once every node reported Done.
func (m *cluster) runIteration(t *testing.T, numKeys uint64) {
	t.Helper()

	prepare := xsync.NewLatch()
	finished := xsync.NewLatch()

	coordinator := partitioning.NewCoordinator(e2eRunID, m.nodes, numKeys, prepare, finished)
	coordPath, err := m.system.Spawn("partactor", coordinator)
	require.NoError(t, err)
	defer m.system.Stop("partactor")

	m.system.Tell(actor.Path{}, coordPath, partitioning.Start{}, nil)
	require.NoError(t, prepare.WaitTimeout(10*time.Second), "prepare barrier did not release")

	m.system.Tell(actor.Path{}, coordPath, partitioning.Run{}, nil)
	require.NoError(t, finished.WaitTimeout(30*time.Second), "finished barrier did not release")
}

// inspect asks every node for its stored state of key, using out-of-band
// rids so the probe reads do not collide with benchmark operations.
func (m *cluster) inspect(t *testing.T, key uint64) []Value {
	t.Helper()

	for i, node := range m.nodes {
		m.system.Tell(m.probeP, node, Read{
			RunID: e2eRunID,
			Key:   key,
			Rid:   1_000_000 + uint32(i),
		}, Codec{})
	}

	values := make([]Value, len(m.nodes))
	for range m.nodes {
		v := payload[Value](t, m.probe.next(t))
		require.Less(t, int(v.SenderRank), len(m.nodes))
		values[v.SenderRank] = v
	}
	return values
}

func TestClusterReadOnlyWorkload(t *testing.T) {
	c := newCluster(t, 3, 1.0, 0.0, false)
	c.runIteration(t, 3)

	// Nothing was ever written: every replica still holds the zero value
	// under the zero tag.
	for key := uint64(0); key < 3; key++ {
		for _, v := range c.inspect(t, key) {
			assert.Zero(t, v.Ts, "key %d", key)
			assert.Zero(t, v.Wr, "key %d", key)
			assert.Zero(t, v.Value, "key %d", key)
		}
	}
}

func TestClusterWriteOnlyWorkloadConverges(t *testing.T) {
	c := newCluster(t, 3, 0.0, 1.0, false)
	c.runIteration(t, 2)

	// Concurrent writers: per key, all replicas must agree on the winning
	// tag, and the value must be the rank that installed it.
	for key := uint64(0); key < 2; key++ {
		values := c.inspect(t, key)
		winner := values[0]
		require.NotZero(t, winner.Ts, "key %d was never written", key)
		assert.Equal(t, winner.Wr, winner.Value, "written value is the writer's rank")

		for rank, v := range values {
			assert.Equal(t, winner.Ts, v.Ts, "key %d rank %d", key, rank)
			assert.Equal(t, winner.Wr, v.Wr, "key %d rank %d", key, rank)
			assert.Equal(t, winner.Value, v.Value, "key %d rank %d", key, rank)
		}
	}
}

func TestClusterMixedWorkload(t *testing.T) {
	c := newCluster(t, 3, 0.5, 0.5, false)
	c.runIteration(t, 4)

	// Written keys converged across replicas.
	for key := uint64(0); key < 4; key++ {
		values := c.inspect(t, key)
		for _, v := range values[1:] {
			assert.Equal(t, values[0].Ts, v.Ts, "key %d", key)
			assert.Equal(t, values[0].Wr, v.Wr, "key %d", key)
			assert.Equal(t, values[0].Value, v.Value, "key %d", key)
		}
	}
}

func TestClusterSingleNode(t *testing.T) {
	c := newCluster(t, 1, 0.5, 0.5, false)
	c.runIteration(t, 10)

	for key := uint64(5); key < 10; key++ {
		values := c.inspect(t, key)
		assert.Equal(t, uint32(1), values[0].Ts, "key %d carries its first write", key)
	}
}

func TestClusterTwoNodesNeedBothReplies(t *testing.T) {
	// n = 2 makes the quorum exactly both peers; the iteration can only
	// finish if every message leg works.
	c := newCluster(t, 2, 0.5, 0.5, false)
	c.runIteration(t, 4)
}

func TestClusterEmptyKeySpace(t *testing.T) {
	c := newCluster(t, 3, 1.0, 0.0, false)
	c.runIteration(t, 0)
}

func TestClusterBroadcasterVariantConverges(t *testing.T) {
	// The indirected fan-out must behave exactly like direct dispatch; a
	// broadcaster that failed to preserve the node's identity would strand
	// every reply and hang the iteration.
	c := newCluster(t, 3, 0.0, 1.0, true)
	c.runIteration(t, 2)

	for key := uint64(0); key < 2; key++ {
		values := c.inspect(t, key)
		for _, v := range values[1:] {
			assert.Equal(t, values[0].Ts, v.Ts, "key %d", key)
			assert.Equal(t, values[0].Wr, v.Wr, "key %d", key)
			assert.Equal(t, values[0].Value, v.Value, "key %d", key)
		}
	}
}

func TestClusterAcrossSystems(t *testing.T) {
	// Same protocol, but each node on its own system: everything flows
	// through the TCP transport, as in a real deployment.
	log := zaptest.NewLogger(t).Sugar()

	var systems []*actor.System
	var nodes []actor.Path
	for range 3 {
		system, err := newRegisterSystem(actor.DefaultConfig(), log)
		require.NoError(t, err)
		t.Cleanup(func() { system.Close() })
		systems = append(systems, system)

		path, err := system.Spawn("atomicreg", NewNode(0.5, 0.5))
		require.NoError(t, err)
		nodes = append(nodes, path)
	}

	prepare := xsync.NewLatch()
	finished := xsync.NewLatch()

	coordPath, err := systems[0].Spawn("partactor", partitioning.NewCoordinator(
		e2eRunID, nodes, 4, prepare, finished,
	))
	require.NoError(t, err)

	systems[0].Tell(actor.Path{}, coordPath, partitioning.Start{}, nil)
	require.NoError(t, prepare.WaitTimeout(10*time.Second), "prepare barrier did not release")

	systems[0].Tell(actor.Path{}, coordPath, partitioning.Run{}, nil)
	require.NoError(t, finished.WaitTimeout(30*time.Second), "finished barrier did not release")
}

package atomicregister

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/harness"
)

func TestClientConfRoundTrip(t *testing.T) {
	conf := encodeClientConf(0.25, 0.75)
	read, write, err := parseClientConf(conf)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), read)
	assert.Equal(t, float32(0.75), write)

	for _, raw := range []string{"", "0.5", "0.5,0.5,0.5", "x,0.5", "0.5,y"} {
		_, _, err := parseClientConf(raw)
		require.Error(t, err, "conf %q must not parse", raw)
	}
}

func TestMasterSetupRejectsInvalidConfig(t *testing.T) {
	bench := NewBenchmark(actor.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	master := bench.NewMaster()

	cfg := harness.DefaultConfig()
	cfg.ReadWorkload = 0.8
	cfg.WriteWorkload = 0.8

	_, err := master.Setup(cfg)
	require.Error(t, err)
}

func TestMasterPrepareNeedsEnoughClients(t *testing.T) {
	bench := NewBenchmark(actor.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	master := bench.NewMaster()

	cfg := harness.DefaultConfig()
	cfg.PartitionSize = 3

	_, err := master.Setup(cfg)
	require.NoError(t, err)
	defer master.CleanupIteration(true)

	require.Error(t, master.PrepareIteration([]string{"127.0.0.1:1/only-one"}))
}

func runAdapterLifecycle(t *testing.T, bench *Benchmark) {
	t.Helper()

	master := bench.NewMaster()

	cfg := harness.DefaultConfig()
	cfg.PartitionSize = 3
	cfg.NumberOfKeys = 20
	cfg.ReadWorkload = 0.5
	cfg.WriteWorkload = 0.5
	cfg.Timeout = 15 * time.Second

	conf, err := master.Setup(cfg)
	require.NoError(t, err)

	clients := []harness.ClientBench{bench.NewClient(), bench.NewClient()}
	clientData := make([]string, 0, len(clients))
	for _, client := range clients {
		data, err := client.Setup(conf)
		require.NoError(t, err)
		clientData = append(clientData, data)
	}

	for iteration := range 3 {
		require.NoError(t, master.PrepareIteration(clientData))
		require.NoError(t, master.RunIteration())

		last := iteration == 2
		require.NoError(t, master.CleanupIteration(last))
		for _, client := range clients {
			require.NoError(t, client.PrepareIteration())
			require.NoError(t, client.CleanupIteration(last))
		}
	}
}

func TestAdapterLifecycleDirect(t *testing.T) {
	runAdapterLifecycle(t, NewBenchmark(actor.DefaultConfig(), zaptest.NewLogger(t).Sugar()))
}

func TestAdapterLifecycleBroadcaster(t *testing.T) {
	runAdapterLifecycle(t, NewBroadcastBenchmark(actor.DefaultConfig(), zaptest.NewLogger(t).Sugar()))
}

package harness_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/benchmarks/atomicregister"
	"github.com/distbench-platform/distbench/benchmarks/netpingpong"
	"github.com/distbench-platform/distbench/harness"
	"github.com/distbench-platform/distbench/harness/benchpb"
)

// freeEndpoint reserves a loopback port for the master to bind.
func freeEndpoint(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func newTestRegistry(t *testing.T) *harness.Registry {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	registry := harness.NewRegistry()
	require.NoError(t, registry.Register(atomicregister.NewBenchmark(actor.DefaultConfig(), log)))
	require.NoError(t, registry.Register(atomicregister.NewBroadcastBenchmark(actor.DefaultConfig(), log)))
	require.NoError(t, registry.Register(netpingpong.NewBenchmark(actor.DefaultConfig(), log)))
	return registry
}

// runDeployment drives one master and one client through a full benchmark
// run over loopback gRPC.
func runDeployment(t *testing.T, pattern string, bench harness.Config, force bool) {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	endpoint := freeEndpoint(t)
	registry := newTestRegistry(t)

	masterCfg := harness.DefaultMasterConfig()
	masterCfg.Endpoint = endpoint
	masterCfg.WaitFor = 1
	masterCfg.Benchmarks = pattern
	masterCfg.MinRuns = 2
	masterCfg.MaxRuns = 2
	masterCfg.RPCTimeout = 30 * time.Second
	masterCfg.ForceShutdown = force
	masterCfg.Bench = bench

	master, err := harness.NewMaster(masterCfg, registry, harness.WithMasterLog(log))
	require.NoError(t, err)

	clientCfg := harness.DefaultClientConfig()
	clientCfg.Endpoint = "127.0.0.1:0"
	clientCfg.MasterEndpoint = endpoint
	client := harness.NewClient(clientCfg, registry, harness.WithClientLog(log))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return master.Run(ctx)
	})
	wg.Go(func() error {
		return client.Run(ctx)
	})

	require.NoError(t, wg.Wait())
}

func TestDeploymentPingPong(t *testing.T) {
	bench := harness.DefaultConfig()
	bench.MessageCount = 20
	bench.Timeout = 15 * time.Second

	runDeployment(t, "netpingpong", bench, false)
}

func TestDeploymentPingPongForceShutdown(t *testing.T) {
	bench := harness.DefaultConfig()
	bench.MessageCount = 20
	bench.Timeout = 15 * time.Second

	// Same run, but clients are dismissed without draining at the end.
	runDeployment(t, "netpingpong", bench, true)
}

func TestDeploymentAtomicRegister(t *testing.T) {
	bench := harness.DefaultConfig()
	bench.PartitionSize = 2
	bench.NumberOfKeys = 10
	bench.ReadWorkload = 0.5
	bench.WriteWorkload = 0.5
	bench.Timeout = 15 * time.Second

	runDeployment(t, "atomicregister", bench, false)
}

func TestDeploymentAtomicRegisterBroadcaster(t *testing.T) {
	bench := harness.DefaultConfig()
	bench.PartitionSize = 2
	bench.NumberOfKeys = 10
	bench.ReadWorkload = 1.0
	bench.WriteWorkload = 0.0
	bench.Timeout = 15 * time.Second

	runDeployment(t, "atomicregister-bcast", bench, false)
}

func TestClientGracefulShutdownKeepsDraining(t *testing.T) {
	registry := newTestRegistry(t)
	client := harness.NewClient(harness.DefaultClientConfig(), registry,
		harness.WithClientLog(zaptest.NewLogger(t).Sugar()))

	ctx := context.Background()
	resp, err := client.Setup(ctx, &benchpb.SetupConfig{Label: "netpingpong", Data: "100"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	_, err = client.Shutdown(ctx, &benchpb.ShutdownRequest{})
	require.NoError(t, err)

	// The graceful path still drains: the active benchmark can finish its
	// final cleanup after the dismissal.
	_, err = client.Cleanup(ctx, &benchpb.CleanupInfo{Final: true})
	require.NoError(t, err)
}

func TestClientForceShutdownAbandonsActiveBench(t *testing.T) {
	registry := newTestRegistry(t)
	client := harness.NewClient(harness.DefaultClientConfig(), registry,
		harness.WithClientLog(zaptest.NewLogger(t).Sugar()))

	ctx := context.Background()
	resp, err := client.Setup(ctx, &benchpb.SetupConfig{Label: "netpingpong", Data: "100"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	_, err = client.Shutdown(ctx, &benchpb.ShutdownRequest{Force: true})
	require.NoError(t, err)

	_, err = client.Cleanup(ctx, &benchpb.CleanupInfo{Final: true})
	require.Error(t, err, "a forced shutdown abandons the active benchmark")
}

func TestMasterRejectsInvalidParameters(t *testing.T) {
	registry := newTestRegistry(t)

	cfg := harness.DefaultMasterConfig()
	cfg.Bench.ReadWorkload = 0.9
	cfg.Bench.WriteWorkload = 0.9

	_, err := harness.NewMaster(cfg, registry)
	require.Error(t, err)
}

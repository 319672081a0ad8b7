package harness

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/distbench-platform/distbench/common/logging"
	"github.com/distbench-platform/distbench/harness/benchpb"
)

// MasterConfig configures the benchmark master.
type MasterConfig struct {
	// Endpoint is the gRPC endpoint clients check in to.
	Endpoint string `yaml:"endpoint"`
	// WaitFor is the number of clients required before benchmarks start.
	WaitFor int `yaml:"wait_for"`
	// Benchmarks selects benchmark labels by glob pattern.
	Benchmarks string `yaml:"benchmarks"`
	// MinRuns and MaxRuns bound the iterations per benchmark; between them
	// the run stops once the relative standard error is at or below RSETarget.
	MinRuns   int     `yaml:"min_runs"`
	MaxRuns   int     `yaml:"max_runs"`
	RSETarget float64 `yaml:"rse_target"`
	// RPCTimeout bounds every control-plane call towards a client.
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	// ForceShutdown dismisses clients without draining once the benchmarks
	// are done. Clients of a failed run are always force-dismissed.
	ForceShutdown bool `yaml:"force_shutdown"`
	// Bench is the parameter set handed to each benchmark.
	Bench Config `yaml:"bench"`
}

// DefaultMasterConfig returns the default configuration.
func DefaultMasterConfig() *MasterConfig {
	return &MasterConfig{
		Endpoint:   "127.0.0.1:45678",
		WaitFor:    2,
		Benchmarks: "*",
		MinRuns:    30,
		MaxRuns:    100,
		RSETarget:  0.1,
		RPCTimeout: time.Minute,
		Bench:      DefaultConfig(),
	}
}

// Master orchestrates a benchmark deployment: it waits for the configured
// number of clients to check in, then drives every selected benchmark
// through its iterations and finally shuts the clients down.
type Master struct {
	cfg      *MasterConfig
	registry *Registry
	server   *grpc.Server
	checkins chan benchpb.ClientInfo
	log      *zap.SugaredLogger
}

type masterOptions struct {
	Log *zap.SugaredLogger
}

// MasterOption is a function that configures the master.
type MasterOption func(*masterOptions)

// WithMasterLog sets the logger for the master.
func WithMasterLog(log *zap.SugaredLogger) MasterOption {
	return func(o *masterOptions) {
		o.Log = log
	}
}

func NewMaster(cfg *MasterConfig, registry *Registry, options ...MasterOption) (*Master, error) {
	opts := &masterOptions{Log: zap.NewNop().Sugar()}
	for _, o := range options {
		o(opts)
	}

	if err := cfg.Bench.Validate(); err != nil {
		return nil, fmt.Errorf("invalid benchmark parameters: %w", err)
	}
	if cfg.WaitFor < 0 {
		return nil, fmt.Errorf("wait_for must be non-negative, got %d", cfg.WaitFor)
	}

	m := &Master{
		cfg:      cfg,
		registry: registry,
		server:   grpc.NewServer(grpc.ForceServerCodec(benchpb.Codec{})),
		checkins: make(chan benchpb.ClientInfo, 16),
		log:      logging.Named(opts.Log, "master"),
	}
	benchpb.RegisterMasterServer(m.server, &masterService{checkins: m.checkins, log: m.log})

	return m, nil
}

// Run blocks until every selected benchmark completed or ctx is canceled.
func (m *Master) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to bind master endpoint: %w", err)
	}

	m.log.Infow("master waiting for clients",
		zap.Stringer("addr", listener.Addr()),
		zap.Int("wait_for", m.cfg.WaitFor),
	)

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.server.Serve(listener)
	})
	wg.Go(func() error {
		defer m.server.GracefulStop()
		return m.orchestrate(ctx)
	})

	return wg.Wait()
}

// Close stops the master's gRPC server.
func (m *Master) Close() error {
	m.server.Stop()
	return nil
}

func (m *Master) orchestrate(ctx context.Context) error {
	clients, err := m.collectClients(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, client := range clients {
			client.close()
		}
	}()

	benches, err := m.registry.Match(m.cfg.Benchmarks)
	if err != nil {
		return err
	}
	if len(benches) == 0 {
		return fmt.Errorf("no benchmark matches pattern %q", m.cfg.Benchmarks)
	}

	for _, bench := range benches {
		if err := m.runBenchmark(ctx, bench, clients); err != nil {
			// The clients' state is unknown after a failed run: dismiss
			// them hard so they do not linger on a dead deployment.
			m.shutdownClients(ctx, clients, true)
			return fmt.Errorf("benchmark %s failed: %w", bench.Label(), err)
		}
	}

	return m.shutdownClients(ctx, clients, m.cfg.ForceShutdown)
}

// collectClients waits for WaitFor check-ins and dials each client back.
func (m *Master) collectClients(ctx context.Context) ([]*clientEntry, error) {
	clients := make([]*clientEntry, 0, m.cfg.WaitFor)
	for len(clients) < m.cfg.WaitFor {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case info := <-m.checkins:
			entry, err := m.dialClient(info)
			if err != nil {
				return nil, err
			}
			clients = append(clients, entry)
			m.log.Infow("client checked in",
				zap.String("endpoint", entry.endpoint),
				zap.Int("count", len(clients)),
			)
		}
	}
	return clients, nil
}

func (m *Master) dialClient(info benchpb.ClientInfo) (*clientEntry, error) {
	endpoint := net.JoinHostPort(info.Address, fmt.Sprint(info.Port))
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial client %s: %w", endpoint, err)
	}
	return &clientEntry{
		endpoint: endpoint,
		conn:     conn,
		stub:     benchpb.NewBenchClient(conn),
	}, nil
}

func (m *Master) runBenchmark(ctx context.Context, bench Benchmark, clients []*clientEntry) error {
	log := logging.Named(m.log, bench.Label())
	log.Info("running benchmark")

	master := bench.NewMaster()
	clientConf, err := master.Setup(m.cfg.Bench)
	if err != nil {
		return fmt.Errorf("master setup failed: %w", err)
	}

	clientData := make([]string, 0, len(clients))
	for _, client := range clients {
		data, err := client.setup(ctx, m.cfg.RPCTimeout, bench.Label(), clientConf)
		if err != nil {
			return fmt.Errorf("client %s setup failed: %w", client.endpoint, err)
		}
		clientData = append(clientData, data)
	}

	stats := runStats{}
	for {
		if err := master.PrepareIteration(clientData); err != nil {
			return fmt.Errorf("prepare failed on run %d: %w", stats.count()+1, err)
		}

		started := time.Now()
		if err := master.RunIteration(); err != nil {
			return fmt.Errorf("run %d failed: %w", stats.count()+1, err)
		}
		stats.add(float64(time.Since(started)) / float64(time.Millisecond))

		last := stats.count() >= m.cfg.MaxRuns ||
			(stats.count() >= m.cfg.MinRuns && stats.rse() <= m.cfg.RSETarget)

		if err := master.CleanupIteration(last); err != nil {
			return fmt.Errorf("cleanup failed on run %d: %w", stats.count(), err)
		}
		for _, client := range clients {
			if err := client.cleanup(ctx, m.cfg.RPCTimeout, last); err != nil {
				return fmt.Errorf("client %s cleanup failed: %w", client.endpoint, err)
			}
		}

		if last {
			break
		}
	}

	log.Infow("benchmark finished",
		zap.Int("runs", stats.count()),
		zap.Float64("mean_millis", stats.mean()),
		zap.Float64("stddev_millis", stats.stddev()),
		zap.Float64("rse", stats.rse()),
	)
	return nil
}

// shutdownClients dismisses every client; with force set they tear down
// immediately instead of draining, so a lost ack is expected and only
// logged.
func (m *Master) shutdownClients(ctx context.Context, clients []*clientEntry, force bool) error {
	for _, client := range clients {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
		_, err := client.stub.Shutdown(callCtx, &benchpb.ShutdownRequest{Force: force})
		cancel()
		if err != nil {
			m.log.Warnw("failed to shut down client",
				zap.String("endpoint", client.endpoint),
				zap.Bool("force", force),
				zap.Error(err),
			)
		}
	}
	return nil
}

// clientEntry is one checked-in client with its control-plane stub.
type clientEntry struct {
	endpoint string
	conn     *grpc.ClientConn
	stub     *benchpb.BenchClient
}

func (m *clientEntry) setup(ctx context.Context, timeout time.Duration, label, conf string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := m.stub.Setup(callCtx, &benchpb.SetupConfig{Label: label, Data: conf})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("client rejected setup: %s", resp.Data)
	}
	return resp.Data, nil
}

func (m *clientEntry) cleanup(ctx context.Context, timeout time.Duration, final bool) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := m.stub.Cleanup(callCtx, &benchpb.CleanupInfo{Final: final})
	return err
}

func (m *clientEntry) close() {
	m.conn.Close()
}

// masterService exposes the check-in RPC.
type masterService struct {
	checkins chan benchpb.ClientInfo
	log      *zap.SugaredLogger
}

func (m *masterService) CheckIn(ctx context.Context, in *benchpb.ClientInfo) (*benchpb.CheckinResponse, error) {
	select {
	case m.checkins <- *in:
		return &benchpb.CheckinResponse{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package harness

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/distbench-platform/distbench/common/logging"
	"github.com/distbench-platform/distbench/harness/benchpb"
)

// ClientConfig configures a benchmark client.
type ClientConfig struct {
	// Endpoint is the gRPC endpoint this client serves the control plane
	// on. Port 0 picks a free port.
	Endpoint string `yaml:"endpoint"`
	// MasterEndpoint is where to check in.
	MasterEndpoint string `yaml:"master_endpoint"`
	// CheckinTimeout bounds the overall check-in retry loop.
	CheckinTimeout time.Duration `yaml:"checkin_timeout"`
}

// DefaultClientConfig returns the default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint:       "127.0.0.1:0",
		MasterEndpoint: "127.0.0.1:45678",
		CheckinTimeout: time.Minute,
	}
}

// Client serves the client side of the control plane: it checks in to the
// master, then executes Setup/Cleanup/Shutdown commands against the local
// benchmark implementations until the master dismisses it.
type Client struct {
	cfg      *ClientConfig
	registry *Registry
	server   *grpc.Server
	shutdown chan struct{}
	// forced flips when the master demands an immediate exit; the server
	// is then stopped without draining.
	forced atomic.Bool
	log    *zap.SugaredLogger

	// active is the client side of the benchmark currently being driven.
	// The control plane is sequential, so no locking is needed.
	active ClientBench
}

type clientOptions struct {
	Log *zap.SugaredLogger
}

// ClientOption is a function that configures the client.
type ClientOption func(*clientOptions)

// WithClientLog sets the logger for the client.
func WithClientLog(log *zap.SugaredLogger) ClientOption {
	return func(o *clientOptions) {
		o.Log = log
	}
}

func NewClient(cfg *ClientConfig, registry *Registry, options ...ClientOption) *Client {
	opts := &clientOptions{Log: zap.NewNop().Sugar()}
	for _, o := range options {
		o(opts)
	}

	m := &Client{
		cfg:      cfg,
		registry: registry,
		server:   grpc.NewServer(grpc.ForceServerCodec(benchpb.Codec{})),
		shutdown: make(chan struct{}),
		log:      logging.Named(opts.Log, "client"),
	}
	benchpb.RegisterClientServer(m.server, m)

	return m
}

// Run serves the control plane until the master sends Shutdown or ctx is
// canceled.
func (m *Client) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to bind client endpoint: %w", err)
	}

	m.log.Infow("client control plane listening", zap.Stringer("addr", listener.Addr()))

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.server.Serve(listener)
	})
	wg.Go(func() error {
		// A forced dismissal tears the server down without waiting for
		// in-flight RPCs.
		defer func() {
			if m.forced.Load() {
				m.server.Stop()
			} else {
				m.server.GracefulStop()
			}
		}()

		if err := m.checkIn(ctx, listener.Addr()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.shutdown:
			if m.forced.Load() {
				m.log.Warn("client force-dismissed by master")
			} else {
				m.log.Info("client dismissed by master")
			}
			return nil
		}
	})

	return wg.Wait()
}

// checkIn announces this client to the master, retrying with exponential
// backoff while the master is still coming up.
func (m *Client) checkIn(ctx context.Context, addr net.Addr) error {
	host, portRaw, err := net.SplitHostPort(addr.String())
	if err != nil {
		return fmt.Errorf("failed to split client endpoint: %w", err)
	}
	port, err := strconv.ParseUint(portRaw, 10, 16)
	if err != nil {
		return fmt.Errorf("failed to parse client port: %w", err)
	}

	conn, err := grpc.NewClient(
		m.cfg.MasterEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("failed to dial master: %w", err)
	}
	defer conn.Close()

	stub := benchpb.NewMasterClient(conn)
	info := &benchpb.ClientInfo{Address: host, Port: uint32(port)}

	_, err = backoff.Retry(ctx,
		func() (*benchpb.CheckinResponse, error) {
			return stub.CheckIn(ctx, info)
		},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(m.cfg.CheckinTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to check in to master %s: %w", m.cfg.MasterEndpoint, err)
	}

	m.log.Infow("checked in", zap.String("master", m.cfg.MasterEndpoint))
	return nil
}

// Setup implements benchpb.ClientServer.
func (m *Client) Setup(ctx context.Context, in *benchpb.SetupConfig) (*benchpb.SetupResponse, error) {
	bench, ok := m.registry.Get(in.Label)
	if !ok {
		return &benchpb.SetupResponse{
			Data: fmt.Sprintf("unknown benchmark %q", in.Label),
		}, nil
	}

	m.log.Infow("setting up benchmark", zap.String("benchmark", in.Label))

	cb := bench.NewClient()
	data, err := cb.Setup(in.Data)
	if err != nil {
		return &benchpb.SetupResponse{Data: err.Error()}, nil
	}
	if err := cb.PrepareIteration(); err != nil {
		return &benchpb.SetupResponse{Data: err.Error()}, nil
	}

	m.active = cb
	return &benchpb.SetupResponse{Success: true, Data: data}, nil
}

// Cleanup implements benchpb.ClientServer.
func (m *Client) Cleanup(ctx context.Context, in *benchpb.CleanupInfo) (*benchpb.CleanupResponse, error) {
	if m.active == nil {
		return nil, fmt.Errorf("no active benchmark to clean up")
	}

	if err := m.active.CleanupIteration(in.Final); err != nil {
		return nil, err
	}
	if in.Final {
		m.log.Info("benchmark released")
		m.active = nil
		return &benchpb.CleanupResponse{}, nil
	}

	if err := m.active.PrepareIteration(); err != nil {
		return nil, err
	}
	return &benchpb.CleanupResponse{}, nil
}

// Shutdown implements benchpb.ClientServer. Without Force the client exits
// after the current work is drained; with Force it abandons the active
// benchmark and stops immediately.
func (m *Client) Shutdown(ctx context.Context, in *benchpb.ShutdownRequest) (*benchpb.ShutdownAck, error) {
	if in.Force {
		m.active = nil
		m.forced.Store(true)
	}

	select {
	case <-m.shutdown:
	default:
		close(m.shutdown)
	}
	return &benchpb.ShutdownAck{}, nil
}

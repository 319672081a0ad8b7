package netpingpong

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/common/logging"
	"github.com/distbench-platform/distbench/common/xsync"
	"github.com/distbench-platform/distbench/harness"
)

// Benchmark binds the ping-pong exchange to the harness.
type Benchmark struct {
	actorCfg *actor.Config
	log      *zap.SugaredLogger
}

func NewBenchmark(actorCfg *actor.Config, log *zap.SugaredLogger) *Benchmark {
	return &Benchmark{actorCfg: actorCfg, log: log}
}

func (m *Benchmark) Label() string {
	return "netpingpong"
}

func (m *Benchmark) NewMaster() harness.MasterBench {
	return &masterBench{
		actorCfg: m.actorCfg,
		log:      logging.Named(m.log, m.Label(), "master"),
	}
}

func (m *Benchmark) NewClient() harness.ClientBench {
	return &clientBench{
		actorCfg: m.actorCfg,
		log:      logging.Named(m.log, m.Label(), "client"),
	}
}

func newPingPongSystem(cfg *actor.Config, log *zap.SugaredLogger) (*actor.System, error) {
	system, err := actor.NewSystem(cfg, actor.WithLog(log))
	if err != nil {
		return nil, fmt.Errorf("failed to start actor system: %w", err)
	}
	if err := system.RegisterSerializer(PingCodec{}); err != nil {
		system.Close()
		return nil, err
	}
	if err := system.RegisterSerializer(PongCodec{}); err != nil {
		system.Close()
		return nil, err
	}
	return system, nil
}

type masterBench struct {
	actorCfg *actor.Config
	log      *zap.SugaredLogger

	cfg    harness.Config
	system *actor.System

	iteration  uint32
	pingerName string
	pingerPath actor.Path
	done       *xsync.Latch
}

func (m *masterBench) Setup(cfg harness.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.MessageCount < 1 {
		return "", fmt.Errorf("message count must be at least 1, got %d", cfg.MessageCount)
	}
	m.cfg = cfg

	system, err := newPingPongSystem(m.actorCfg, m.log)
	if err != nil {
		return "", err
	}
	m.system = system

	return strconv.FormatUint(cfg.MessageCount, 10), nil
}

func (m *masterBench) PrepareIteration(clientData []string) error {
	if len(clientData) < 1 {
		return fmt.Errorf("ping-pong needs one client, have none")
	}
	ponger, err := actor.ParsePath(clientData[0])
	if err != nil {
		return err
	}

	m.done = xsync.NewLatch()
	m.pingerName = fmt.Sprintf("pinger%d", m.iteration)
	m.iteration++

	m.pingerPath, err = m.system.Spawn(m.pingerName, NewPinger(m.cfg.MessageCount, ponger, m.done))
	return err
}

func (m *masterBench) RunIteration() error {
	m.system.Tell(actor.Path{}, m.pingerPath, Start{}, nil)

	if err := m.done.WaitTimeout(m.cfg.Timeout); err != nil {
		return fmt.Errorf("iteration did not finish: %w", err)
	}
	return nil
}

func (m *masterBench) CleanupIteration(last bool) error {
	m.system.Stop(m.pingerName)

	if last {
		if err := m.system.Close(); err != nil {
			return err
		}
		m.system = nil
	}
	return nil
}

type clientBench struct {
	actorCfg *actor.Config
	log      *zap.SugaredLogger

	system *actor.System
}

const pongerName = "ponger"

func (m *clientBench) Setup(conf string) (string, error) {
	if _, err := strconv.ParseUint(conf, 10, 64); err != nil {
		return "", fmt.Errorf("invalid message count %q: %w", conf, err)
	}

	system, err := newPingPongSystem(m.actorCfg, m.log)
	if err != nil {
		return "", err
	}

	pongerPath, err := system.Spawn(pongerName, NewPonger())
	if err != nil {
		system.Close()
		return "", err
	}

	m.system = system
	return pongerPath.String(), nil
}

func (m *clientBench) PrepareIteration() error {
	return nil
}

func (m *clientBench) CleanupIteration(last bool) error {
	if !last {
		return nil
	}
	if err := m.system.Close(); err != nil {
		return err
	}
	m.system = nil
	return nil
}

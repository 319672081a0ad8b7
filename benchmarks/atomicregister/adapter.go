package atomicregister

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/benchmarks/partitioning"
	"github.com/distbench-platform/distbench/common/logging"
	"github.com/distbench-platform/distbench/common/xsync"
	"github.com/distbench-platform/distbench/harness"
)

// Benchmark binds the register protocol to the harness, in one of its two
// dispatch variants. Both produce identical peer-to-peer message sequences;
// they differ only in whether the node fans out itself or through a
// broadcaster actor.
type Benchmark struct {
	label          string
	useBroadcaster bool
	actorCfg       *actor.Config
	log            *zap.SugaredLogger
}

// NewBenchmark builds the direct-broadcast variant.
func NewBenchmark(actorCfg *actor.Config, log *zap.SugaredLogger) *Benchmark {
	return &Benchmark{
		label:    "atomicregister",
		actorCfg: actorCfg,
		log:      log,
	}
}

// NewBroadcastBenchmark builds the broadcaster-indirected variant.
func NewBroadcastBenchmark(actorCfg *actor.Config, log *zap.SugaredLogger) *Benchmark {
	return &Benchmark{
		label:          "atomicregister-bcast",
		useBroadcaster: true,
		actorCfg:       actorCfg,
		log:            log,
	}
}

func (m *Benchmark) Label() string {
	return m.label
}

func (m *Benchmark) NewMaster() harness.MasterBench {
	return &masterBench{
		useBroadcaster: m.useBroadcaster,
		actorCfg:       m.actorCfg,
		log:            logging.Named(m.log, m.label, "master"),
	}
}

func (m *Benchmark) NewClient() harness.ClientBench {
	return &clientBench{
		useBroadcaster: m.useBroadcaster,
		actorCfg:       m.actorCfg,
		log:            logging.Named(m.log, m.label, "client"),
	}
}

// newRegisterSystem starts an actor system with the protocol codecs
// registered.
func newRegisterSystem(cfg *actor.Config, log *zap.SugaredLogger) (*actor.System, error) {
	system, err := actor.NewSystem(cfg, actor.WithLog(log))
	if err != nil {
		return nil, fmt.Errorf("failed to start actor system: %w", err)
	}
	if err := system.RegisterSerializer(Codec{}); err != nil {
		system.Close()
		return nil, err
	}
	if err := system.RegisterSerializer(partitioning.Codec{}); err != nil {
		system.Close()
		return nil, err
	}
	return system, nil
}

// encodeClientConf renders the workloads the way clients parse them back.
func encodeClientConf(read, write float32) string {
	return strconv.FormatFloat(float64(read), 'f', -1, 32) +
		"," +
		strconv.FormatFloat(float64(write), 'f', -1, 32)
}

func parseClientConf(conf string) (read, write float32, err error) {
	parts := strings.Split(conf, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("client conf %q does not hold two workloads", conf)
	}
	r, err := strconv.ParseFloat(parts[0], 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid read workload %q: %w", parts[0], err)
	}
	w, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid write workload %q: %w", parts[1], err)
	}
	return float32(r), float32(w), nil
}

// masterBench drives the master side: a fresh register node and coordinator
// per iteration, synchronized through the prepare and finished latches.
type masterBench struct {
	useBroadcaster bool
	actorCfg       *actor.Config
	log            *zap.SugaredLogger

	cfg    harness.Config
	system *actor.System

	initID    uint32
	nodeName  string
	bcastName string
	coordName string
	coordPath actor.Path
	finished  *xsync.Latch
}

func (m *masterBench) Setup(cfg harness.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	m.cfg = cfg

	system, err := newRegisterSystem(m.actorCfg, m.log)
	if err != nil {
		return "", err
	}
	m.system = system

	return encodeClientConf(cfg.ReadWorkload, cfg.WriteWorkload), nil
}

func (m *masterBench) PrepareIteration(clientData []string) error {
	peers := int(m.cfg.PartitionSize) - 1
	if len(clientData) < peers {
		return fmt.Errorf("partition of %d peers needs %d clients, have %d",
			m.cfg.PartitionSize, peers, len(clientData))
	}

	m.nodeName = fmt.Sprintf("atomicreg%d", m.initID)
	m.coordName = fmt.Sprintf("partactor%d", m.initID)

	var node *Node
	if m.useBroadcaster {
		m.bcastName = fmt.Sprintf("bcast%d", m.initID)
		bcastPath, err := m.system.Spawn(m.bcastName, NewBroadcaster())
		if err != nil {
			return err
		}
		node = NewNodeWithBroadcaster(m.cfg.ReadWorkload, m.cfg.WriteWorkload, bcastPath)
	} else {
		node = NewNode(m.cfg.ReadWorkload, m.cfg.WriteWorkload)
	}

	nodePath, err := m.system.Spawn(m.nodeName, node)
	if err != nil {
		return err
	}

	nodes := make([]actor.Path, 0, m.cfg.PartitionSize)
	nodes = append(nodes, nodePath)
	for _, raw := range clientData[:peers] {
		path, err := actor.ParsePath(raw)
		if err != nil {
			return err
		}
		nodes = append(nodes, path)
	}

	prepare := xsync.NewLatch()
	m.finished = xsync.NewLatch()

	coordinator := partitioning.NewCoordinator(m.initID, nodes, m.cfg.NumberOfKeys, prepare, m.finished)
	m.coordPath, err = m.system.Spawn(m.coordName, coordinator)
	if err != nil {
		return err
	}

	m.system.Tell(actor.Path{}, m.coordPath, partitioning.Start{}, nil)
	m.initID++

	if err := prepare.WaitTimeout(m.cfg.Timeout); err != nil {
		return fmt.Errorf("iteration was not prepared: %w", err)
	}
	return nil
}

func (m *masterBench) RunIteration() error {
	m.system.Tell(actor.Path{}, m.coordPath, partitioning.Run{}, nil)

	if err := m.finished.WaitTimeout(m.cfg.Timeout); err != nil {
		return fmt.Errorf("iteration did not finish: %w", err)
	}
	return nil
}

func (m *masterBench) CleanupIteration(last bool) error {
	m.system.Stop(m.coordName)
	m.system.Stop(m.nodeName)
	if m.useBroadcaster {
		m.system.Stop(m.bcastName)
	}

	if last {
		if err := m.system.Close(); err != nil {
			return err
		}
		m.system = nil
	}
	return nil
}

// clientBench hosts one register node that persists across iterations; each
// Init re-initializes it for the new epoch.
type clientBench struct {
	useBroadcaster bool
	actorCfg       *actor.Config
	log            *zap.SugaredLogger

	system *actor.System
}

const (
	clientNodeName  = "atomicreg"
	clientBcastName = "bcast"
)

func (m *clientBench) Setup(conf string) (string, error) {
	read, write, err := parseClientConf(conf)
	if err != nil {
		return "", err
	}

	system, err := newRegisterSystem(m.actorCfg, m.log)
	if err != nil {
		return "", err
	}

	var node *Node
	if m.useBroadcaster {
		bcastPath, err := system.Spawn(clientBcastName, NewBroadcaster())
		if err != nil {
			system.Close()
			return "", err
		}
		node = NewNodeWithBroadcaster(read, write, bcastPath)
	} else {
		node = NewNode(read, write)
	}

	nodePath, err := system.Spawn(clientNodeName, node)
	if err != nil {
		system.Close()
		return "", err
	}

	m.system = system
	m.log.Infow("register node ready", zap.Stringer("path", nodePath))
	return nodePath.String(), nil
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

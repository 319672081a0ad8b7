// Package harness runs distributed benchmarks: a master orchestrates
// checked-in clients through repeated setup → prepare → run → cleanup
// iterations and aggregates the timings.
package harness

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// Config is the parameter set of one benchmark invocation.
type Config struct {
	// ReadWorkload and WriteWorkload are the per-key operation shares;
	// their sum must stay within [0, 1].
	ReadWorkload  float32 `yaml:"read_workload"`
	WriteWorkload float32 `yaml:"write_workload"`
	// PartitionSize is the number of peers participating in an iteration,
	// the master's own node included.
	PartitionSize uint32 `yaml:"partition_size"`
	// NumberOfKeys is the size of the key space every peer replicates.
	NumberOfKeys uint64 `yaml:"number_of_keys"`
	// MessageCount is the round-trip count for message-exchange benchmarks.
	MessageCount uint64 `yaml:"message_count"`
	// Timeout bounds every iteration barrier.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default benchmark parameters.
func DefaultConfig() Config {
	return Config{
		ReadWorkload:  0.5,
		WriteWorkload: 0.5,
		PartitionSize: 3,
		NumberOfKeys:  1000,
		MessageCount:  10000,
		Timeout:       30 * time.Second,
	}
}

// Validate rejects parameter sets no benchmark may run with.
func (m *Config) Validate() error {
	if m.ReadWorkload < 0 || m.WriteWorkload < 0 {
		return fmt.Errorf("workloads must be non-negative, got read=%v write=%v",
			m.ReadWorkload, m.WriteWorkload)
	}
	if sum := m.ReadWorkload + m.WriteWorkload; sum > 1 {
		return fmt.Errorf("read and write workloads must sum to at most 1, got %v", sum)
	}
	if m.PartitionSize < 1 {
		return fmt.Errorf("partition size must be at least 1, got %d", m.PartitionSize)
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("iteration timeout must be positive, got %s", m.Timeout)
	}
	return nil
}

// MasterBench is the master side of a distributed benchmark. One instance
// covers one benchmark run; iterations repeat prepare → run → cleanup.
type MasterBench interface {
	// Setup validates the parameters and allocates run-wide resources.
	// The returned string configures the clients.
	Setup(cfg Config) (clientConf string, err error)
	// PrepareIteration receives the clients' data (one entry per checked-in
	// client) and blocks until every peer acknowledged the iteration setup.
	PrepareIteration(clientData []string) error
	// RunIteration triggers the workload and blocks until every peer
	// reported completion.
	RunIteration() error
	// CleanupIteration tears down per-iteration state; when last is set it
	// also releases the run-wide resources.
	CleanupIteration(last bool) error
}

// ClientBench is the client side of a distributed benchmark; it persists
// across the iterations of one run.
type ClientBench interface {
	// Setup allocates the client's resources and returns its data (for the
	// register benchmarks: the routable path of the spawned node).
	Setup(clientConf string) (clientData string, err error)
	// PrepareIteration runs before each iteration.
	PrepareIteration() error
	// CleanupIteration runs after each iteration; last releases everything.
	CleanupIteration(last bool) error
}

// Benchmark ties a label to the two sides' factories. Every iteration gets
// freshly constructed master-side actors; client-side state persists and is
// re-initialized through the protocol itself.
type Benchmark interface {
	Label() string
	NewMaster() MasterBench
	NewClient() ClientBench
}

// Registry is the process-wide benchmark catalog.
type Registry struct {
	mu      sync.RWMutex
	benches map[string]Benchmark
}

func NewRegistry() *Registry {
	return &Registry{benches: map[string]Benchmark{}}
}

func (m *Registry) Register(b Benchmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.benches[b.Label()]; ok {
		return fmt.Errorf("benchmark %q is already registered", b.Label())
	}
	m.benches[b.Label()] = b
	return nil
}

func (m *Registry) Get(label string) (Benchmark, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.benches[label]
	return b, ok
}

// Match returns the benchmarks whose labels match the glob pattern, in
// label order.
func (m *Registry) Match(pattern string) ([]Benchmark, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid benchmark pattern %q: %w", pattern, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Benchmark, 0, len(m.benches))
	for label, b := range m.benches {
		if g.Match(label) {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Label() < matched[j].Label()
	})
	return matched, nil
}

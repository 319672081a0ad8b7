package actor

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/common/logging"
)

// Config is the configuration of an actor system.
type Config struct {
	// ListenAddr is the address the transport listener binds to. Port 0
	// picks a free port; the resolved address becomes part of every actor
	// path spawned by the system.
	ListenAddr string `yaml:"listen_addr"`
	// MaxFrameSize bounds a single wire frame. Oversized outbound frames
	// are dropped; an oversized inbound frame closes the connection it
	// arrived on.
	MaxFrameSize datasize.ByteSize `yaml:"max_frame_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:0",
		MaxFrameSize: datasize.MB,
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Option is a function that configures the actor system.
type Option func(*options)

// WithLog sets the logger for the actor system.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// System owns the actors of one process-side endpoint: a name registry, the
// serializer registry and the transport listener. Actors of different
// systems, in or across processes, interact only through messages.
type System struct {
	cfg  *Config
	log  *zap.SugaredLogger
	addr string

	listener net.Listener

	mu          sync.RWMutex
	actors      map[string]*mailbox
	serializers map[uint64]Serializer

	connMu  sync.Mutex
	peers   map[string]*peerConn
	inbound []net.Conn

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewSystem starts an actor system: the transport listener is bound
// immediately so that Addr is routable before any actor is spawned.
func NewSystem(cfg *Config, options ...Option) (*System, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind transport listener: %w", err)
	}

	m := &System{
		cfg:         cfg,
		log:         opts.Log,
		addr:        listener.Addr().String(),
		listener:    listener,
		actors:      map[string]*mailbox{},
		serializers: map[uint64]Serializer{},
		peers:       map[string]*peerConn{},
		closed:      make(chan struct{}),
	}

	m.log.Debugw("actor system listening", zap.String("addr", m.addr))

	m.wg.Add(1)
	go m.acceptLoop()

	return m, nil
}

// Addr returns the routable transport address of the system.
func (m *System) Addr() string {
	return m.addr
}

// Path builds the path an actor named name would have in this system.
func (m *System) Path(name string) Path {
	return Path{Addr: m.addr, Name: name}
}

// RegisterSerializer adds ser to the inbound routing table.
func (m *System) RegisterSerializer(ser Serializer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.serializers[ser.ID()]; ok {
		return fmt.Errorf("serializer id %d is already registered", ser.ID())
	}
	m.serializers[ser.ID()] = ser
	return nil
}

// Spawn registers r under name and starts its mailbox goroutine.
func (m *System) Spawn(name string, r Receiver) (Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.actors[name]; ok {
		return Path{}, fmt.Errorf("actor %q is already spawned", name)
	}

	mb := newMailbox()
	m.actors[name] = mb

	ctx := &Context{
		system: m,
		self:   m.Path(name),
		log:    logging.Named(m.log, name),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		mb.run(ctx, r)
	}()

	return ctx.self, nil
}

// Stop deregisters the named actor and terminates its mailbox goroutine.
// Messages sent to the name afterwards are dropped.
func (m *System) Stop(name string) {
	m.mu.Lock()
	mb, ok := m.actors[name]
	delete(m.actors, name)
	m.mu.Unlock()

	if ok {
		mb.stop()
	}
}

// Tell routes payload from from to to. Local destinations are delivered
// through their mailbox; remote destinations are framed and written to the
// destination system's connection. Sends never block the caller.
//
// A nil serializer marks a local-only message: it is delivered as-is and
// refused for remote destinations. With a serializer, local delivery still
// round-trips the payload through the codec so the receiver owns an
// independent copy and the encoding stays exercised.
func (m *System) Tell(from, to Path, payload any, ser Serializer) {
	if m.isClosed() {
		return
	}

	if to.Addr == m.addr {
		if ser == nil {
			m.deliver(to.Name, Message{Sender: from, Payload: payload})
			return
		}

		buf := bytes.Buffer{}
		if err := ser.Marshal(payload, &buf); err != nil {
			m.log.Errorw("failed to marshal local message",
				zap.Uint64("serid", ser.ID()),
				zap.Stringer("to", to),
				zap.Error(err),
			)
			return
		}
		decoded, err := ser.Unmarshal(bytes.NewReader(buf.Bytes()))
		if err != nil {
			m.log.Errorw("failed to unmarshal local message",
				zap.Uint64("serid", ser.ID()),
				zap.Stringer("to", to),
				zap.Error(err),
			)
			return
		}
		m.deliver(to.Name, Message{Sender: from, Payload: decoded})
		return
	}

	if ser == nil {
		m.log.Errorw("local-only message cannot be sent to a remote peer",
			zap.Stringer("to", to),
		)
		return
	}

	frame, err := encodeFrame(ser, from, to, payload, int(m.cfg.MaxFrameSize.Bytes()))
	if err != nil {
		m.log.Errorw("failed to encode frame",
			zap.Uint64("serid", ser.ID()),
			zap.Stringer("to", to),
			zap.Error(err),
		)
		return
	}

	m.peer(to.Addr).enqueue(frame)
}

func (m *System) deliver(name string, msg Message) {
	m.mu.RLock()
	mb, ok := m.actors[name]
	m.mu.RUnlock()

	if !ok {
		m.log.Debugw("dropping message for unknown actor", zap.String("actor", name))
		return
	}
	mb.push(msg)
}

func (m *System) serializer(id uint64) (Serializer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ser, ok := m.serializers[id]
	return ser, ok
}

// Close stops the listener, every actor and every connection.
func (m *System) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.listener.Close()

		m.mu.Lock()
		for name, mb := range m.actors {
			delete(m.actors, name)
			mb.stop()
		}
		m.mu.Unlock()

		m.connMu.Lock()
		for addr, peer := range m.peers {
			delete(m.peers, addr)
			peer.stop()
		}
		for _, conn := range m.inbound {
			conn.Close()
		}
		m.inbound = nil
		m.connMu.Unlock()
	})

	m.wg.Wait()
	return nil
}

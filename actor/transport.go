package actor

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Wire frame, length-prefixed:
//
//	len:u32 | ser_id:u64 | sender addr | sender name | dest name | payload
//
// Strings are u16-length-prefixed UTF-8; len counts everything after itself.
// One TCP connection carries all frames from one system to one destination
// address, in send order, which yields the FIFO-per-pair delivery guarantee.

const dialTimeout = 5 * time.Second

var errFrameTooLarge = errors.New("frame exceeds the configured size limit")

func putString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string of %d bytes does not fit a u16 length prefix", len(s))
	}
	var pfx [2]byte
	binary.BigEndian.PutUint16(pfx[:], uint16(len(s)))
	buf.Write(pfx[:])
	buf.WriteString(s)
	return nil
}

func getString(r *bytes.Reader) (string, error) {
	var pfx [2]byte
	if _, err := io.ReadFull(r, pfx[:]); err != nil {
		return "", err
	}
	raw := make([]byte, binary.BigEndian.Uint16(pfx[:]))
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeFrame(ser Serializer, from, to Path, payload any, maxSize int) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.Write(make([]byte, 4)) // length, patched below

	var serID [8]byte
	binary.BigEndian.PutUint64(serID[:], ser.ID())
	buf.Write(serID[:])

	if err := putString(&buf, from.Addr); err != nil {
		return nil, err
	}
	if err := putString(&buf, from.Name); err != nil {
		return nil, err
	}
	if err := putString(&buf, to.Name); err != nil {
		return nil, err
	}

	if err := ser.Marshal(payload, &buf); err != nil {
		return nil, err
	}

	frame := buf.Bytes()
	if len(frame) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", errFrameTooLarge, len(frame), maxSize)
	}
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))
	return frame, nil
}

// peerConn is the outbound leg towards one destination address. Frames are
// queued and written by a single goroutine; a write failure drops the
// connection and whatever was still queued (crash-stop, no retry).
type peerConn struct {
	system *System
	addr   string

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
	quit    chan struct{}

	stopOnce sync.Once
}

func (m *System) peer(addr string) *peerConn {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if peer, ok := m.peers[addr]; ok {
		return peer
	}

	if m.isClosed() {
		// Shutting down: hand out an inert connection that drops frames.
		peer := &peerConn{system: m, addr: addr, quit: make(chan struct{})}
		peer.stop()
		return peer
	}

	peer := &peerConn{
		system: m,
		addr:   addr,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	m.peers[addr] = peer

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		peer.writeLoop()
	}()

	return peer
}

func (m *System) dropPeer(peer *peerConn) {
	m.connMu.Lock()
	if m.peers[peer.addr] == peer {
		delete(m.peers, peer.addr)
	}
	m.connMu.Unlock()

	peer.stop()
}

func (m *peerConn) enqueue(frame []byte) {
	m.mu.Lock()
	m.pending = append(m.pending, frame)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *peerConn) next() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil, false
	}
	frame := m.pending[0]
	m.pending = m.pending[1:]
	return frame, true
}

func (m *peerConn) stop() {
	m.stopOnce.Do(func() { close(m.quit) })
}

func (m *peerConn) writeLoop() {
	log := m.system.log.With(zap.String("peer", m.addr))

	conn, err := net.DialTimeout("tcp", m.addr, dialTimeout)
	if err != nil {
		log.Errorw("failed to dial peer", zap.Error(err))
		m.system.dropPeer(m)
		return
	}
	defer conn.Close()

	go func() {
		<-m.quit
		conn.Close()
	}()

	bw := bufio.NewWriter(conn)
	for {
		frame, ok := m.next()
		if !ok {
			if err := bw.Flush(); err != nil {
				log.Errorw("failed to flush frames", zap.Error(err))
				m.system.dropPeer(m)
				return
			}
			select {
			case <-m.quit:
				return
			case <-m.wake:
			}
			continue
		}

		if _, err := bw.Write(frame); err != nil {
			log.Errorw("failed to write frame", zap.Error(err))
			m.system.dropPeer(m)
			return
		}
	}
}

// acceptLoop owns the listener: every inbound connection gets a reader
// goroutine that decodes frames and pushes them into local mailboxes.
func (m *System) acceptLoop() {
	defer m.wg.Done()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			m.log.Errorw("transport accept failed", zap.Error(err))
			return
		}

		m.connMu.Lock()
		m.inbound = append(m.inbound, conn)
		m.connMu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.readLoop(conn)
		}()
	}
}

func (m *System) readLoop(conn net.Conn) {
	defer conn.Close()

	log := m.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	maxSize := m.cfg.MaxFrameSize.Bytes()

	br := bufio.NewReader(conn)
	for {
		var lenPfx [4]byte
		if _, err := io.ReadFull(br, lenPfx[:]); err != nil {
			if !errors.Is(err, io.EOF) && !m.isClosed() {
				log.Warnw("failed to read frame length", zap.Error(err))
			}
			return
		}

		size := binary.BigEndian.Uint32(lenPfx[:])
		if uint64(size) > maxSize {
			log.Errorw("dropping connection with oversized frame",
				zap.Uint32("size", size),
			)
			return
		}

		raw := make([]byte, size)
		if _, err := io.ReadFull(br, raw); err != nil {
			if !m.isClosed() {
				log.Warnw("failed to read frame body", zap.Error(err))
			}
			return
		}

		m.dispatchFrame(raw, log)
	}
}

// dispatchFrame decodes one frame body and delivers the payload. Malformed
// frames are logged and dropped; they never tear down the state of the
// destination actor.
func (m *System) dispatchFrame(raw []byte, log *zap.SugaredLogger) {
	r := bytes.NewReader(raw)

	var serID [8]byte
	if _, err := io.ReadFull(r, serID[:]); err != nil {
		log.Warnw("dropping frame without serializer id", zap.Error(err))
		return
	}
	id := binary.BigEndian.Uint64(serID[:])

	senderAddr, err := getString(r)
	if err != nil {
		log.Warnw("dropping frame with malformed sender address", zap.Error(err))
		return
	}
	senderName, err := getString(r)
	if err != nil {
		log.Warnw("dropping frame with malformed sender name", zap.Error(err))
		return
	}
	destName, err := getString(r)
	if err != nil {
		log.Warnw("dropping frame with malformed destination", zap.Error(err))
		return
	}

	ser, ok := m.serializer(id)
	if !ok {
		log.Warnw("dropping frame with unknown serializer id", zap.Uint64("serid", id))
		return
	}

	payload, err := ser.Unmarshal(r)
	if err != nil {
		log.Warnw("dropping undecodable payload",
			zap.Uint64("serid", id),
			zap.Error(err),
		)
		return
	}

	m.deliver(destName, Message{
		Sender:  Path{Addr: senderAddr, Name: senderName},
		Payload: payload,
	})
}

func (m *System) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

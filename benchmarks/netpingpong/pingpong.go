// Package netpingpong is a minimal two-actor benchmark: a pinger round-trips
// a fixed number of messages against a remote ponger. It exercises the
// transport and serializer registry without any replication logic.
package netpingpong

import (
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/common/xsync"
	"github.com/distbench-platform/distbench/serids"
)

// Ping is the request leg of one round trip.
type Ping struct{}

// Pong is the reply leg of one round trip.
type Pong struct{}

// Start begins an iteration's round trips. Local-only message.
type Start struct{}

// PingCodec frames Ping; the message carries no payload.
type PingCodec struct{}

func (PingCodec) ID() uint64 {
	return serids.Ping
}

func (PingCodec) Marshal(msg any, _ *bytes.Buffer) error {
	if _, ok := msg.(Ping); !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	return nil
}

func (PingCodec) Unmarshal(r *bytes.Reader) (any, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return Ping{}, nil
}

// PongCodec frames Pong; the message carries no payload.
type PongCodec struct{}

func (PongCodec) ID() uint64 {
	return serids.Pong
}

func (PongCodec) Marshal(msg any, _ *bytes.Buffer) error {
	if _, ok := msg.(Pong); !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	return nil
}

func (PongCodec) Unmarshal(r *bytes.Reader) (any, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return Pong{}, nil
}

// Pinger sends count pings, one at a time, and releases the latch when the
// last pong arrives.
type Pinger struct {
	count     uint64
	countDown uint64
	ponger    actor.Path
	done      *xsync.Latch
}

func NewPinger(count uint64, ponger actor.Path, done *xsync.Latch) *Pinger {
	return &Pinger{
		count:     count,
		countDown: count,
		ponger:    ponger,
		done:      done,
	}
}

func (m *Pinger) Receive(ctx *actor.Context, msg actor.Message) {
	switch msg.Payload.(type) {
	case Start:
		if m.countDown == 0 {
			m.done.Release()
			return
		}
		ctx.Tell(m.ponger, Ping{}, PingCodec{})
	case Pong:
		m.countDown--
		if m.countDown == 0 {
			m.done.Release()
			return
		}
		ctx.Tell(m.ponger, Ping{}, PingCodec{})
	default:
		ctx.Log().Warnw("unexpected message", zap.Any("payload", msg.Payload))
	}
}

// Ponger answers every ping with a pong.
type Ponger struct{}

func NewPonger() *Ponger {
	return &Ponger{}
}

func (m *Ponger) Receive(ctx *actor.Context, msg actor.Message) {
	switch msg.Payload.(type) {
	case Ping:
		ctx.Reply(msg, Pong{}, PongCodec{})
	default:
		ctx.Log().Warnw("unexpected message", zap.Any("payload", msg.Payload))
	}
}

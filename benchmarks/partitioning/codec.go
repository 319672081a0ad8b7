// Package partitioning contains the per-iteration coordinator of a
// distributed benchmark: it assigns ranks and key ranges to the
// participating peers and synchronizes iteration start and completion.
package partitioning

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/serids"
)

// Init assigns a peer its rank and key range for the iteration identified by
// InitID, along with the full ordered membership.
type Init struct {
	InitID uint32
	Rank   uint32
	MinKey uint64
	MaxKey uint64
	Nodes  []actor.Path
}

// InitAck echoes the run id of the Init a peer finished preparing for.
type InitAck struct {
	RunID uint32
}

// Run starts the iteration's workload.
type Run struct{}

// Done reports that a peer completed all of its operations.
type Done struct{}

const (
	initTag    int8 = 1
	initAckTag int8 = 2
	runTag     int8 = 3
	doneTag    int8 = 4
)

// ErrInvalidType is returned when a buffer does not start with a known
// message discriminator.
var ErrInvalidType = errors.New("unknown partitioning message discriminator")

// Codec is the wire codec of the coordinator messages: a single-byte
// discriminator followed by fixed-width big-endian fields, with
// u16-length-prefixed strings inside the membership list.
type Codec struct{}

func (Codec) ID() uint64 {
	return serids.Partitioning
}

func (Codec) Marshal(msg any, buf *bytes.Buffer) error {
	switch v := msg.(type) {
	case Init:
		buf.WriteByte(byte(initTag))
		putU32(buf, v.InitID)
		putU32(buf, v.Rank)
		putU64(buf, v.MinKey)
		putU64(buf, v.MaxKey)
		if len(v.Nodes) > math.MaxUint32 {
			return fmt.Errorf("membership of %d peers does not fit the wire format", len(v.Nodes))
		}
		putU32(buf, uint32(len(v.Nodes)))
		for _, node := range v.Nodes {
			if err := putString(buf, node.Addr); err != nil {
				return err
			}
			if err := putString(buf, node.Name); err != nil {
				return err
			}
		}
		return nil
	case InitAck:
		buf.WriteByte(byte(initAckTag))
		putU32(buf, v.RunID)
		return nil
	case Run:
		buf.WriteByte(byte(runTag))
		return nil
	case Done:
		buf.WriteByte(byte(doneTag))
		return nil
	default:
		return fmt.Errorf("unexpected partitioning message type %T", msg)
	}
}

func (Codec) Unmarshal(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read discriminator: %w", err)
	}

	switch int8(tag) {
	case initTag:
		var msg Init
		if msg.InitID, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.Rank, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.MinKey, err = getU64(r); err != nil {
			return nil, err
		}
		if msg.MaxKey, err = getU64(r); err != nil {
			return nil, err
		}
		count, err := getU32(r)
		if err != nil {
			return nil, err
		}
		msg.Nodes = make([]actor.Path, 0, count)
		for range count {
			addr, err := getString(r)
			if err != nil {
				return nil, err
			}
			name, err := getString(r)
			if err != nil {
				return nil, err
			}
			msg.Nodes = append(msg.Nodes, actor.Path{Addr: addr, Name: name})
		}
		return msg, nil
	case initAckTag:
		runID, err := getU32(r)
		if err != nil {
			return nil, err
		}
		return InitAck{RunID: runID}, nil
	case runTag:
		return Run{}, nil
	case doneTag:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, int8(tag))
	}
}

func putU32(buf *bytes.Buffer, v uint32) {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], v)
	buf.Write(raw[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], v)
	buf.Write(raw[:])
}

func getU32(r *bytes.Reader) (uint32, error) {
	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw[:]), nil
}

func getU64(r *bytes.Reader) (uint64, error) {
	var raw [8]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw[:]), nil
}

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

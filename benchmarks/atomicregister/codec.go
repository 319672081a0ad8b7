// Package atomicregister implements a linearizable multi-writer multi-reader
// register replicated over majority quorums, keyed so that many independent
// register instances share one node. Reads follow read-impose-write-consult-
// majority, with the write-back skipped when the first quorum of replies is
// unanimous on the timestamp.
package atomicregister

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/distbench-platform/distbench/serids"
)

// Read opens the read phase of an operation on one key.
type Read struct {
	RunID uint32
	Key   uint64
	Rid   uint32
}

// Write asks a peer to adopt a tagged value; it is acknowledged even when
// the peer's stored tag is already greater.
type Write struct {
	RunID uint32
	Key   uint64
	Rid   uint32
	Ts    uint32
	Wr    uint32
	Value uint32
}

// Value is a peer's reply to Read, carrying its stored tag and value.
// SenderRank keys the reply in the reader's quorum bookkeeping.
type Value struct {
	RunID      uint32
	Key        uint64
	Rid        uint32
	Ts         uint32
	Wr         uint32
	Value      uint32
	SenderRank uint32
}

// Ack acknowledges a Write.
type Ack struct {
	RunID uint32
	Key   uint64
	Rid   uint32
}

const (
	readTag  int8 = 1
	writeTag int8 = 2
	valueTag int8 = 3
	ackTag   int8 = 4
)

// sizeHint is the encoded size of the largest message (Value).
const sizeHint = 33

// ErrInvalidType is returned when a buffer does not start with one of the
// four known discriminators.
var ErrInvalidType = errors.New("unknown register message discriminator")

// Codec is the bit-exact wire codec of the register protocol: a single
// signed discriminator byte followed by fixed-width big-endian fields.
// Read and Ack encode to 17 bytes, Write to 29, Value to 33.
type Codec struct{}

func (Codec) ID() uint64 {
	return serids.AtomicRegister
}

func (Codec) Marshal(msg any, buf *bytes.Buffer) error {
	buf.Grow(sizeHint)

	switch v := msg.(type) {
	case Read:
		buf.WriteByte(byte(readTag))
		putU32(buf, v.RunID)
		putU64(buf, v.Key)
		putU32(buf, v.Rid)
	case Write:
		buf.WriteByte(byte(writeTag))
		putU32(buf, v.RunID)
		putU64(buf, v.Key)
		putU32(buf, v.Rid)
		putU32(buf, v.Ts)
		putU32(buf, v.Wr)
		putU32(buf, v.Value)
	case Value:
		buf.WriteByte(byte(valueTag))
		putU32(buf, v.RunID)
		putU64(buf, v.Key)
		putU32(buf, v.Rid)
		putU32(buf, v.Ts)
		putU32(buf, v.Wr)
		putU32(buf, v.Value)
		putU32(buf, v.SenderRank)
	case Ack:
		buf.WriteByte(byte(ackTag))
		putU32(buf, v.RunID)
		putU64(buf, v.Key)
		putU32(buf, v.Rid)
	default:
		return fmt.Errorf("unexpected register message type %T", msg)
	}
	return nil
}

func (Codec) Unmarshal(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read discriminator: %w", err)
	}

	switch int8(tag) {
	case readTag:
		var msg Read
		if msg.RunID, msg.Key, msg.Rid, err = getHeader(r); err != nil {
			return nil, err
		}
		return msg, nil
	case writeTag:
		var msg Write
		if msg.RunID, msg.Key, msg.Rid, err = getHeader(r); err != nil {
			return nil, err
		}
		if msg.Ts, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.Wr, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.Value, err = getU32(r); err != nil {
			return nil, err
		}
		return msg, nil
	case valueTag:
		var msg Value
		if msg.RunID, msg.Key, msg.Rid, err = getHeader(r); err != nil {
			return nil, err
		}
		if msg.Ts, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.Wr, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.Value, err = getU32(r); err != nil {
			return nil, err
		}
		if msg.SenderRank, err = getU32(r); err != nil {
			return nil, err
		}
		return msg, nil
	case ackTag:
		var msg Ack
		if msg.RunID, msg.Key, msg.Rid, err = getHeader(r); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, int8(tag))
	}
}

// getHeader reads the run_id/key/rid prefix shared by all four messages.
func getHeader(r *bytes.Reader) (runID uint32, key uint64, rid uint32, err error) {
	if runID, err = getU32(r); err != nil {
		return 0, 0, 0, err
	}
	if key, err = getU64(r); err != nil {
		return 0, 0, 0, err
	}
	if rid, err = getU32(r); err != nil {
		return 0, 0, 0, err
	}
	return runID, key, rid, nil
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

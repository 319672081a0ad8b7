// Package benchpb contains the wire types of the master/client control
// plane. The schema is tiny and stable, so the proto3 encoding is maintained
// by hand on top of protowire instead of a codegen step.
package benchpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every control-plane wire type.
type Message interface {
	MarshalPB() ([]byte, error)
	UnmarshalPB(data []byte) error
}

// ClientInfo announces a client's callback endpoint to the master.
type ClientInfo struct {
	Address string // field 1
	Port    uint32 // field 2
}

func (m *ClientInfo) MarshalPB() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Address)
	b = appendVarint(b, 2, uint64(m.Port))
	return b, nil
}

func (m *ClientInfo) UnmarshalPB(data []byte) error {
	*m = ClientInfo{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			m.Address = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			m.Port = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

// CheckinResponse acknowledges a check-in.
type CheckinResponse struct{}

func (m *CheckinResponse) MarshalPB() ([]byte, error) { return nil, nil }

func (m *CheckinResponse) UnmarshalPB(data []byte) error {
	return consumeUnknown(data)
}

// SetupConfig selects a benchmark by label and carries its client
// configuration string.
type SetupConfig struct {
	Label string // field 1
	Data  string // field 2
}

func (m *SetupConfig) MarshalPB() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Label)
	b = appendString(b, 2, m.Data)
	return b, nil
}

func (m *SetupConfig) UnmarshalPB(data []byte) error {
	*m = SetupConfig{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			m.Label = v
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			m.Data = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

// SetupResponse reports the client's setup outcome; Data carries its client
// data on success and the failure reason otherwise.
type SetupResponse struct {
	Success bool   // field 1
	Data    string // field 2
}

func (m *SetupResponse) MarshalPB() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.Success)
	b = appendString(b, 2, m.Data)
	return b, nil
}

func (m *SetupResponse) UnmarshalPB(data []byte) error {
	*m = SetupResponse{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			m.Success = v != 0
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			m.Data = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

// CleanupInfo runs after an iteration; Final marks the last one of the run.
type CleanupInfo struct {
	Final bool // field 1
}

func (m *CleanupInfo) MarshalPB() ([]byte, error) {
	return appendBool(nil, 1, m.Final), nil
}

func (m *CleanupInfo) UnmarshalPB(data []byte) error {
	*m = CleanupInfo{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			m.Final = v != 0
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

// CleanupResponse acknowledges a cleanup.
type CleanupResponse struct{}

func (m *CleanupResponse) MarshalPB() ([]byte, error) { return nil, nil }

func (m *CleanupResponse) UnmarshalPB(data []byte) error {
	return consumeUnknown(data)
}

// ShutdownRequest asks a client to exit after the current work, or
// immediately when Force is set.
type ShutdownRequest struct {
	Force bool // field 1
}

func (m *ShutdownRequest) MarshalPB() ([]byte, error) {
	return appendBool(nil, 1, m.Force), nil
}

func (m *ShutdownRequest) UnmarshalPB(data []byte) error {
	*m = ShutdownRequest{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			m.Force = v != 0
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

// ShutdownAck acknowledges a shutdown request.
type ShutdownAck struct{}

func (m *ShutdownAck) MarshalPB() ([]byte, error) { return nil, nil }

func (m *ShutdownAck) UnmarshalPB(data []byte) error {
	return consumeUnknown(data)
}

// appendString emits a bytes-typed field; empty strings are omitted, as
// proto3 does for zero values.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

// consumeFields walks the field stream, delegating known fields to handle,
// which returns the consumed byte count (negative on parse failure).
func consumeFields(data []byte, handle func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("malformed field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		n, err := handle(num, typ, data)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

// consumeUnknown validates the encoding of a message whose fields are all
// ignorable.
func consumeUnknown(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

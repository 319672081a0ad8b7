package actor

import "bytes"

// Serializer encodes and decodes one family of wire messages. Inbound frames
// carry the serializer ID so the receiving system can route the payload bytes
// to the codec both sides agreed on.
type Serializer interface {
	// ID is the process-wide serializer identifier. It must be stable
	// across every peer of a deployment.
	ID() uint64

	// Marshal appends the wire encoding of msg to buf.
	Marshal(msg any, buf *bytes.Buffer) error

	// Unmarshal decodes a single message from r.
	Unmarshal(r *bytes.Reader) (any, error)
}

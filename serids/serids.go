// Package serids holds the process-wide serializer identifiers used to route
// inbound frames to the correct codec. The numeric values must be identical
// on every peer of a deployment.
package serids

const (
	// Partitioning covers the coordinator control messages
	// (Init, InitAck, Run, Done).
	Partitioning uint64 = 45

	// AtomicRegister covers the replicated register protocol messages
	// (Read, Write, Value, Ack).
	AtomicRegister uint64 = 46

	Ping uint64 = 50
	Pong uint64 = 51
)

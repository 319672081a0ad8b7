package actor

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// textSer frames plain strings; enough to drive the transport end to end.
type textSer struct{}

func (textSer) ID() uint64 { return 7001 }

func (textSer) Marshal(msg any, buf *bytes.Buffer) error {
	s, ok := msg.(string)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	buf.WriteString(s)
	return nil
}

func (textSer) Unmarshal(r *bytes.Reader) (any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// capture forwards every delivered message to a channel for assertions.
type capture struct {
	rx chan Message
}

func newCapture() *capture {
	return &capture{rx: make(chan Message, 128)}
}

func (m *capture) Receive(_ *Context, msg Message) {
	m.rx <- msg
}

func (m *capture) wait(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-m.rx:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return Message{}
	}
}

func newTestSystem(t *testing.T) *System {
	t.Helper()

	system, err := NewSystem(DefaultConfig(), WithLog(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	t.Cleanup(func() { system.Close() })

	require.NoError(t, system.RegisterSerializer(textSer{}))
	return system
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("[::1]:4123/atomicreg0")
	require.NoError(t, err)
	assert.Equal(t, Path{Addr: "[::1]:4123", Name: "atomicreg0"}, p)
	assert.Equal(t, "[::1]:4123/atomicreg0", p.String())

	for _, raw := range []string{"", "noslash", "/name", "addr/"} {
		_, err := ParsePath(raw)
		require.Error(t, err, "path %q must not parse", raw)
	}
}

func TestLocalDelivery(t *testing.T) {
	system := newTestSystem(t)

	sink := newCapture()
	to, err := system.Spawn("sink", sink)
	require.NoError(t, err)

	from := system.Path("driver")
	system.Tell(from, to, "hello", textSer{})

	msg := sink.wait(t)
	assert.Equal(t, from, msg.Sender)
	assert.Equal(t, "hello", msg.Payload)
}

func TestLocalDeliveryFIFO(t *testing.T) {
	system := newTestSystem(t)

	sink := newCapture()
	to, err := system.Spawn("sink", sink)
	require.NoError(t, err)

	const total = 200
	for i := range total {
		system.Tell(system.Path("driver"), to, fmt.Sprintf("msg-%d", i), textSer{})
	}

	for i := range total {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), sink.wait(t).Payload)
	}
}

func TestRemoteDelivery(t *testing.T) {
	left := newTestSystem(t)
	right := newTestSystem(t)

	sink := newCapture()
	to, err := right.Spawn("sink", sink)
	require.NoError(t, err)

	from := left.Path("driver")
	const total = 50
	for i := range total {
		left.Tell(from, to, fmt.Sprintf("msg-%d", i), textSer{})
	}

	for i := range total {
		msg := sink.wait(t)
		assert.Equal(t, from, msg.Sender, "sender identity must survive the wire")
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Payload, "per-pair order must survive the wire")
	}
}

func TestTellAsOverridesSender(t *testing.T) {
	left := newTestSystem(t)
	right := newTestSystem(t)

	sink := newCapture()
	to, err := right.Spawn("sink", sink)
	require.NoError(t, err)

	impersonated := left.Path("owner")
	left.Tell(impersonated, to, "fan-out", textSer{})

	msg := sink.wait(t)
	assert.Equal(t, impersonated, msg.Sender)
}

func TestLocalOnlyMessageStaysTyped(t *testing.T) {
	system := newTestSystem(t)

	type control struct{ n int }

	sink := newCapture()
	to, err := system.Spawn("sink", sink)
	require.NoError(t, err)

	system.Tell(Path{}, to, control{n: 42}, nil)
	assert.Equal(t, control{n: 42}, sink.wait(t).Payload)
}

func TestStopDropsSubsequentMessages(t *testing.T) {
	system := newTestSystem(t)

	sink := newCapture()
	to, err := system.Spawn("sink", sink)
	require.NoError(t, err)

	system.Tell(system.Path("driver"), to, "before", textSer{})
	assert.Equal(t, "before", sink.wait(t).Payload)

	system.Stop("sink")
	system.Tell(system.Path("driver"), to, "after", textSer{})

	select {
	case msg := <-sink.rx:
		t.Fatalf("message %v delivered to a stopped actor", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSpawnDuplicateName(t *testing.T) {
	system := newTestSystem(t)

	_, err := system.Spawn("sink", newCapture())
	require.NoError(t, err)

	_, err = system.Spawn("sink", newCapture())
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	from := Path{Addr: "127.0.0.1:1000", Name: "a"}
	to := Path{Addr: "127.0.0.1:2000", Name: "b"}

	frame, err := encodeFrame(textSer{}, from, to, "payload", 1<<20)
	require.NoError(t, err)

	// The length prefix covers everything after itself.
	require.GreaterOrEqual(t, len(frame), 4)
	assert.Equal(t, len(frame)-4, int(uint32(frame[3])|uint32(frame[2])<<8|uint32(frame[1])<<16|uint32(frame[0])<<24))
}

func TestFrameSizeLimit(t *testing.T) {
	from := Path{Addr: "127.0.0.1:1000", Name: "a"}
	to := Path{Addr: "127.0.0.1:2000", Name: "b"}

	_, err := encodeFrame(textSer{}, from, to, "a very long payload", 8)
	require.ErrorIs(t, err, errFrameTooLarge)
}

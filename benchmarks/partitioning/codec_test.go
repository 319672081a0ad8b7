package partitioning

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/serids"
)

func encode(t *testing.T, msg any) []byte {
	t.Helper()

	buf := bytes.Buffer{}
	require.NoError(t, Codec{}.Marshal(msg, &buf))
	return buf.Bytes()
}

func TestCodecID(t *testing.T) {
	assert.Equal(t, serids.Partitioning, Codec{}.ID())
}

func TestCodecRoundTrip(t *testing.T) {
	messages := []any{
		Init{
			InitID: 3,
			Rank:   1,
			MinKey: 0,
			MaxKey: 999,
			Nodes: []actor.Path{
				{Addr: "127.0.0.1:7000", Name: "atomicreg0"},
				{Addr: "[::1]:7001", Name: "atomicreg1"},
			},
		},
		InitAck{RunID: 3},
		Run{},
		Done{},
	}

	for _, msg := range messages {
		decoded, err := Codec{}.Unmarshal(bytes.NewReader(encode(t, msg)))
		require.NoError(t, err)
		if diff := cmp.Diff(msg, decoded); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCodecEmptyMembership(t *testing.T) {
	decoded, err := Codec{}.Unmarshal(bytes.NewReader(encode(t, Init{InitID: 1, MinKey: 1})))
	require.NoError(t, err)

	init, ok := decoded.(Init)
	require.True(t, ok)
	assert.Empty(t, init.Nodes)
}

func TestCodecInvalidDiscriminator(t *testing.T) {
	_, err := Codec{}.Unmarshal(bytes.NewReader([]byte{0x2a}))
	require.ErrorIs(t, err, ErrInvalidType)
}

func TestCodecTruncatedInit(t *testing.T) {
	raw := encode(t, Init{
		InitID: 3,
		Nodes:  []actor.Path{{Addr: "127.0.0.1:7000", Name: "atomicreg0"}},
	})

	for cut := 1; cut < len(raw); cut++ {
		_, err := Codec{}.Unmarshal(bytes.NewReader(raw[:cut]))
		require.Error(t, err, "truncation to %d bytes must not decode", cut)
	}
}

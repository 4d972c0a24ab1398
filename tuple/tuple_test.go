package tuple

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializerPreservesAnchoring(t *testing.T) {
	s := NewJSONSerializer()

	in := Tuple{
		StreamID: "events",
		SrcTask:  3,
		Values:   Values{"alpha", float64(42)},
		RootID:   -913402,
	}
	data, err := s.Serialize(in)
	require.NoError(t, err)

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, in.StreamID, out.StreamID)
	assert.Equal(t, in.SrcTask, out.SrcTask)
	assert.Equal(t, in.RootID, out.RootID)
	assert.Equal(t, "alpha", out.Values[0])
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Deserialize([]byte("{not json"))
	require.Error(t, err)
}

func TestInfoTracked(t *testing.T) {
	assert.False(t, Info{}.Tracked())
	assert.True(t, Info{Timestamp: time.Now()}.Tracked())
}

func TestMsgVariantsAreClosedSet(t *testing.T) {
	// Every arm satisfies Msg; the executor's dispatch relies on this set.
	msgs := []Msg{
		TupleMsg{},
		AckMsg{},
		FailMsg{},
		ResetTimeoutMsg{},
		TickMsg{},
		FlushMsg{},
		MetricsTickMsg{},
		CredentialsMsg{},
		InterruptMsg{},
	}
	assert.Len(t, msgs, 9)
}

package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	message.Message
}

func (m *testMsg) Base() *message.Message { return &m.Message }
func (m *testMsg) Signature() string      { return "test:" + m.ID }

func msg(id string, depth int, system bool, ts time.Time) *testMsg {
	return &testMsg{Message: message.Message{
		Type:      "test",
		ID:        id,
		Depth:     depth,
		System:    system,
		Timestamp: ts,
	}}
}

func TestOrderingIsDepthThenPriorityThenAge(t *testing.T) {
	var q = NewMaster(10)
	var now = time.Now()

	q.Send(50, msg("deep-high", 2, false, now))
	q.Send(10, msg("deep-low", 2, false, now))
	q.Send(90, msg("shallow", 0, false, now))
	q.Send(50, msg("older", 1, false, now.Add(-time.Minute)))
	q.Send(50, msg("newer", 1, false, now))

	var got []string
	for {
		var _, env, ok = q.Receive()
		if !ok {
			break
		}
		got = append(got, env.Base().ID)
	}
	require.Equal(t, []string{"shallow", "older", "newer", "deep-low", "deep-high"}, got)
}

func TestSystemMessagesAlwaysPrecedeProcess(t *testing.T) {
	var q = NewMaster(10)
	var now = time.Now()

	q.Send(1, msg("process", 0, false, now))
	q.Send(99, msg("system", 5, true, now))

	var _, env, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, "system", env.Base().ID)

	_, env, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, "process", env.Base().ID)
}

func TestDepthCapDropsSilently(t *testing.T) {
	var q = NewMaster(2)

	q.Send(10, msg("ok", 2, false, time.Now()))
	q.Send(10, msg("dropped", 3, false, time.Now()))

	var system, process = q.Lens()
	require.Equal(t, 0, system)
	require.Equal(t, 1, process)

	var _, env, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, "ok", env.Base().ID)

	_, _, ok = q.Receive()
	require.False(t, ok)
}

func TestReceiveFromEmptyQueue(t *testing.T) {
	var q = NewMaster(10)
	var _, env, ok = q.Receive()
	require.False(t, ok)
	require.Nil(t, env)
}

func TestAgingPreservesRelativeOrder(t *testing.T) {
	var q = NewMaster(10)
	var now = time.Now()

	// Drive enough receives to cross the aging interval while two
	// messages sit queued; their relative order must survive the pass.
	q.Send(10, msg("first", 5, false, now))
	q.Send(20, msg("second", 5, false, now))

	for i := 0; i < agingInterval; i++ {
		q.Send(1, msg(fmt.Sprintf("filler-%d", i), 0, false, now))
		var _, env, ok = q.Receive()
		require.True(t, ok)
		require.Contains(t, env.Base().ID, "filler")
	}

	var _, env, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, "first", env.Base().ID)
	_, env, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, "second", env.Base().ID)
}
